package call

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/amigotalk/meshcall/internal/media"
)

// Media owns the local capture state: the microphone stream acquired on
// entry and the optional screen stream toggled during the call. It is the
// only component allowed to stop or replace local streams; the pool and
// links just attach them.
type Media struct {
	capture media.Capture
	emit    func(Event)
	log     zerolog.Logger

	mu     sync.Mutex
	pool   *Pool
	mic    *media.Source
	muted  bool
	screen *media.Source
}

// NewMedia builds the manager. SetPool must run before links are created.
func NewMedia(capture media.Capture, emit func(Event), log zerolog.Logger) *Media {
	return &Media{
		capture: capture,
		emit:    emit,
		log:     log.With().Str("component", "media").Logger(),
	}
}

// SetPool wires the connection pool in after construction; the two
// reference each other.
func (m *Media) SetPool(p *Pool) {
	m.mu.Lock()
	m.pool = p
	m.mu.Unlock()
}

// AcquireMic grabs the microphone. ErrMicUnavailable means the call
// proceeds without local audio; any other error is fatal for the join.
func (m *Media) AcquireMic(ctx context.Context) (*media.Source, error) {
	src, err := m.capture.Microphone(ctx)
	if err != nil {
		if errors.Is(err, media.ErrUnavailable) {
			return nil, NewError("acquire microphone", ErrMicUnavailable)
		}
		return nil, NewError("acquire microphone", err)
	}

	m.mu.Lock()
	m.mic = src
	m.mu.Unlock()
	return src, nil
}

// Muted reports the local mute state.
func (m *Media) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// ToggleMute flips the local mute state, swapping the mic track on every
// link, and returns the new state.
func (m *Media) ToggleMute() bool {
	m.mu.Lock()
	m.muted = !m.muted
	muted := m.muted
	pool := m.pool
	m.mu.Unlock()

	if pool != nil {
		pool.ForEachLink(func(l *Link) {
			l.SetAudioEnabled(!muted)
		})
	}
	return muted
}

// Sharing reports whether a local screen share is active.
func (m *Media) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// AttachTo lands the current local tracks on a new link: mic always, screen
// while sharing. Links created mid-share get the screen tracks the same way
// the original ones did.
func (m *Media) AttachTo(l *Link) {
	m.mu.Lock()
	mic := m.mic
	screen := m.screen
	muted := m.muted
	m.mu.Unlock()

	if mic != nil {
		for _, t := range mic.Tracks() {
			sender, err := l.pc.AddTrack(t)
			if err != nil {
				m.log.Error().Err(err).Str("peer", l.remoteID).Msg("attach mic track failed")
				continue
			}
			l.recordAudio(sender, t)
		}
		if muted {
			l.SetAudioEnabled(false)
		}
	}

	if screen != nil {
		m.attachScreenTo(l, screen)
	}
}

// StartScreen acquires the screen stream and fans its tracks out to every
// link. A source with no video track counts as a cancelled picker and stops
// immediately. The platform ending the capture on its own converges on the
// same stop routine.
func (m *Media) StartScreen(ctx context.Context) error {
	m.mu.Lock()
	if m.screen != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	src, err := m.capture.Screen(ctx)
	if err != nil {
		if errors.Is(err, media.ErrUnavailable) {
			m.emit(NoticeEvent{Text: "screen sharing unavailable"})
			return NewError("start screen share", ErrScreenUnavailable)
		}
		return NewError("start screen share", err)
	}
	if !src.HasVideo() {
		src.Stop()
		return nil
	}

	m.mu.Lock()
	if m.screen != nil {
		m.mu.Unlock()
		src.Stop()
		return nil
	}
	m.screen = src
	pool := m.pool
	m.mu.Unlock()

	if pool != nil {
		pool.ForEachLink(func(l *Link) {
			m.attachScreenTo(l, src)
		})
	}
	m.emit(ScreenShareEvent{Local: true, Active: true})

	go func() {
		<-src.Done()
		m.stopScreen(src)
	}()
	return nil
}

// StopScreen ends the local share if one is active.
func (m *Media) StopScreen() {
	m.mu.Lock()
	src := m.screen
	m.mu.Unlock()
	if src != nil {
		m.stopScreen(src)
	}
}

// stopScreen tears down one specific source; a stale call for a source that
// was already replaced or stopped is a no-op. Removal leaves every link with
// zero screen senders and the capture state exactly as before the share.
func (m *Media) stopScreen(src *media.Source) {
	m.mu.Lock()
	if m.screen != src {
		m.mu.Unlock()
		return
	}
	m.screen = nil
	pool := m.pool
	m.mu.Unlock()

	if pool != nil {
		pool.ForEachLink(func(l *Link) {
			l.RemoveScreenSenders()
		})
	}
	src.Stop()
	m.emit(ScreenShareEvent{Local: true, Active: false})
}

// attachScreenTo adds every screen track to one link and records the
// senders.
func (m *Media) attachScreenTo(l *Link, src *media.Source) {
	for _, t := range src.Tracks() {
		sender, err := l.pc.AddTrack(t)
		if err != nil {
			m.log.Error().Err(err).Str("peer", l.remoteID).Msg("attach screen track failed")
			continue
		}
		l.recordScreen(sender, t)
	}
}

// StopAll releases the screen and the microphone. Called once, on leave.
func (m *Media) StopAll() {
	m.StopScreen()

	m.mu.Lock()
	mic := m.mic
	m.mic = nil
	m.mu.Unlock()

	if mic != nil {
		mic.Stop()
	}
}
