// Package media owns local capture: the microphone source acquired on room
// entry and the screen source toggled during a call. Sources hand pion local
// tracks to the connection pool and an energy tap to the voice-activity
// detector; only this package stops or replaces the underlying streams.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrUnavailable is returned when a capture device cannot be acquired
// (denied permission, missing source file). The call continues without that
// capability.
var ErrUnavailable = errors.New("capture source unavailable")

// Capture acquires local media. Implementations: FileCapture (Ogg/Opus mic,
// IVF/VP8 screen) and SilentCapture for tests and audio-less runs.
type Capture interface {
	// Microphone returns the local voice source.
	Microphone(ctx context.Context) (*Source, error)

	// Screen returns a screen-share source with at least one video track.
	Screen(ctx context.Context) (*Source, error)
}

// Source is one live local stream: its outgoing tracks, an energy tap for
// the audio portion, and a Done channel that closes when the capture ends on
// its own (the platform's "stop sharing" path).
type Source struct {
	tracks []webrtc.TrackLocal
	levels chan byte
	done   chan struct{}

	once sync.Once
	stop func()
}

// NewSource builds a source over the given tracks. stop is invoked exactly
// once, from Stop or from the producer ending the capture itself.
func NewSource(tracks []webrtc.TrackLocal, stop func()) *Source {
	return &Source{
		tracks: tracks,
		levels: make(chan byte, 64),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// Tracks returns the outgoing tracks. Shared by reference with every peer
// link; callers attach but never stop them.
func (s *Source) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// AudioTracks returns only the audio-kind tracks.
func (s *Source) AudioTracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			out = append(out, t)
		}
	}
	return out
}

// HasVideo reports whether the source carries a video track.
func (s *Source) HasVideo() bool {
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

// Levels is the energy tap: one 0-255 magnitude per produced audio sample.
func (s *Source) Levels() <-chan byte {
	return s.levels
}

// Done closes when the capture ended, whether via Stop or externally.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Stop ends the capture and releases the underlying tracks.
func (s *Source) Stop() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
	})
}

// PushLevel records one energy magnitude from the producer. Drops when the
// detector is behind; levels are advisory.
func (s *Source) PushLevel(level byte) {
	select {
	case s.levels <- level:
	default:
	}
}

// Energy folds a payload into a single 0-255 magnitude. Frames below the
// comfort-noise size count as silence; otherwise the mean byte value stands
// in for signal energy. Crude, but monotonic enough for the speaking
// classifier, which only needs a low-vs-not-low split.
func Energy(payload []byte) byte {
	if len(payload) < 8 {
		return 0
	}
	var sum int
	for _, b := range payload {
		sum += int(b)
	}
	return byte(sum / len(payload))
}
