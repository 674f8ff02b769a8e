package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/amigotalk/meshcall/internal/media"
	"github.com/amigotalk/meshcall/internal/store"
)

// SessionState is the lifecycle of one local participant in one room.
type SessionState int

const (
	Idle SessionState = iota
	Joining
	Active
	Leaving
	Left
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	case Left:
		return "left"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

var sessionTransitions = map[SessionState][]SessionState{
	Idle:    {Joining},
	Joining: {Active, Leaving},
	Active:  {Leaving},
	Leaving: {Left},
	Left:    {},
}

// Session orchestrates one call: it wires the transport, roster, pool,
// media manager and detector together and drives the
// Idle → Joining → Active → Leaving → Left lifecycle. All state flows to
// the consumer through Events.
type Session struct {
	db     store.Store
	callID string
	self   Participant
	log    zerolog.Logger

	transport *Transport
	roster    *Roster
	media     *Media
	vad       *Detector
	pool      *Pool

	events chan Event

	mu     sync.Mutex
	state  SessionState
	unsubs []store.Unsubscribe
}

// Options configures a session.
type Options struct {
	Store       store.Store
	CallID      string
	Self        Participant
	Capture     media.Capture
	STUNServers []string
	Clock       clock.Clock
	Log         zerolog.Logger
}

// NewSession builds an idle session.
func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	log := opts.Log.With().Str("call", opts.CallID).Str("self", opts.Self.ID).Logger()

	s := &Session{
		db:     opts.Store,
		callID: opts.CallID,
		self:   opts.Self,
		log:    log,
		state:  Idle,
		events: make(chan Event, 64),
	}

	s.transport = NewTransport(opts.Store, opts.CallID, opts.Self.ID, log)
	s.roster = NewRoster(opts.Store, opts.CallID, opts.Self)
	s.media = NewMedia(opts.Capture, s.publish, log)
	s.vad = NewDetector(opts.Clock, func(speaking map[string]bool) {
		s.publish(SpeakingEvent{Speaking: speaking})
	}, log)
	s.pool = NewPool(opts.Self.ID, opts.STUNServers, s.transport, s.media, s.vad, s.publish, log)
	s.media.SetPool(s.pool)

	return s
}

// Events is the stream of session events. Never closed; consumers exit on
// StateEvent{Left}.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Muted reports the local mute state.
func (s *Session) Muted() bool {
	return s.media.Muted()
}

// Sharing reports whether the local screen share is active.
func (s *Session) Sharing() bool {
	return s.media.Sharing()
}

// Join enters the room: acquire the mic (degrading to no local audio on
// denial), announce presence, register in the roster, subscribe to the
// roster and the mailbox, and start the detector.
func (s *Session) Join(ctx context.Context) error {
	if err := s.transition(Joining); err != nil {
		return err
	}
	s.publish(StateEvent{State: Joining})

	src, err := s.media.AcquireMic(ctx)
	switch {
	case err == nil:
		a := s.vad.SetLocal(s.self.ID)
		go feedAnalyser(src, a)
	case errors.Is(err, ErrMicUnavailable):
		s.log.Warn().Msg("no microphone, joining without local audio")
		s.publish(NoticeEvent{Text: "microphone unavailable, joining without local audio"})
	default:
		return err
	}

	s.setPresence(ctx, "in-call", s.callID)

	if err := s.roster.Join(ctx); err != nil {
		return err
	}

	unsubInbound, err := s.transport.SubscribeInbound(s.pool.HandleMessage)
	if err != nil {
		return WrapError("subscribe mailbox", ErrSignaling, err.Error())
	}
	s.addUnsub(unsubInbound)

	unsubRoster, err := s.roster.Subscribe(s.onRoster)
	if err != nil {
		return WrapError("subscribe roster", ErrSignaling, err.Error())
	}
	s.addUnsub(unsubRoster)

	s.vad.Start()

	if err := s.transition(Active); err != nil {
		return err
	}
	s.publish(StateEvent{State: Active})
	return nil
}

// onRoster reacts to a roster snapshot: surface it and reconcile the pool
// against the remote set.
func (s *Session) onRoster(participants []Participant) {
	st := s.State()
	if st != Joining && st != Active {
		return
	}

	s.publish(RosterEvent{Participants: participants})

	remotes := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.ID != s.self.ID {
			remotes = append(remotes, p)
		}
	}
	s.pool.Sync(remotes)
}

// ToggleMute flips the mic and keeps the detector's classification honest.
func (s *Session) ToggleMute() bool {
	muted := s.media.ToggleMute()
	s.vad.SetMuted(muted)
	return muted
}

// ToggleScreen starts or stops the local screen share.
func (s *Session) ToggleScreen(ctx context.Context) error {
	if s.State() != Active {
		return NewError("toggle screen share", ErrNotInCall)
	}
	if s.media.Sharing() {
		s.media.StopScreen()
		return nil
	}
	return s.media.StartScreen(ctx)
}

// Leave exits the room, releasing every resource on every path: share
// stopped, roster entry removed, presence restored, subscriptions released,
// links closed, mic stopped, detector cancelled. If the roster emptied, the
// room's documents are cleaned up best-effort.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.transition(Leaving); err != nil {
		return err
	}
	s.publish(StateEvent{State: Leaving})

	s.media.StopScreen()

	if err := s.roster.Leave(ctx); err != nil {
		s.log.Warn().Err(err).Msg("leave roster failed")
	}
	s.setPresence(ctx, "online", "")

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	s.pool.CloseAll()
	s.media.StopAll()
	s.vad.Stop()

	s.cleanupIfEmpty(ctx)

	if err := s.transition(Left); err != nil {
		return err
	}
	s.publish(StateEvent{State: Left})
	return nil
}

// transition validates and applies a lifecycle step.
func (s *Session) transition(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ok := range sessionTransitions[s.state] {
		if next == ok {
			s.log.Debug().Stringer("from", s.state).Stringer("to", next).Msg("session transition")
			s.state = next
			return nil
		}
	}
	return WrapError("session transition", ErrBadTransition,
		fmt.Sprintf("%s -> %s", s.state, next))
}

func (s *Session) addUnsub(u store.Unsubscribe) {
	s.mu.Lock()
	s.unsubs = append(s.unsubs, u)
	s.mu.Unlock()
}

// publish forwards an event without ever blocking call internals on a slow
// consumer.
func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug().Msg("event dropped, consumer behind")
	}
}

// setPresence updates the lobby-visible user document. Best-effort; the
// lobby reads it to offer "join call" actions.
func (s *Session) setPresence(ctx context.Context, status, callID string) {
	fields := map[string]any{"status": status}
	if callID != "" {
		fields["currentCallId"] = callID
	} else {
		fields["currentCallId"] = store.DeleteField
	}

	err := s.db.Update(ctx, "users", s.self.ID, fields)
	if errors.Is(err, store.ErrNotFound) {
		data := map[string]any{"status": status, "name": s.self.Name}
		if callID != "" {
			data["currentCallId"] = callID
		}
		err = s.db.Put(ctx, "users", s.self.ID, data)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("presence update failed")
	}
}

// cleanupIfEmpty deletes the room's documents when the local participant
// was the last one out. Opportunistic: failures are logged, never surfaced
// or retried.
func (s *Session) cleanupIfEmpty(ctx context.Context) {
	remaining, err := s.roster.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("cleanup roster check failed")
		return
	}
	if len(remaining) > 0 {
		return
	}

	prefix := "calls/" + s.callID + "/"
	for _, coll := range []string{prefix + "signaling", prefix + "messages", prefix + "participants"} {
		docs, err := s.db.List(ctx, coll)
		if err != nil {
			s.log.Warn().Err(err).Str("coll", coll).Msg("cleanup list failed")
			continue
		}
		for _, d := range docs {
			if err := s.db.Delete(ctx, coll, d.ID); err != nil {
				s.log.Warn().Err(err).Str("coll", coll).Str("doc", d.ID).Msg("cleanup delete failed")
			}
		}
	}
	if err := s.db.Delete(ctx, "calls", s.callID); err != nil {
		s.log.Warn().Err(err).Msg("cleanup call record failed")
	}
}

// feedAnalyser moves capture energy into the local analyser until the
// source ends.
func feedAnalyser(src *media.Source, a *Analyser) {
	for {
		select {
		case level := <-src.Levels():
			a.Push(level)
		case <-src.Done():
			return
		}
	}
}
