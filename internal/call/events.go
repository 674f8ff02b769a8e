package call

// Event is anything the session reports to its consumer (the terminal UI).
// All call state flows out through events; the UI never reaches back into
// the pool or detector.
type Event interface {
	isEvent()
}

// StateEvent reports a session lifecycle transition.
type StateEvent struct {
	State SessionState
}

// RosterEvent carries the latest full participant snapshot.
type RosterEvent struct {
	Participants []Participant
}

// SpeakingEvent carries a fresh speaking map; emitted only when at least one
// classification changed.
type SpeakingEvent struct {
	Speaking map[string]bool
}

// ScreenShareEvent reports a screen-share association appearing or
// disappearing. Local marks the local share; otherwise PeerID names the
// remote sharer.
type ScreenShareEvent struct {
	PeerID string
	Local  bool
	Active bool
}

// NoticeEvent is a user-visible warning (denied capability, connectivity
// trouble).
type NoticeEvent struct {
	Text string
}

func (StateEvent) isEvent()       {}
func (RosterEvent) isEvent()      {}
func (SpeakingEvent) isEvent()    {}
func (ScreenShareEvent) isEvent() {}
func (NoticeEvent) isEvent()      {}
