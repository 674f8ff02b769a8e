package call

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// maxPendingCandidates bounds candidates buffered before the remote
// description arrives. Overflow is dropped with a warning; a lost candidate
// degrades path quality but never breaks the link.
const maxPendingCandidates = 32

// senderRec pairs a sender with the local track it was created for, so mute
// can swap the track out and back without renegotiation.
type senderRec struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// Link is the negotiation state and resources for one remote peer: the pion
// connection, the explicit signaling state, buffered candidates and the
// sender bookkeeping for mic and screen tracks. One Link exists per remote
// id at any time; the pool enforces that.
type Link struct {
	remoteID  string
	initiator bool
	pc        *webrtc.PeerConnection
	send      func(kind Kind, payload []byte) error
	log       zerolog.Logger

	mu            sync.Mutex
	state         LinkState
	hasRemoteDesc bool
	pending       []webrtc.ICECandidateInit
	audio         []senderRec
	screen        []senderRec
}

// State returns the current negotiation state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RemoteID returns the peer this link serves.
func (l *Link) RemoteID() string {
	return l.remoteID
}

// setState validates and applies a transition. Caller holds l.mu.
func (l *Link) setState(next LinkState) error {
	if err := checkTransition(l.state, next); err != nil {
		return err
	}
	l.log.Debug().Stringer("from", l.state).Stringer("to", next).Msg("link transition")
	l.state = next
	return nil
}

// Negotiate runs an offer round from stable. Either side offers when it has
// tracks to renegotiate; simultaneous offers are resolved in HandleOffer by
// the collision policy. Errors are logged and the link is left to recover on
// the next negotiation trigger.
func (l *Link) Negotiate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkStable {
		return
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.log.Error().Err(err).Msg("create offer failed")
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.log.Error().Err(err).Msg("set local offer failed")
		return
	}
	if err := l.setState(LinkHaveLocalOffer); err != nil {
		l.log.Error().Err(err).Msg("offer transition rejected")
		return
	}

	payload, err := json.Marshal(l.pc.LocalDescription())
	if err != nil {
		l.log.Error().Err(err).Msg("encode offer failed")
		return
	}
	if err := l.send(KindOffer, payload); err != nil {
		l.log.Warn().Err(err).Msg("send offer failed")
	}
}

// HandleOffer applies a remote offer and answers it. When both sides hold a
// pending offer for each other, the collision winner ignores the inbound one
// and keeps its own; the loser rolls its offer back and answers. The winner's
// offer is still in the loser's mailbox, so no negotiation round is lost.
func (l *Link) HandleOffer(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LinkClosed {
		return nil
	}
	if l.state == LinkHaveRemoteOffer {
		// Duplicate delivery mid-answer.
		return nil
	}
	if l.state == LinkHaveLocalOffer {
		if l.initiator {
			l.log.Debug().Msg("offer collision, keeping local offer")
			return nil
		}
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := l.pc.SetLocalDescription(rollback); err != nil {
			return NewPeerError("rollback local offer", l.remoteID, err)
		}
		if err := l.setState(LinkStable); err != nil {
			return err
		}
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return NewPeerError("decode offer", l.remoteID, err)
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return NewPeerError("apply offer", l.remoteID, err)
	}
	l.hasRemoteDesc = true
	if err := l.setState(LinkHaveRemoteOffer); err != nil {
		return err
	}
	l.flushCandidates()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return NewPeerError("create answer", l.remoteID, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return NewPeerError("set local answer", l.remoteID, err)
	}
	if err := l.setState(LinkStable); err != nil {
		return err
	}

	out, err := json.Marshal(l.pc.LocalDescription())
	if err != nil {
		return NewPeerError("encode answer", l.remoteID, err)
	}
	return l.send(KindAnswer, out)
}

// HandleAnswer applies a remote answer, but only while one is awaited.
// Stray and late answers are dropped.
func (l *Link) HandleAnswer(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkHaveLocalOffer {
		l.log.Warn().Stringer("state", l.state).Msg("stray answer dropped")
		return nil
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return NewPeerError("decode answer", l.remoteID, err)
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return NewPeerError("apply answer", l.remoteID, err)
	}
	l.hasRemoteDesc = true
	if err := l.setState(LinkStable); err != nil {
		return err
	}
	l.flushCandidates()
	return nil
}

// HandleCandidate adds a candidate once the remote description exists,
// buffering it until then.
func (l *Link) HandleCandidate(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LinkClosed {
		return nil
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return NewPeerError("decode candidate", l.remoteID, err)
	}

	if !l.hasRemoteDesc {
		if len(l.pending) >= maxPendingCandidates {
			l.log.Warn().Msg("candidate buffer full, dropping candidate")
			return nil
		}
		l.pending = append(l.pending, init)
		return nil
	}

	if err := l.pc.AddICECandidate(init); err != nil {
		l.log.Warn().Err(err).Msg("add candidate failed")
	}
	return nil
}

// flushCandidates applies buffered candidates. Caller holds l.mu.
func (l *Link) flushCandidates() {
	for _, init := range l.pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			l.log.Warn().Err(err).Msg("flush candidate failed")
		}
	}
	l.pending = nil
}

// recordAudio and recordScreen register senders created while attaching
// local tracks.
func (l *Link) recordAudio(sender *webrtc.RTPSender, track webrtc.TrackLocal) {
	l.mu.Lock()
	l.audio = append(l.audio, senderRec{sender, track})
	l.mu.Unlock()
}

func (l *Link) recordScreen(sender *webrtc.RTPSender, track webrtc.TrackLocal) {
	l.mu.Lock()
	l.screen = append(l.screen, senderRec{sender, track})
	l.mu.Unlock()
}

// SetAudioEnabled swaps the mic track out of (or back into) every audio
// sender. ReplaceTrack with the same codec does not renegotiate.
func (l *Link) SetAudioEnabled(enabled bool) {
	l.mu.Lock()
	recs := append([]senderRec(nil), l.audio...)
	l.mu.Unlock()

	for _, rec := range recs {
		var t webrtc.TrackLocal
		if enabled {
			t = rec.track
		}
		if err := rec.sender.ReplaceTrack(t); err != nil {
			l.log.Warn().Err(err).Msg("replace audio track failed")
		}
	}
}

// RemoveScreenSenders detaches every recorded screen sender, tolerating
// senders the connection already dropped, and clears the bookkeeping.
func (l *Link) RemoveScreenSenders() {
	l.mu.Lock()
	recs := l.screen
	l.screen = nil
	l.mu.Unlock()

	for _, rec := range recs {
		if err := l.pc.RemoveTrack(rec.sender); err != nil {
			l.log.Debug().Err(err).Msg("remove screen sender")
		}
	}
}

// ScreenSenderCount reports the live screen sender bookkeeping.
func (l *Link) ScreenSenderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.screen)
}

// Close tears the connection down. Idempotent.
func (l *Link) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		l.log.Debug().Err(err).Msg("close peer connection")
	}
}
