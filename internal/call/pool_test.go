package call

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"go.viam.com/test"

	"github.com/amigotalk/meshcall/internal/media"
	"github.com/amigotalk/meshcall/internal/store"
	"github.com/amigotalk/meshcall/internal/store/memstore"
)

func newTestStore(t *testing.T) *memstore.Store {
	t.Helper()
	db := memstore.New()
	t.Cleanup(func() { db.Close() })
	return db
}

// eventLog collects emitted events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) emit(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) shareEvents() []ScreenShareEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ScreenShareEvent
	for _, ev := range e.events {
		if se, ok := ev.(ScreenShareEvent); ok {
			out = append(out, se)
		}
	}
	return out
}

func newTestPool(db store.Store, self string) (*Pool, *Media, *eventLog) {
	log := zerolog.Nop()
	events := &eventLog{}
	tr := NewTransport(db, "c1", self, log)
	m := NewMedia(&media.SilentCapture{}, events.emit, log)
	vad := NewDetector(clock.NewMock(), nil, log)
	p := NewPool(self, nil, tr, m, vad, events.emit, log)
	m.SetPool(p)
	return p, m, events
}

// remoteOffer builds a valid audio offer from a scratch connection.
func remoteOffer(t *testing.T) []byte {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	test.That(t, err, test.ShouldBeNil)

	offer, err := pc.CreateOffer(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.SetLocalDescription(offer), test.ShouldBeNil)

	payload, err := json.Marshal(pc.LocalDescription())
	test.That(t, err, test.ShouldBeNil)
	return payload
}

func TestPoolSyncOneLinkPerPeer(t *testing.T) {
	db := newTestStore(t)
	p, _, _ := newTestPool(db, "alice")
	defer p.CloseAll()

	p.Sync([]Participant{{ID: "bob"}})
	test.That(t, p.Len(), test.ShouldEqual, 1)
	first := p.current("bob")
	test.That(t, first, test.ShouldNotBeNil)

	// A duplicate snapshot must not replace the link.
	p.Sync([]Participant{{ID: "bob"}})
	test.That(t, p.Len(), test.ShouldEqual, 1)
	test.That(t, p.current("bob"), test.ShouldEqual, first)
}

func TestPoolSyncRemovesDeparted(t *testing.T) {
	db := newTestStore(t)
	p, _, _ := newTestPool(db, "alice")
	defer p.CloseAll()

	p.Sync([]Participant{{ID: "bob"}, {ID: "carol"}})
	test.That(t, p.Len(), test.ShouldEqual, 2)
	carol := p.current("carol")

	p.Sync([]Participant{{ID: "bob"}})
	test.That(t, p.Len(), test.ShouldEqual, 1)
	test.That(t, p.current("bob"), test.ShouldNotBeNil)
	test.That(t, p.current("carol"), test.ShouldBeNil)
	test.That(t, carol.State(), test.ShouldEqual, LinkClosed)
}

func TestPoolStrayAnswerDropped(t *testing.T) {
	db := newTestStore(t)
	p, _, _ := newTestPool(db, "alice")
	defer p.CloseAll()

	err := p.HandleMessage(Message{From: "zed", Kind: KindAnswer, Payload: []byte(`{}`)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Len(), test.ShouldEqual, 0)

	err = p.HandleMessage(Message{From: "zed", Kind: KindCandidate, Payload: []byte(`{}`)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Len(), test.ShouldEqual, 0)
}

func TestPoolOfferCreatesLinkOnDemand(t *testing.T) {
	db := newTestStore(t)
	// "zz" sorts after "alice", so the pool side answers.
	p, _, _ := newTestPool(db, "zz")
	defer p.CloseAll()

	err := p.HandleMessage(Message{From: "alice", Kind: KindOffer, Payload: remoteOffer(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Len(), test.ShouldEqual, 1)

	l := p.current("alice")
	test.That(t, l, test.ShouldNotBeNil)
	test.That(t, l.State(), test.ShouldEqual, LinkStable)

	// The answer went back through the mailbox.
	waitFor(t, func() bool {
		docs, err := db.List(t.Context(), "calls/c1/signaling")
		if err != nil {
			return false
		}
		for _, d := range docs {
			if msg, ok := decodeDoc(d); ok && msg.Kind == KindAnswer && msg.To == "alice" {
				return true
			}
		}
		return false
	})
}

func TestLinkCandidateBuffering(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	test.That(t, err, test.ShouldBeNil)

	var mu sync.Mutex
	var sent []Kind
	l := &Link{
		remoteID:  "bob",
		initiator: false,
		pc:        pc,
		state:     LinkStable,
		log:       zerolog.Nop(),
		send: func(kind Kind, _ []byte) error {
			mu.Lock()
			sent = append(sent, kind)
			mu.Unlock()
			return nil
		},
	}
	defer l.Close()

	cand := []byte(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	for i := 0; i < maxPendingCandidates+5; i++ {
		test.That(t, l.HandleCandidate(cand), test.ShouldBeNil)
	}
	l.mu.Lock()
	test.That(t, len(l.pending), test.ShouldEqual, maxPendingCandidates)
	l.mu.Unlock()

	// The offer sets the remote description and drains the buffer.
	test.That(t, l.HandleOffer(remoteOffer(t)), test.ShouldBeNil)
	l.mu.Lock()
	test.That(t, len(l.pending), test.ShouldEqual, 0)
	test.That(t, l.hasRemoteDesc, test.ShouldBeTrue)
	l.mu.Unlock()
	test.That(t, l.State(), test.ShouldEqual, LinkStable)

	mu.Lock()
	test.That(t, sent, test.ShouldContain, KindAnswer)
	mu.Unlock()

	// Candidates now apply directly instead of buffering.
	test.That(t, l.HandleCandidate(cand), test.ShouldBeNil)
	l.mu.Lock()
	test.That(t, len(l.pending), test.ShouldEqual, 0)
	l.mu.Unlock()
}

func TestLinkStrayAnswerIgnored(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	test.That(t, err, test.ShouldBeNil)

	l := &Link{
		remoteID: "bob",
		pc:       pc,
		state:    LinkStable,
		log:      zerolog.Nop(),
		send:     func(Kind, []byte) error { return nil },
	}
	defer l.Close()

	test.That(t, l.HandleAnswer([]byte(`{}`)), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, LinkStable)
}

// newTestLink builds a bare link with a send collector, for driving the
// negotiation state machine directly.
func newTestLink(t *testing.T, initiator bool) (*Link, func() []Kind) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	test.That(t, err, test.ShouldBeNil)

	var mu sync.Mutex
	var sent []Kind
	l := &Link{
		remoteID:  "bob",
		initiator: initiator,
		pc:        pc,
		state:     LinkStable,
		log:       zerolog.Nop(),
		send: func(kind Kind, _ []byte) error {
			mu.Lock()
			sent = append(sent, kind)
			mu.Unlock()
			return nil
		},
	}
	t.Cleanup(l.Close)

	return l, func() []Kind {
		mu.Lock()
		defer mu.Unlock()
		return append([]Kind(nil), sent...)
	}
}

func TestLinkStableSideAnswersOffer(t *testing.T) {
	// Even the collision winner answers an inbound offer while it has no
	// pending offer of its own; the peer may renegotiate at any time.
	l, sent := newTestLink(t, true)

	test.That(t, l.HandleOffer(remoteOffer(t)), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, LinkStable)
	l.mu.Lock()
	test.That(t, l.hasRemoteDesc, test.ShouldBeTrue)
	l.mu.Unlock()
	test.That(t, sent(), test.ShouldContain, KindAnswer)
}

func TestLinkOfferCollisionWinnerKeepsOffer(t *testing.T) {
	l, sent := newTestLink(t, true)
	_, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	test.That(t, err, test.ShouldBeNil)

	l.Negotiate()
	test.That(t, l.State(), test.ShouldEqual, LinkHaveLocalOffer)
	test.That(t, sent(), test.ShouldContain, KindOffer)

	// The crossing offer is dropped; the peer rolls back and answers ours.
	test.That(t, l.HandleOffer(remoteOffer(t)), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, LinkHaveLocalOffer)
	l.mu.Lock()
	test.That(t, l.hasRemoteDesc, test.ShouldBeFalse)
	l.mu.Unlock()
	test.That(t, sent(), test.ShouldNotContain, KindAnswer)
}

func TestLinkOfferCollisionLoserRollsBack(t *testing.T) {
	l, sent := newTestLink(t, false)
	_, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	test.That(t, err, test.ShouldBeNil)

	// The loser may offer too; that is how its tracks reach the wire.
	l.Negotiate()
	test.That(t, l.State(), test.ShouldEqual, LinkHaveLocalOffer)
	test.That(t, sent(), test.ShouldContain, KindOffer)

	// A crossing offer makes the loser yield: roll back, apply, answer.
	test.That(t, l.HandleOffer(remoteOffer(t)), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, LinkStable)
	l.mu.Lock()
	test.That(t, l.hasRemoteDesc, test.ShouldBeTrue)
	l.mu.Unlock()
	test.That(t, sent(), test.ShouldContain, KindAnswer)
}
