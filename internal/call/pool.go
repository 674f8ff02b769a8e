package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/amigotalk/meshcall/internal/media"
)

// iceCandidatePoolSize pre-gathers candidates so a pair usually completes in
// one signaling round trip.
const iceCandidatePoolSize = 10

// Pool owns exactly one Link per current remote participant. Roster
// snapshots drive creation and teardown; inbound signaling is dispatched to
// the owning link.
type Pool struct {
	self      string
	cfg       webrtc.Configuration
	transport *Transport
	media     *Media
	vad       *Detector
	emit      func(Event)
	log       zerolog.Logger

	mu     sync.Mutex
	links  map[string]*Link
	closed bool
}

// NewPool builds an empty pool.
func NewPool(self string, stunServers []string, transport *Transport, m *Media, vad *Detector, emit func(Event), log zerolog.Logger) *Pool {
	return &Pool{
		self: self,
		cfg: webrtc.Configuration{
			ICEServers:           []webrtc.ICEServer{{URLs: stunServers}},
			ICECandidatePoolSize: iceCandidatePoolSize,
		},
		transport: transport,
		media:     m,
		vad:       vad,
		emit:      emit,
		log:       log.With().Str("component", "pool").Logger(),
	}
}

// Sync reconciles the pool against the latest roster snapshot: links for
// departed peers are destroyed, links for new peers created. The existence
// check happens under the pool lock immediately before insertion, so racing
// snapshots for the same remote id cannot double-create.
func (p *Pool) Sync(remotes []Participant) {
	want := make(map[string]bool, len(remotes))
	for _, r := range remotes {
		want[r.ID] = true
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.links == nil {
		p.links = make(map[string]*Link)
	}

	var removed []*Link
	for id, l := range p.links {
		if !want[id] {
			delete(p.links, id)
			removed = append(removed, l)
		}
	}

	var created []*Link
	for _, r := range remotes {
		if _, ok := p.links[r.ID]; ok {
			continue
		}
		l, err := p.newLink(r.ID)
		if err != nil {
			p.log.Error().Err(err).Str("peer", r.ID).Msg("create link failed")
			continue
		}
		p.links[r.ID] = l
		created = append(created, l)
	}
	p.mu.Unlock()

	for _, l := range removed {
		p.teardown(l)
	}
	for _, l := range created {
		p.attach(l)
	}
}

// HandleMessage routes one inbound signaling message. An offer from a peer
// with no link yet creates the link on demand: the mailbox can outrun the
// roster snapshot, and consuming the offer without a link would strand the
// offerer in have-local-offer.
func (p *Pool) HandleMessage(m Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	l, ok := p.links[m.From]
	if !ok && m.Kind == KindOffer {
		if p.links == nil {
			p.links = make(map[string]*Link)
		}
		var err error
		l, err = p.newLink(m.From)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.links[m.From] = l
		ok = true
		p.mu.Unlock()
		p.attach(l)
	} else {
		p.mu.Unlock()
	}

	if !ok {
		p.log.Debug().Str("from", m.From).Str("kind", string(m.Kind)).Msg("signal for unknown peer dropped")
		return nil
	}

	switch m.Kind {
	case KindOffer:
		return l.HandleOffer(m.Payload)
	case KindAnswer:
		return l.HandleAnswer(m.Payload)
	case KindCandidate:
		return l.HandleCandidate(m.Payload)
	default:
		return WrapError("handle signal", ErrStaleSignal, string(m.Kind))
	}
}

// newLink constructs the link and its pion connection. Caller holds p.mu;
// track attachment happens afterwards in attach, outside the lock.
func (p *Pool) newLink(remoteID string) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(p.cfg)
	if err != nil {
		return nil, NewPeerError("create peer connection", remoteID, err)
	}

	l := &Link{
		remoteID:  remoteID,
		initiator: Initiates(p.self, remoteID),
		pc:        pc,
		state:     LinkNew,
		log:       p.log.With().Str("peer", remoteID).Logger(),
	}
	l.send = func(kind Kind, payload []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return p.transport.Send(ctx, remoteID, kind, payload)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			l.log.Error().Err(err).Msg("encode candidate failed")
			return
		}
		if err := l.send(KindCandidate, payload); err != nil {
			l.log.Warn().Err(err).Msg("send candidate failed")
		}
	})

	pc.OnNegotiationNeeded(func() {
		l.Negotiate()
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.handleTrack(l, track)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			// Hard close from the transport layer: destroy the link; the
			// next roster snapshot recreates it if the peer is still there.
			p.drop(l)
		}
	})

	l.mu.Lock()
	err = l.setState(LinkStable)
	l.mu.Unlock()
	if err != nil {
		pc.Close()
		return nil, err
	}
	return l, nil
}

// attach hands the link to the media manager so current local tracks (mic,
// and screen while sharing) land on the new connection.
func (p *Pool) attach(l *Link) {
	if p.media != nil {
		p.media.AttachTo(l)
	}
}

// handleTrack classifies a negotiated inbound track: audio is the peer's
// voice, video its screen share.
func (p *Pool) handleTrack(l *Link, track *webrtc.TrackRemote) {
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		a := p.vad.Remote(l.remoteID)
		go p.readAudio(track, a)
	case webrtc.RTPCodecTypeVideo:
		p.emit(ScreenShareEvent{PeerID: l.remoteID, Active: true})
		go p.readVideo(l, track)
	}
}

// readAudio feeds packet energy into the peer's analyser until the track
// ends.
func (p *Pool) readAudio(track *webrtc.TrackRemote, a *Analyser) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		a.Push(packetEnergy(pkt))
	}
}

// readVideo drains the screen track; EOF retracts the peer's screen-share
// association, but only while this link is still the current one.
func (p *Pool) readVideo(l *Link, track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			break
		}
	}
	if p.current(l.remoteID) == l {
		p.emit(ScreenShareEvent{PeerID: l.remoteID, Active: false})
	}
}

func packetEnergy(pkt *rtp.Packet) byte {
	return media.Energy(pkt.Payload)
}

// drop removes a link that failed, if it is still the pooled one.
func (p *Pool) drop(l *Link) {
	p.mu.Lock()
	cur, ok := p.links[l.remoteID]
	if !ok || cur != l {
		p.mu.Unlock()
		return
	}
	delete(p.links, l.remoteID)
	p.mu.Unlock()

	p.log.Warn().Str("peer", l.remoteID).Msg("link lost")
	p.teardown(l)
}

// teardown releases everything a link owned: connection, analyser, screen
// association.
func (p *Pool) teardown(l *Link) {
	l.Close()
	p.vad.Remove(l.remoteID)
	p.emit(ScreenShareEvent{PeerID: l.remoteID, Active: false})
}

// current returns the pooled link for id, or nil.
func (p *Pool) current(id string) *Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links[id]
}

// ForEachLink runs fn over a snapshot of the pool.
func (p *Pool) ForEachLink(fn func(*Link)) {
	p.mu.Lock()
	links := make([]*Link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	for _, l := range links {
		fn(l)
	}
}

// Len reports the number of live links.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

// CloseAll destroys every link and refuses further work.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	links := p.links
	p.links = nil
	p.mu.Unlock()

	for _, l := range links {
		l.Close()
		p.vad.Remove(l.remoteID)
	}
}
