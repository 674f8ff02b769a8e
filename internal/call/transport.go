package call

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/amigotalk/meshcall/internal/store"
)

// opTimeout bounds individual store operations issued from subscription
// callbacks and cleanup paths.
const opTimeout = 10 * time.Second

// Transport ferries signaling messages through the call's mailbox
// collection. It does not retry; transient faults surface to the caller and
// retry policy stays with the session.
type Transport struct {
	db   store.Store
	coll string
	self string
	log  zerolog.Logger
}

// NewTransport builds the adapter for one participant in one call.
func NewTransport(db store.Store, callID, selfID string, log zerolog.Logger) *Transport {
	return &Transport{
		db:   db,
		coll: "calls/" + callID + "/signaling",
		self: selfID,
		log:  log.With().Str("component", "transport").Logger(),
	}
}

// Send appends one message to the mailbox.
func (t *Transport) Send(ctx context.Context, to string, kind Kind, payload []byte) error {
	msg := Message{From: t.self, To: to, Kind: kind, Payload: payload}
	if _, err := t.db.Add(ctx, t.coll, encodeDoc(msg)); err != nil {
		return NewPeerError("send "+string(kind), to, err)
	}
	return nil
}

// SubscribeInbound delivers every mailbox entry addressed to the local
// participant, in arrival order. Each entry is deleted after the handler
// runs, whether or not the handler errored, so a poison message cannot loop.
// Duplicate delivery is tolerated; processing must be state-guarded.
func (t *Transport) SubscribeInbound(handler func(Message) error) (store.Unsubscribe, error) {
	return t.db.Subscribe(t.coll, func(snap store.Snapshot) {
		for _, doc := range snap.Added {
			msg, ok := decodeDoc(doc)
			if !ok || msg.To != t.self {
				continue
			}

			if err := handler(msg); err != nil {
				t.log.Warn().Err(err).
					Str("from", msg.From).
					Str("kind", string(msg.Kind)).
					Msg("signaling message failed")
			}

			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := t.db.Delete(ctx, t.coll, doc.ID); err != nil {
				t.log.Warn().Err(err).Str("doc", doc.ID).Msg("could not ack message")
			}
			cancel()
		}
	})
}
