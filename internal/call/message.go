package call

import (
	"github.com/amigotalk/meshcall/internal/store"
)

// Kind discriminates signaling messages.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Message is one mailbox entry: written once by the sender, consumed exactly
// once by its addressee, then deleted. Payload is the JSON session
// description or ICE candidate, opaque to the transport.
type Message struct {
	From    string
	To      string
	Kind    Kind
	Payload []byte
}

// encodeDoc lays a message out the way the mailbox stores it: from/to fields
// plus one key named after the kind.
func encodeDoc(m Message) map[string]any {
	return map[string]any{
		"from":         m.From,
		"to":           m.To,
		string(m.Kind): string(m.Payload),
	}
}

// decodeDoc reads a mailbox document back. Returns false for documents that
// do not carry a recognizable signaling payload.
func decodeDoc(doc store.Document) (Message, bool) {
	from, _ := doc.Data["from"].(string)
	to, _ := doc.Data["to"].(string)
	if from == "" || to == "" {
		return Message{}, false
	}

	for _, kind := range []Kind{KindOffer, KindAnswer, KindCandidate} {
		if raw, ok := doc.Data[string(kind)].(string); ok {
			return Message{From: from, To: to, Kind: kind, Payload: []byte(raw)}, true
		}
	}
	return Message{}, false
}
