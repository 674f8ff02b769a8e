// Package wire defines the msgpack-framed protocol between the remote store
// client and the store gateway.
package wire

// Message type constants.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeSnapshot = "snapshot"
)

// Operation constants carried by Request.Op.
const (
	OpPut         = "put"
	OpAdd         = "add"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Message is the envelope for everything on the wire.
type Message struct {
	Type     string         `msgpack:"type"`
	Request  *Request       `msgpack:"request,omitempty"`
	Response *Response      `msgpack:"response,omitempty"`
	Snapshot *SnapshotEvent `msgpack:"snapshot,omitempty"`
}

// Request is a client-initiated store operation. Unset lists fields an
// update removes, since the store.DeleteField sentinel cannot cross the wire.
type Request struct {
	ID    uint64         `msgpack:"id"`
	Op    string         `msgpack:"op"`
	Coll  string         `msgpack:"coll,omitempty"`
	DocID string         `msgpack:"doc_id,omitempty"`
	Data  map[string]any `msgpack:"data,omitempty"`
	Unset []string       `msgpack:"unset,omitempty"`
	SubID uint64         `msgpack:"sub_id,omitempty"`
}

// Response answers the request with the matching ID.
type Response struct {
	ID       uint64     `msgpack:"id"`
	Error    string     `msgpack:"error,omitempty"`
	NotFound bool       `msgpack:"not_found,omitempty"`
	DocID    string     `msgpack:"doc_id,omitempty"`
	Docs     []Document `msgpack:"docs,omitempty"`
}

// Document mirrors store.Document.
type Document struct {
	ID   string         `msgpack:"id"`
	Data map[string]any `msgpack:"data"`
}

// SnapshotEvent is a server-pushed collection snapshot for one subscription.
type SnapshotEvent struct {
	SubID   uint64     `msgpack:"sub_id"`
	Docs    []Document `msgpack:"docs"`
	Added   []Document `msgpack:"added,omitempty"`
	Removed []string   `msgpack:"removed,omitempty"`
}
