package storeserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/amigotalk/meshcall/internal/store"
	"github.com/amigotalk/meshcall/internal/store/memstore"
	"github.com/amigotalk/meshcall/internal/store/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

// client is one gateway connection. All reads happen on ReadPump's goroutine
// and all writes on WritePump's, so the connection itself needs no locking.
type client struct {
	conn  *websocket.Conn
	db    *memstore.Store
	log   zerolog.Logger
	send  chan []byte
	quit  chan struct{}
	subs  map[uint64]store.Unsubscribe
	opCtx context.Context

	stopOnce sync.Once
}

func newClient(conn *websocket.Conn, db *memstore.Store, log zerolog.Logger) *client {
	return &client{
		conn:  conn,
		db:    db,
		log:   log,
		send:  make(chan []byte, 256),
		quit:  make(chan struct{}),
		subs:  make(map[uint64]store.Unsubscribe),
		opCtx: context.Background(),
	}
}

// stop releases anything blocked on the send queue. Either pump may be the
// one that notices the connection die, so both call it.
func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// ReadPump decodes requests and applies them to the store. When the
// connection drops, every subscription the client held is released.
func (c *client) ReadPump() {
	defer func() {
		for id, unsub := range c.subs {
			unsub()
			delete(c.subs, id)
		}
		c.conn.Close()
		c.stop()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}

		var msg wire.Message
		if err := msgpack.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("undecodable frame")
			continue
		}
		if msg.Type != wire.TypeRequest || msg.Request == nil {
			continue
		}

		c.handle(msg.Request)
	}
}

// WritePump writes queued frames and sends periodic pings.
func (c *client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.stop()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *client) handle(req *wire.Request) {
	resp := &wire.Response{ID: req.ID}

	switch req.Op {
	case wire.OpPut:
		c.setErr(resp, c.db.Put(c.opCtx, req.Coll, req.DocID, req.Data))

	case wire.OpAdd:
		id, err := c.db.Add(c.opCtx, req.Coll, req.Data)
		resp.DocID = id
		c.setErr(resp, err)

	case wire.OpUpdate:
		fields := make(map[string]any, len(req.Data)+len(req.Unset))
		for k, v := range req.Data {
			fields[k] = v
		}
		for _, k := range req.Unset {
			fields[k] = store.DeleteField
		}
		c.setErr(resp, c.db.Update(c.opCtx, req.Coll, req.DocID, fields))

	case wire.OpDelete:
		c.setErr(resp, c.db.Delete(c.opCtx, req.Coll, req.DocID))

	case wire.OpList:
		docs, err := c.db.List(c.opCtx, req.Coll)
		resp.Docs = toWireDocs(docs)
		c.setErr(resp, err)

	case wire.OpSubscribe:
		subID := req.SubID
		unsub, err := c.db.Subscribe(req.Coll, func(snap store.Snapshot) {
			c.pushSnapshot(subID, snap)
		})
		if err == nil {
			c.subs[subID] = unsub
		}
		c.setErr(resp, err)

	case wire.OpUnsubscribe:
		if unsub, ok := c.subs[req.SubID]; ok {
			unsub()
			delete(c.subs, req.SubID)
		}

	default:
		resp.Error = "unknown operation: " + req.Op
	}

	c.enqueue(&wire.Message{Type: wire.TypeResponse, Response: resp})
}

func (c *client) setErr(resp *wire.Response, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		resp.NotFound = true
		return
	}
	resp.Error = err.Error()
}

func (c *client) pushSnapshot(subID uint64, snap store.Snapshot) {
	c.enqueue(&wire.Message{
		Type: wire.TypeSnapshot,
		Snapshot: &wire.SnapshotEvent{
			SubID:   subID,
			Docs:    toWireDocs(snap.Docs),
			Added:   toWireDocs(snap.Added),
			Removed: snap.Removed,
		},
	})
}

// enqueue queues one frame for WritePump, blocking when the queue is full.
// The store's per-subscriber delivery coalesces behind a blocked snapshot
// callback, so backpressure here slows the subscription down instead of
// losing deltas. A dead connection unblocks via quit.
func (c *client) enqueue(msg *wire.Message) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal frame")
		return
	}
	select {
	case c.send <- data:
	case <-c.quit:
	}
}

func toWireDocs(docs []store.Document) []wire.Document {
	out := make([]wire.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, wire.Document{ID: d.ID, Data: d.Data})
	}
	return out
}
