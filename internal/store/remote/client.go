// Package remote implements store.Store as a client of the websocket store
// gateway.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/amigotalk/meshcall/internal/store"
	"github.com/amigotalk/meshcall/internal/store/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("store connection closed")

// subscription holds the pending snapshot for one server-side subscription.
// A slow consumer coalesces: Docs collapse into the latest view, Added and
// Removed accumulate, so no delta is lost while fewer snapshots are seen.
type subscription struct {
	mu      sync.Mutex
	pending *store.Snapshot
	wake    chan struct{}
	done    chan struct{}
}

func (sub *subscription) enqueue(snap store.Snapshot) {
	sub.mu.Lock()
	if sub.pending == nil {
		sub.pending = &snap
	} else {
		sub.pending.Docs = snap.Docs
		sub.pending.Added = append(sub.pending.Added, snap.Added...)
		sub.pending.Removed = append(sub.pending.Removed, snap.Removed...)
	}
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) take() *store.Snapshot {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	snap := sub.pending
	sub.pending = nil
	return snap
}

// Client is a store.Store backed by the gateway.
type Client struct {
	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *wire.Response
	subs    map[uint64]*subscription
	closed  bool
}

// Dial connects to the gateway at the given websocket URL.
func Dial(rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	c := &Client{
		conn:     conn,
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan *wire.Response),
		subs:     make(map[uint64]*subscription),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump reads messages from the gateway and dispatches responses and
// snapshot events.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.failAll()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wire.Message
		if err := msgpack.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case wire.TypeResponse:
			if msg.Response == nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[msg.Response.ID]
			delete(c.pending, msg.Response.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg.Response
			}

		case wire.TypeSnapshot:
			if msg.Snapshot == nil {
				continue
			}
			c.mu.Lock()
			sub, ok := c.subs[msg.Snapshot.SubID]
			c.mu.Unlock()
			if !ok {
				continue
			}
			sub.enqueue(fromWireSnapshot(msg.Snapshot))
		}
	}
}

// writePump writes frames to the gateway and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// call sends one request and waits for its response.
func (c *Client) call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan *wire.Response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	data, err := msgpack.Marshal(&wire.Message{Type: wire.TypeRequest, Request: req})
	if err != nil {
		c.dropPending(req.ID)
		return nil, err
	}

	select {
	case c.outgoing <- data:
	case <-c.done:
		c.dropPending(req.ID)
		return nil, ErrClosed
	case <-ctx.Done():
		c.dropPending(req.ID)
		return nil, ctx.Err()
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, ErrClosed
		}
		if resp.NotFound {
			return nil, store.ErrNotFound
		}
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll releases every pending caller and subscription after the
// connection drops.
func (c *Client) failAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.done)
	}
}

// Put upserts a document.
func (c *Client) Put(ctx context.Context, coll, id string, data map[string]any) error {
	_, err := c.call(ctx, &wire.Request{Op: wire.OpPut, Coll: coll, DocID: id, Data: data})
	return err
}

// Add inserts a document with a server-generated id.
func (c *Client) Add(ctx context.Context, coll string, data map[string]any) (string, error) {
	resp, err := c.call(ctx, &wire.Request{Op: wire.OpAdd, Coll: coll, Data: data})
	if err != nil {
		return "", err
	}
	return resp.DocID, nil
}

// Update merges fields into an existing document.
func (c *Client) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	data := make(map[string]any, len(fields))
	var unset []string
	for k, v := range fields {
		if v == store.DeleteField {
			unset = append(unset, k)
			continue
		}
		data[k] = v
	}
	_, err := c.call(ctx, &wire.Request{Op: wire.OpUpdate, Coll: coll, DocID: id, Data: data, Unset: unset})
	return err
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, coll, id string) error {
	_, err := c.call(ctx, &wire.Request{Op: wire.OpDelete, Coll: coll, DocID: id})
	return err
}

// List returns all documents in the collection.
func (c *Client) List(ctx context.Context, coll string) ([]store.Document, error) {
	resp, err := c.call(ctx, &wire.Request{Op: wire.OpList, Coll: coll})
	if err != nil {
		return nil, err
	}
	return fromWireDocs(resp.Docs), nil
}

// Subscribe registers fn for server-pushed snapshots of coll.
func (c *Client) Subscribe(coll string, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	subID := c.nextID
	sub := &subscription{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.subs[subID] = sub
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := c.call(ctx, &wire.Request{Op: wire.OpSubscribe, Coll: coll, SubID: subID}); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-sub.wake:
				if snap := sub.take(); snap != nil {
					fn(*snap)
				}
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[subID]; ok {
				delete(c.subs, subID)
				close(sub.done)
			}
			c.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			c.call(ctx, &wire.Request{Op: wire.OpUnsubscribe, SubID: subID})
		})
	}, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return nil
}

func fromWireDocs(docs []wire.Document) []store.Document {
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, store.Document{ID: d.ID, Data: d.Data})
	}
	return out
}

func fromWireSnapshot(ev *wire.SnapshotEvent) store.Snapshot {
	return store.Snapshot{
		Docs:    fromWireDocs(ev.Docs),
		Added:   fromWireDocs(ev.Added),
		Removed: ev.Removed,
	}
}
