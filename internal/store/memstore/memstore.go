// Package memstore is an in-memory store.Store. It backs the hosted gateway
// and the test suites; every collection keeps insertion order and fans
// snapshots out on a per-subscriber coalescing buffer, so a slow consumer
// sees fewer snapshots but never a lost delta.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/amigotalk/meshcall/internal/store"
)

// subscriber holds the pending snapshot for one subscription. A slow
// consumer coalesces: intermediate Docs views collapse into the latest one,
// but Added and Removed accumulate so no delta is ever lost.
type subscriber struct {
	mu      sync.Mutex
	pending *store.Snapshot
	wake    chan struct{}
	done    chan struct{}
}

// enqueue merges snap into the pending snapshot and wakes the drain
// goroutine. Never blocks.
func (sub *subscriber) enqueue(snap store.Snapshot) {
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

// take returns and clears the pending snapshot.
func (sub *subscriber) take() *store.Snapshot {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	snap := sub.pending
	sub.pending = nil
	return snap
}

type collection struct {
	docs  map[string]map[string]any
	order []string
	subs  map[int]*subscriber
}

// Store is an in-memory document store.
type Store struct {
	mu     sync.Mutex
	colls  map[string]*collection
	nextID int
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{colls: make(map[string]*collection)}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.colls[name]
	if !ok {
		c = &collection{
			docs: make(map[string]map[string]any),
			subs: make(map[int]*subscriber),
		}
		s.colls[name] = c
	}
	return c
}

// Put upserts a document.
func (s *Store) Put(ctx context.Context, coll, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(coll)
	_, existed := c.docs[id]
	c.docs[id] = cloneData(data)
	if !existed {
		c.order = append(c.order, id)
	}

	added := []store.Document{}
	if !existed {
		added = append(added, store.Document{ID: id, Data: cloneData(data)})
	}
	s.notify(c, added, nil)
	return nil
}

// Add inserts a document with a generated id.
func (s *Store) Add(ctx context.Context, coll string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Put(ctx, coll, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges fields into an existing document. store.DeleteField removes
// a field.
func (s *Store) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(coll)
	doc, ok := c.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range fields {
		if v == store.DeleteField {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	s.notify(c, nil, nil)
	return nil
}

// Delete removes a document if present.
func (s *Store) Delete(ctx context.Context, coll, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(coll)
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	s.notify(c, nil, []string{id})
	return nil
}

// List returns all documents in insertion order.
func (s *Store) List(ctx context.Context, coll string) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll(coll).snapshotDocs(), nil
}

// Subscribe registers fn for snapshot delivery. The current state is
// delivered first, with every document reported as added.
func (s *Store) Subscribe(coll string, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	s.mu.Lock()
	c := s.coll(coll)
	id := s.nextID
	s.nextID++

	sub := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.subs[id] = sub

	docs := c.snapshotDocs()
	sub.enqueue(store.Snapshot{Docs: docs, Added: docs})
	s.mu.Unlock()

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
			s.mu.Lock()
			delete(c.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}, nil
}

// Close drops all collections and subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.colls {
		for id, sub := range c.subs {
			close(sub.done)
			delete(c.subs, id)
		}
	}
	s.colls = make(map[string]*collection)
	return nil
}

// notify queues a snapshot for every subscriber of c. Caller holds s.mu.
func (s *Store) notify(c *collection, added []store.Document, removed []string) {
	if len(c.subs) == 0 {
		return
	}
	snap := store.Snapshot{Docs: c.snapshotDocs(), Added: added, Removed: removed}
	for _, sub := range c.subs {
		sub.enqueue(snap)
	}
}

func (c *collection) snapshotDocs() []store.Document {
	docs := make([]store.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, store.Document{ID: id, Data: cloneData(c.docs[id])})
	}
	return docs
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
