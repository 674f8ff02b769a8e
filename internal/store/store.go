// Package store defines the document-store boundary that call signaling,
// presence and room state run through. Documents live in flat collections
// addressed by slash paths, e.g. "calls/<id>/signaling".
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document addressed by id does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one stored record.
type Document struct {
	ID   string
	Data map[string]any
}

// Snapshot is the full state of a collection after a change, plus the
// documents added and the ids removed since the previous snapshot delivered
// to the same subscriber. The first snapshot reports every document as added.
type Snapshot struct {
	Docs    []Document
	Added   []Document
	Removed []string
}

// Unsubscribe stops snapshot delivery. Safe to call more than once.
type Unsubscribe func()

// DeleteField is a sentinel value for Update: a field set to DeleteField is
// removed from the document instead of written.
var DeleteField = deleteField{}

type deleteField struct{}

// Store is the document-store contract. Collections are created implicitly
// on first write and subscribing to a missing collection is valid.
type Store interface {
	// Put upserts the document with the given id.
	Put(ctx context.Context, coll, id string, data map[string]any) error

	// Add inserts a document with a generated id and returns the id.
	Add(ctx context.Context, coll string, data map[string]any) (string, error)

	// Update merges fields into an existing document. Fields set to
	// DeleteField are removed. Returns ErrNotFound for a missing document.
	Update(ctx context.Context, coll, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, coll, id string) error

	// List returns all documents in insertion order.
	List(ctx context.Context, coll string) ([]Document, error)

	// Subscribe delivers a Snapshot for the current state and then one per
	// change, in order, until unsubscribed.
	Subscribe(coll string, fn func(Snapshot)) (Unsubscribe, error)

	// Close releases the store handle and stops all subscriptions.
	Close() error
}
