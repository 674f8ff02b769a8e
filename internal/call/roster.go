package call

import (
	"context"

	"github.com/amigotalk/meshcall/internal/store"
)

// Participant is one member of a call room.
type Participant struct {
	ID   string
	Name string
}

// Roster tracks the participant set of one call. It reports full snapshots;
// consumers diff against their previous view.
type Roster struct {
	db   store.Store
	coll string
	self Participant
}

// NewRoster builds the tracker for one participant in one call.
func NewRoster(db store.Store, callID string, self Participant) *Roster {
	return &Roster{
		db:   db,
		coll: "calls/" + callID + "/participants",
		self: self,
	}
}

// Join upserts the local participant into the roster.
func (r *Roster) Join(ctx context.Context) error {
	if err := r.db.Put(ctx, r.coll, r.self.ID, map[string]any{"name": r.self.Name}); err != nil {
		return NewError("join roster", err)
	}
	return nil
}

// Leave removes the local participant.
func (r *Roster) Leave(ctx context.Context) error {
	if err := r.db.Delete(ctx, r.coll, r.self.ID); err != nil {
		return NewError("leave roster", err)
	}
	return nil
}

// List returns the current roster.
func (r *Roster) List(ctx context.Context) ([]Participant, error) {
	docs, err := r.db.List(ctx, r.coll)
	if err != nil {
		return nil, NewError("list roster", err)
	}
	return toParticipants(docs), nil
}

// Subscribe delivers the full participant set on every change.
func (r *Roster) Subscribe(fn func([]Participant)) (store.Unsubscribe, error) {
	return r.db.Subscribe(r.coll, func(snap store.Snapshot) {
		fn(toParticipants(snap.Docs))
	})
}

// Diff computes joined = next − prev and left = prev − next by id.
func Diff(prev, next []Participant) (joined, left []Participant) {
	prevSet := make(map[string]bool, len(prev))
	for _, p := range prev {
		prevSet[p.ID] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, p := range next {
		nextSet[p.ID] = true
	}

	for _, p := range next {
		if !prevSet[p.ID] {
			joined = append(joined, p)
		}
	}
	for _, p := range prev {
		if !nextSet[p.ID] {
			left = append(left, p)
		}
	}
	return joined, left
}

func toParticipants(docs []store.Document) []Participant {
	out := make([]Participant, 0, len(docs))
	for _, d := range docs {
		name, _ := d.Data["name"].(string)
		out = append(out, Participant{ID: d.ID, Name: name})
	}
	return out
}
