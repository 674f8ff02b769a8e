package call

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/test"

	"github.com/amigotalk/meshcall/internal/store/memstore"
)

func TestRosterJoinLeaveList(t *testing.T) {
	db := memstore.New()
	defer db.Close()
	ctx := context.Background()

	alice := NewRoster(db, "c1", Participant{ID: "alice", Name: "Alice"})
	bob := NewRoster(db, "c1", Participant{ID: "bob", Name: "Bob"})

	test.That(t, alice.Join(ctx), test.ShouldBeNil)
	test.That(t, bob.Join(ctx), test.ShouldBeNil)

	got, err := alice.List(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 2)
	test.That(t, got[0], test.ShouldResemble, Participant{ID: "alice", Name: "Alice"})
	test.That(t, got[1], test.ShouldResemble, Participant{ID: "bob", Name: "Bob"})

	test.That(t, bob.Leave(ctx), test.ShouldBeNil)
	got, err = alice.List(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got), test.ShouldEqual, 1)
	test.That(t, got[0].ID, test.ShouldEqual, "alice")
}

func TestRosterSubscribe(t *testing.T) {
	db := memstore.New()
	defer db.Close()
	ctx := context.Background()

	alice := NewRoster(db, "c1", Participant{ID: "alice", Name: "Alice"})
	bob := NewRoster(db, "c1", Participant{ID: "bob", Name: "Bob"})
	test.That(t, alice.Join(ctx), test.ShouldBeNil)

	var mu sync.Mutex
	var latest []Participant
	unsub, err := alice.Subscribe(func(ps []Participant) {
		mu.Lock()
		latest = ps
		mu.Unlock()
	})
	test.That(t, err, test.ShouldBeNil)
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	})

	test.That(t, bob.Join(ctx), test.ShouldBeNil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 2
	})

	test.That(t, bob.Leave(ctx), test.ShouldBeNil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].ID == "alice"
	})
}

func TestDiff(t *testing.T) {
	a := Participant{ID: "a"}
	b := Participant{ID: "b"}
	c := Participant{ID: "c"}

	joined, left := Diff(nil, []Participant{a, b})
	test.That(t, joined, test.ShouldResemble, []Participant{a, b})
	test.That(t, len(left), test.ShouldEqual, 0)

	joined, left = Diff([]Participant{a, b}, []Participant{b, c})
	test.That(t, joined, test.ShouldResemble, []Participant{c})
	test.That(t, left, test.ShouldResemble, []Participant{a})

	joined, left = Diff([]Participant{a, b}, []Participant{a, b})
	test.That(t, len(joined), test.ShouldEqual, 0)
	test.That(t, len(left), test.ShouldEqual, 0)

	joined, left = Diff([]Participant{a}, nil)
	test.That(t, len(joined), test.ShouldEqual, 0)
	test.That(t, left, test.ShouldResemble, []Participant{a})
}
