package storeserver

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.viam.com/test"

	"github.com/amigotalk/meshcall/internal/store"
	"github.com/amigotalk/meshcall/internal/store/remote"
)

func newGateway(t *testing.T) string {
	t.Helper()
	srv := New(zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http", "ws", 1) + "/store"
}

func TestGatewayCRUD(t *testing.T) {
	url := newGateway(t)
	client, err := remote.Dial(url)
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	ctx := context.Background()

	test.That(t, client.Put(ctx, "users", "u1", map[string]any{"status": "online"}), test.ShouldBeNil)

	id, err := client.Add(ctx, "users", map[string]any{"status": "online"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldNotEqual, "")

	docs, err := client.List(ctx, "users")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(docs), test.ShouldEqual, 2)
	test.That(t, docs[0].ID, test.ShouldEqual, "u1")

	err = client.Update(ctx, "users", "u1", map[string]any{
		"status":        "in-call",
		"currentCallId": "c1",
	})
	test.That(t, err, test.ShouldBeNil)

	// The delete-field sentinel survives the wire as an unset op.
	err = client.Update(ctx, "users", "u1", map[string]any{
		"status":        "online",
		"currentCallId": store.DeleteField,
	})
	test.That(t, err, test.ShouldBeNil)

	docs, err = client.List(ctx, "users")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, docs[0].Data["status"], test.ShouldEqual, "online")
	_, present := docs[0].Data["currentCallId"]
	test.That(t, present, test.ShouldBeFalse)

	err = client.Update(ctx, "users", "missing", map[string]any{"status": "online"})
	test.That(t, errors.Is(err, store.ErrNotFound), test.ShouldBeTrue)

	test.That(t, client.Delete(ctx, "users", "u1"), test.ShouldBeNil)
	test.That(t, client.Delete(ctx, "users", "u1"), test.ShouldBeNil)
	docs, err = client.List(ctx, "users")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(docs), test.ShouldEqual, 1)
}

func TestGatewaySubscribeAcrossClients(t *testing.T) {
	url := newGateway(t)

	writer, err := remote.Dial(url)
	test.That(t, err, test.ShouldBeNil)
	defer writer.Close()

	reader, err := remote.Dial(url)
	test.That(t, err, test.ShouldBeNil)
	defer reader.Close()

	ctx := context.Background()
	test.That(t, writer.Put(ctx, "rooms", "pre", map[string]any{"n": "0"}), test.ShouldBeNil)

	var mu sync.Mutex
	var snaps []store.Snapshot
	unsub, err := reader.Subscribe("rooms", func(s store.Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	test.That(t, err, test.ShouldBeNil)

	// Initial snapshot carries the pre-existing doc as added.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 1
	})
	mu.Lock()
	test.That(t, len(snaps[0].Added), test.ShouldEqual, 1)
	test.That(t, snaps[0].Added[0].ID, test.ShouldEqual, "pre")
	mu.Unlock()

	// A write through one client reaches the other's subscription.
	test.That(t, writer.Put(ctx, "rooms", "live", map[string]any{"n": "1"}), test.ShouldBeNil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 2 && len(snaps[len(snaps)-1].Docs) == 2
	})

	test.That(t, writer.Delete(ctx, "rooms", "pre"), test.ShouldBeNil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := snaps[len(snaps)-1]
		return len(last.Removed) == 1 && last.Removed[0] == "pre"
	})

	unsub()
	test.That(t, writer.Put(ctx, "rooms", "after", map[string]any{}), test.ShouldBeNil)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	for _, s := range snaps {
		for _, d := range s.Added {
			test.That(t, d.ID, test.ShouldNotEqual, "after")
		}
	}
	mu.Unlock()
}

func TestGatewaySubscribeBurstKeepsDeltas(t *testing.T) {
	url := newGateway(t)

	writer, err := remote.Dial(url)
	test.That(t, err, test.ShouldBeNil)
	defer writer.Close()

	reader, err := remote.Dial(url)
	test.That(t, err, test.ShouldBeNil)
	defer reader.Close()

	ctx := context.Background()

	// The subscriber stalls on its first snapshot while a burst of writes
	// far exceeds any queue in the path. Snapshots may coalesce, but every
	// added document must come through exactly once.
	gate := make(chan struct{})
	first := true
	var mu sync.Mutex
	added := map[string]bool{}
	total := 0
	unsub, err := reader.Subscribe("mail", func(s store.Snapshot) {
		if first {
			first = false
			<-gate
		}
		mu.Lock()
		for _, d := range s.Added {
			added[d.ID] = true
			total++
		}
		mu.Unlock()
	})
	test.That(t, err, test.ShouldBeNil)
	defer unsub()

	const n = 300
	for i := 0; i < n; i++ {
		_, err := writer.Add(ctx, "mail", map[string]any{"seq": i})
		test.That(t, err, test.ShouldBeNil)
	}
	close(gate)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(added) >= n
	})
	mu.Lock()
	test.That(t, len(added), test.ShouldEqual, n)
	test.That(t, total, test.ShouldEqual, n)
	mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
