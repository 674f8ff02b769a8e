package call

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.viam.com/test"
)

func TestAnalyserRMS(t *testing.T) {
	a := NewAnalyser()
	test.That(t, a.RMS(), test.ShouldEqual, 0.0)

	a.Push(10)
	test.That(t, a.RMS(), test.ShouldAlmostEqual, 10.0, 1e-9)

	for i := 0; i < analyserWindow; i++ {
		a.Push(6)
	}
	test.That(t, a.RMS(), test.ShouldAlmostEqual, 6.0, 1e-9)

	// Silence pushes the window back down.
	for i := 0; i < analyserWindow; i++ {
		a.Push(0)
	}
	test.That(t, a.RMS(), test.ShouldEqual, 0.0)
}

func TestClassify(t *testing.T) {
	test.That(t, Classify(SpeakingThreshold, false), test.ShouldBeFalse)
	test.That(t, Classify(SpeakingThreshold+0.1, false), test.ShouldBeTrue)
	test.That(t, Classify(255, false), test.ShouldBeTrue)
	test.That(t, Classify(255, true), test.ShouldBeFalse)
	test.That(t, Classify(0, false), test.ShouldBeFalse)
}

func TestDetectorMutedNeverSpeaking(t *testing.T) {
	d := NewDetector(clock.New(), nil, zerolog.Nop())
	a := d.SetLocal("me")
	for i := 0; i < analyserWindow; i++ {
		a.Push(200)
	}

	d.tick()
	test.That(t, d.last["me"], test.ShouldBeTrue)

	d.SetMuted(true)
	d.tick()
	test.That(t, d.last["me"], test.ShouldBeFalse)

	d.SetMuted(false)
	d.tick()
	test.That(t, d.last["me"], test.ShouldBeTrue)
}

func TestDetectorChangeOnlyEmission(t *testing.T) {
	var mu sync.Mutex
	var emissions []map[string]bool
	d := NewDetector(clock.New(), func(m map[string]bool) {
		mu.Lock()
		emissions = append(emissions, m)
		mu.Unlock()
	}, zerolog.Nop())

	local := d.SetLocal("me")
	remote := d.Remote("peer")

	// First tick always emits: the map went from empty to classified.
	d.tick()
	// Nothing changed; no further emission.
	d.tick()
	d.tick()

	mu.Lock()
	test.That(t, len(emissions), test.ShouldEqual, 1)
	test.That(t, emissions[0]["me"], test.ShouldBeFalse)
	test.That(t, emissions[0]["peer"], test.ShouldBeFalse)
	mu.Unlock()

	for i := 0; i < analyserWindow; i++ {
		local.Push(100)
		remote.Push(100)
	}
	d.tick()
	d.tick()

	mu.Lock()
	test.That(t, len(emissions), test.ShouldEqual, 2)
	test.That(t, emissions[1]["me"], test.ShouldBeTrue)
	test.That(t, emissions[1]["peer"], test.ShouldBeTrue)
	mu.Unlock()

	// A removed peer disappears from the map, which is itself a change.
	d.Remove("peer")
	d.tick()
	mu.Lock()
	test.That(t, len(emissions), test.ShouldEqual, 3)
	_, present := emissions[2]["peer"]
	test.That(t, present, test.ShouldBeFalse)
	mu.Unlock()
}

func TestDetectorPolling(t *testing.T) {
	clk := clock.NewMock()
	var mu sync.Mutex
	emitted := 0
	d := NewDetector(clk, func(map[string]bool) {
		mu.Lock()
		emitted++
		mu.Unlock()
	}, zerolog.Nop())
	a := d.SetLocal("me")
	for i := 0; i < analyserWindow; i++ {
		a.Push(50)
	}

	d.Start()
	defer d.Stop()

	// Advance the mock clock until the polling goroutine's ticker fires.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		clk.Add(detectorInterval)
		mu.Lock()
		done := emitted >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	test.That(t, emitted, test.ShouldBeGreaterThanOrEqualTo, 1)
	mu.Unlock()

	d.Stop()
	d.Stop() // idempotent
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
