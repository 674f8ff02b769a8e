package call

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	// SpeakingThreshold is the RMS magnitude above which a stream counts as
	// speech, on the 0-255 energy scale.
	SpeakingThreshold = 5.0

	// analyserWindow is how many recent magnitudes the RMS is taken over.
	analyserWindow = 32

	// detectorInterval approximates the original's per-frame tick.
	detectorInterval = 16 * time.Millisecond
)

// Analyser accumulates energy magnitudes for one audio stream.
type Analyser struct {
	mu     sync.Mutex
	window [analyserWindow]byte
	idx    int
	n      int
}

// NewAnalyser returns an empty analyser.
func NewAnalyser() *Analyser {
	return &Analyser{}
}

// Push records one 0-255 magnitude.
func (a *Analyser) Push(level byte) {
	a.mu.Lock()
	a.window[a.idx] = level
	a.idx = (a.idx + 1) % analyserWindow
	if a.n < analyserWindow {
		a.n++
	}
	a.mu.Unlock()
}

// RMS returns the root mean square of the current window.
func (a *Analyser) RMS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < a.n; i++ {
		v := float64(a.window[i])
		sum += v * v
	}
	return math.Sqrt(sum / float64(a.n))
}

// Classify is the speaking decision: energetic and not locally muted. Pure,
// so the policy is testable without audio plumbing.
func Classify(rms float64, localAndMuted bool) bool {
	return rms > SpeakingThreshold && !localAndMuted
}

// Detector polls every analyser on a tick and publishes a speaking map when
// at least one classification changed.
type Detector struct {
	clk      clock.Clock
	log      zerolog.Logger
	onChange func(map[string]bool)

	mu      sync.Mutex
	localID string
	local   *Analyser
	muted   bool
	remotes map[string]*Analyser
	last    map[string]bool

	stop    chan struct{}
	running bool
}

// NewDetector builds a stopped detector. onChange receives a fresh map each
// time; callers own it.
func NewDetector(clk clock.Clock, onChange func(map[string]bool), log zerolog.Logger) *Detector {
	return &Detector{
		clk:      clk,
		log:      log.With().Str("component", "vad").Logger(),
		onChange: onChange,
		remotes:  make(map[string]*Analyser),
		last:     make(map[string]bool),
	}
}

// SetLocal registers the local stream and returns its analyser.
func (d *Detector) SetLocal(id string) *Analyser {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localID = id
	d.local = NewAnalyser()
	return d.local
}

// SetMuted pins the local classification to not-speaking while true.
func (d *Detector) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
}

// Remote returns the analyser for a remote stream, creating it on first use.
func (d *Detector) Remote(id string) *Analyser {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.remotes[id]
	if !ok {
		a = NewAnalyser()
		d.remotes[id] = a
	}
	return a
}

// Remove drops a remote analyser. Safe when the id is unknown; the polling
// tick simply skips entries that disappear under it.
func (d *Detector) Remove(id string) {
	d.mu.Lock()
	delete(d.remotes, id)
	d.mu.Unlock()
}

// Start launches the polling loop.
func (d *Detector) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	go func() {
		ticker := d.clk.Ticker(detectorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.tick()
			}
		}
	}()
}

// Stop cancels the polling loop.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.stop)
}

// tick reclassifies every stream and emits only on change.
func (d *Detector) tick() {
	d.mu.Lock()
	next := make(map[string]bool, len(d.remotes)+1)
	if d.local != nil && d.localID != "" {
		next[d.localID] = Classify(d.local.RMS(), d.muted)
	}
	for id, a := range d.remotes {
		next[id] = Classify(a.RMS(), false)
	}

	changed := len(next) != len(d.last)
	if !changed {
		for id, v := range next {
			if d.last[id] != v {
				changed = true
				break
			}
		}
	}
	if changed {
		d.last = next
	}
	onChange := d.onChange
	d.mu.Unlock()

	if changed && onChange != nil {
		out := make(map[string]bool, len(next))
		for id, v := range next {
			out[id] = v
		}
		onChange(out)
	}
}
