// Package metrics is the process-wide observation sink: bounded per-series
// ring buffers of duration samples plus named counters. It is the only
// state shared between requests; everything is guarded by one mutex and
// writes are cheap, so best-effort observability never blocks request work.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
)

// DefaultCapacity is the per-series ring buffer size.
const DefaultCapacity = 1000

// Recorder accumulates duration samples and counters across requests.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	series   map[string]*ring
	counters map[string]int64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithCapacity overrides the per-series sample capacity.
func WithCapacity(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// NewRecorder builds an empty recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		capacity: DefaultCapacity,
		series:   make(map[string]*ring),
		counters: make(map[string]int64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Observe appends one sample (milliseconds) to the named series, evicting
// the oldest sample when the ring is at capacity.
func (r *Recorder) Observe(series string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.series[series]
	if !ok {
		rg = newRing(r.capacity)
		r.series[series] = rg
	}
	rg.push(ms)
}

// Incr adds one to the named counter.
func (r *Recorder) Incr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name]++
}

// Counter returns the current value of the named counter.
func (r *Recorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Len returns the number of retained samples in the named series.
func (r *Recorder) Len(series string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.series[series]
	if !ok {
		return 0
	}
	return rg.len()
}

// Snapshot copies the retained samples of the named series, oldest first.
func (r *Recorder) Snapshot(series string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.series[series]
	if !ok {
		return nil
	}
	return rg.snapshot()
}

// Percentile answers a read-only quantile query over a snapshot of the
// named series: the snapshot is sorted and the ceiling-indexed element is
// selected, index = ceil((n-1) * p). An empty series yields 0.
func (r *Recorder) Percentile(series string, p float64) float64 {
	samples := r.Snapshot(series)
	if len(samples) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}

	sort.Float64s(samples)
	idx := int(math.Ceil(float64(len(samples)-1) * p))
	return samples[idx]
}

// SeriesNames returns the names of all series observed so far, sorted.
func (r *Recorder) SeriesNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var exportQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// WriteText renders a Prometheus-style text exposition of every series and
// counter. Output ordering is deterministic.
func (r *Recorder) WriteText(w io.Writer) error {
	for _, name := range r.SeriesNames() {
		metric := "abacusd_" + sanitizeName(name) + "_duration_ms"
		for _, q := range exportQuantiles {
			v := r.Percentile(name, q)
			if _, err := fmt.Fprintf(w, "%s{quantile=\"%g\"} %g\n", metric, q, v); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_count %d\n", metric, r.Len(name)); err != nil {
			return err
		}
	}

	r.mu.Lock()
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	counters := make(map[string]int64, len(names))
	for _, name := range names {
		counters[name] = r.counters[name]
	}
	r.mu.Unlock()

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "abacusd_%s %d\n", sanitizeName(name), counters[name]); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// ring is a fixed-capacity FIFO of float64 samples.
type ring struct {
	samples []float64
	next    int
	full    bool
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	r.samples[r.next] = v
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.samples)
	}
	return r.next
}

func (r *ring) snapshot() []float64 {
	if !r.full {
		out := make([]float64, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]float64, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}
