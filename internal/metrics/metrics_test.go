package metrics

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestPercentileSelectsCeilingIndexedElement(t *testing.T) {
	r := NewRecorder()
	for _, v := range []float64{10, 20, 30, 40, 50} {
		r.Observe("request", v)
	}

	if got := r.Percentile("request", 0.5); got != 30 {
		t.Fatalf("p50 = %v, want 30", got)
	}
	if got := r.Percentile("request", 0.95); got != 50 {
		t.Fatalf("p95 = %v, want 50", got)
	}
	if got := r.Percentile("request", 0); got != 10 {
		t.Fatalf("p0 = %v, want 10", got)
	}
	if got := r.Percentile("request", 1); got != 50 {
		t.Fatalf("p100 = %v, want 50", got)
	}
}

func TestPercentileEmptySeriesIsZero(t *testing.T) {
	r := NewRecorder()
	if got := r.Percentile("never-observed", 0.5); got != 0 {
		t.Fatalf("empty series percentile = %v, want 0", got)
	}
}

func TestPercentileUnsortedInput(t *testing.T) {
	r := NewRecorder()
	for _, v := range []float64{50, 10, 40, 20, 30} {
		r.Observe("request", v)
	}
	if got := r.Percentile("request", 0.5); got != 30 {
		t.Fatalf("p50 = %v, want 30", got)
	}
}

func TestRingBoundedAndEvictsOldestFirst(t *testing.T) {
	const capacity = 8
	r := NewRecorder(WithCapacity(capacity))

	for n := 1; n <= 3*capacity; n++ {
		r.Observe("request", float64(n))

		wantLen := n
		if wantLen > capacity {
			wantLen = capacity
		}
		if got := r.Len("request"); got != wantLen {
			t.Fatalf("after %d samples Len = %d, want %d", n, got, wantLen)
		}

		snap := r.Snapshot("request")
		oldest := 1
		if n > capacity {
			oldest = n - capacity + 1
		}
		for i, v := range snap {
			if want := float64(oldest + i); v != want {
				t.Fatalf("after %d samples snapshot[%d] = %v, want %v", n, i, v, want)
			}
		}
	}
}

func TestCounters(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 5; i++ {
		r.Incr("requests_total")
	}
	r.Incr("errors_total")

	if got := r.Counter("requests_total"); got != 5 {
		t.Fatalf("requests_total = %d, want 5", got)
	}
	if got := r.Counter("errors_total"); got != 1 {
		t.Fatalf("errors_total = %d, want 1", got)
	}
	if got := r.Counter("missing"); got != 0 {
		t.Fatalf("missing counter = %d, want 0", got)
	}
}

func TestConcurrentObserve(t *testing.T) {
	r := NewRecorder(WithCapacity(64))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			series := fmt.Sprintf("tool.worker%d", g%2)
			for i := 0; i < 100; i++ {
				r.Observe(series, float64(i))
				r.Incr("requests_total")
			}
		}(g)
	}
	wg.Wait()

	if got := r.Counter("requests_total"); got != 800 {
		t.Fatalf("requests_total = %d, want 800", got)
	}
	for _, series := range []string{"tool.worker0", "tool.worker1"} {
		if got := r.Len(series); got != 64 {
			t.Fatalf("%s Len = %d, want 64", series, got)
		}
	}
}

func TestWriteTextRendersSeriesAndCounters(t *testing.T) {
	r := NewRecorder()
	for _, v := range []float64{10, 20, 30, 40, 50} {
		r.Observe("request", v)
		r.Observe("tool.add", v/10)
	}
	r.Incr("requests_total")

	var sb strings.Builder
	if err := r.WriteText(&sb); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		`abacusd_request_duration_ms{quantile="0.5"} 30`,
		`abacusd_request_duration_ms_count 5`,
		`abacusd_tool_add_duration_ms{quantile="0.95"} 5`,
		`abacusd_requests_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
