package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Latency budgets per pipeline stage, measured on the 95th percentile.
var stageBudgets = map[string]time.Duration{
	"transcription": 500 * time.Millisecond,
	"response":      900 * time.Millisecond,
	"first_audio":   1400 * time.Millisecond,
	"turn_total":    6 * time.Second,
}

type StageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

type EventCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencySnapshot is served on /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Events      []EventCount `json:"events,omitempty"`
}

// ring keeps the most recent samples of one stage.
type ring struct {
	samples []time.Duration
	pos     int
	full    bool
}

func (r *ring) add(d time.Duration) {
	r.samples[r.pos] = d
	r.pos = (r.pos + 1) % len(r.samples)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *ring) last() time.Duration {
	i := r.pos - 1
	if i < 0 {
		i = len(r.samples) - 1
	}
	return r.samples[i]
}

// sorted returns a sorted copy of the retained samples.
func (r *ring) sorted() []time.Duration {
	n := r.pos
	if r.full {
		n = len(r.samples)
	}
	out := append([]time.Duration(nil), r.samples[:n]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// latencyWindow aggregates recent stage latencies and counts notable events
// (barge-ins, stage failures) since start or the last reset.
type latencyWindow struct {
	mu     sync.Mutex
	size   int
	stages map[string]*ring
	events map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:   size,
		stages: make(map[string]*ring),
		events: make(map[string]int),
	}
}

func (w *latencyWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.stages[stage]
	if r == nil {
		r = &ring{samples: make([]time.Duration, w.size)}
		w.stages[stage] = r
	}
	r.add(d)
}

func (w *latencyWindow) Count(event string) {
	if event == "" {
		return
	}
	w.mu.Lock()
	w.events[event]++
	w.mu.Unlock()
}

func (w *latencyWindow) Reset() {
	w.mu.Lock()
	w.stages = make(map[string]*ring)
	w.events = make(map[string]int)
	w.mu.Unlock()
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.stages)),
	}
	for stage, r := range w.stages {
		samples := r.sorted()
		if len(samples) == 0 {
			continue
		}
		var sum time.Duration
		for _, d := range samples {
			sum += d
		}
		st := StageStats{
			Stage:   stage,
			Samples: len(samples),
			LastMS:  millis(r.last()),
			MeanMS:  millis(sum / time.Duration(len(samples))),
			P50MS:   millis(nearestRank(samples, 0.50)),
			P95MS:   millis(nearestRank(samples, 0.95)),
			MaxMS:   millis(samples[len(samples)-1]),
		}
		if budget, ok := stageBudgets[stage]; ok {
			st.BudgetMS = millis(budget)
			st.OverBudget = len(samples) - sort.Search(len(samples), func(i int) bool { return samples[i] > budget })
		}
		snap.Stages = append(snap.Stages, st)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	for name, n := range w.events {
		snap.Events = append(snap.Events, EventCount{Name: name, Count: n})
	}
	sort.Slice(snap.Events, func(i, j int) bool { return snap.Events[i].Name < snap.Events[j].Name })
	return snap
}

// nearestRank picks the sample at rank ceil(q*n) of an ascending slice.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
