package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("first_audio", 500*time.Millisecond)
	w.Observe("first_audio", 1500*time.Millisecond)
	w.Observe("first_audio", 700*time.Millisecond)
	w.Count("barge_in")
	w.Count("barge_in")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "first_audio" || s.Samples != 3 {
		t.Fatalf("stage = %+v", s)
	}
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700", s.LastMS)
	}
	if s.P50MS != 700 || s.P95MS != 1500 || s.MaxMS != 1500 {
		t.Fatalf("percentiles = p50 %.2f p95 %.2f max %.2f", s.P50MS, s.P95MS, s.MaxMS)
	}
	if s.MeanMS != 900 {
		t.Fatalf("MeanMS = %.2f, want 900", s.MeanMS)
	}
	if s.BudgetMS != 1400 || s.OverBudget != 1 {
		t.Fatalf("budget = %.2f over = %d, want 1400 and 1", s.BudgetMS, s.OverBudget)
	}
	if len(snap.Events) != 1 || snap.Events[0] != (EventCount{Name: "barge_in", Count: 2}) {
		t.Fatalf("Events = %+v", snap.Events)
	}
}

func TestLatencyWindowKeepsNewestSamples(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("response", 100*time.Millisecond)
	w.Observe("response", 200*time.Millisecond)
	w.Observe("response", 300*time.Millisecond)
	w.Observe("", 50*time.Millisecond)
	w.Observe("response", -time.Millisecond)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 2 {
		t.Fatalf("Stages = %+v, want one stage with 2 samples", snap.Stages)
	}
	if got := snap.Stages[0]; got.MeanMS != 250 || got.LastMS != 300 {
		t.Fatalf("stage = %+v, want mean 250 last 300", got)
	}

	w.Reset()
	if got := w.Snapshot(); len(got.Stages) != 0 || len(got.Events) != 0 {
		t.Fatalf("Snapshot() after Reset = %+v, want empty", got)
	}
}

func TestNearestRank(t *testing.T) {
	s := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := nearestRank(s, 0.5); got != 5 {
		t.Fatalf("p50 = %d, want 5", got)
	}
	if got := nearestRank(s, 0.95); got != 10 {
		t.Fatalf("p95 = %d, want 10", got)
	}
	if got := nearestRank(s[:1], 0); got != 1 {
		t.Fatalf("p0 = %d, want 1", got)
	}
}
