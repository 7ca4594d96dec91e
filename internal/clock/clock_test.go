package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresDueTimers(t *testing.T) {
	start := time.Unix(1700000000, 0)
	m := NewManual(start)

	early := m.After(100 * time.Millisecond)
	late := m.After(time.Second)
	if m.Waiters() != 2 {
		t.Fatalf("Waiters() = %d, want 2", m.Waiters())
	}

	m.Advance(200 * time.Millisecond)
	select {
	case got := <-early:
		if !got.Equal(start.Add(200 * time.Millisecond)) {
			t.Fatalf("early fired at %v", got)
		}
	default:
		t.Fatalf("early timer did not fire")
	}
	select {
	case <-late:
		t.Fatalf("late timer fired too soon")
	default:
	}
	if m.Waiters() != 1 {
		t.Fatalf("Waiters() = %d, want 1", m.Waiters())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatalf("After(0) should be ready")
	}
}
