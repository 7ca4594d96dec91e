package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("twilio", "MZ1", "CA1")
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}

	got, err := m.GetByStream("MZ1")
	if err != nil {
		t.Fatalf("GetByStream() error = %v", err)
	}
	if got.ID != c.ID || got.CallSID != "CA1" || got.Status != StatusActive {
		t.Fatalf("unexpected call state: %+v", got)
	}

	ended, err := m.End(c.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt == nil {
		t.Fatalf("ended call = %+v, want ended with timestamp", ended)
	}
	if _, err := m.GetByStream("MZ1"); err != ErrNotFound {
		t.Fatalf("GetByStream() after end error = %v, want ErrNotFound", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerTurnCounters(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("local", "", "")
	if err := m.StartTurn(c.ID, 1); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Interrupt(c.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if err := m.CommitTurn(c.ID, 1); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}
	if err := m.StartTurn(c.ID, 2); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != 2 {
		t.Fatalf("ActiveTurnID = %d, want 2", got.ActiveTurnID)
	}
	if got.InterruptionCount != 1 || got.TurnCount != 1 {
		t.Fatalf("counters = %+v, want 1 interruption and 1 turn", got)
	}
	if err := m.Touch("missing"); err != ErrNotFound {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	m := NewManager(time.Minute)
	first := m.Create("local", "", "")
	time.Sleep(2 * time.Millisecond)
	second := m.Create("local", "", "")

	calls := m.List()
	if len(calls) != 2 {
		t.Fatalf("List() len = %d, want 2", len(calls))
	}
	if calls[0].ID != second.ID || calls[1].ID != first.ID {
		t.Fatalf("List() order = %s,%s", calls[0].ID, calls[1].ID)
	}
}

func TestManagerPrunesEndedCalls(t *testing.T) {
	m := NewManager(time.Minute)
	m.retain = 2
	old := m.Create("local", "", "")
	if _, err := m.End(old.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	m.Create("local", "", "")
	m.Create("local", "", "")

	if _, err := m.Get(old.ID); err != ErrNotFound {
		t.Fatalf("Get() of pruned call error = %v, want ErrNotFound", err)
	}
	if m.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", m.ActiveCount())
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	c := m.Create("twilio", "MZ2", "")
	expired := make(chan string, 1)
	m.SetExpireHook(func(c *Call) { expired <- c.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != c.ID {
			t.Fatalf("expired %q, want %q", id, c.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire the call")
	}
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
