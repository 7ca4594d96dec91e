package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("call not found")

// Call is the registry view of one live or finished call.
type Call struct {
	ID                string     `json:"call_id"`
	Channel           string     `json:"channel"`
	StreamSID         string     `json:"stream_sid,omitempty"`
	CallSID           string     `json:"call_sid,omitempty"`
	Status            Status     `json:"status"`
	ActiveTurnID      uint64     `json:"active_turn_id,omitempty"`
	TurnCount         int        `json:"turn_count"`
	InterruptionCount int        `json:"interruption_count"`
	StartedAt         time.Time  `json:"started_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	callByStream      map[string]string
	inactivityTimeout time.Duration
	retain            int
	onExpire          func(*Call)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*Call),
		callByStream:      make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		retain:            200,
	}
}

func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new active call. streamSID may be empty for local calls.
func (m *Manager) Create(channel, streamSID, callSID string) *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		Channel:        channel,
		StreamSID:      streamSID,
		CallSID:        callSID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	if streamSID != "" {
		m.callByStream[streamSID] = c.ID
	}
	m.pruneLocked()
	return clone(c)
}

func (m *Manager) Get(callID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) GetByStream(streamSID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.callByStream[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.calls[id]), nil
}

// List returns all retained calls, newest first.
func (m *Manager) List() []*Call {
	m.mu.RLock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, clone(c))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *Manager) Touch(callID string) error {
	return m.update(callID, func(*Call) {})
}

func (m *Manager) StartTurn(callID string, turnID uint64) error {
	return m.update(callID, func(c *Call) { c.ActiveTurnID = turnID })
}

// CommitTurn counts a finished turn and clears the active marker if it matches.
func (m *Manager) CommitTurn(callID string, turnID uint64) error {
	return m.update(callID, func(c *Call) {
		c.TurnCount++
		if c.ActiveTurnID == turnID {
			c.ActiveTurnID = 0
		}
	})
}

func (m *Manager) Interrupt(callID string) error {
	return m.update(callID, func(c *Call) {
		c.InterruptionCount++
		c.ActiveTurnID = 0
	})
}

func (m *Manager) End(callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status == StatusActive {
		m.endLocked(c, time.Now().UTC())
	}
	return clone(c), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) update(callID string, fn func(*Call)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) endLocked(c *Call, at time.Time) {
	c.Status = StatusEnded
	c.ActiveTurnID = 0
	c.LastActivityAt = at
	c.EndedAt = &at
	if c.StreamSID != "" {
		delete(m.callByStream, c.StreamSID)
	}
}

// pruneLocked drops the oldest ended calls once more than retain are kept.
func (m *Manager) pruneLocked() {
	if len(m.calls) <= m.retain {
		return
	}
	var ended []*Call
	for _, c := range m.calls {
		if c.Status == StatusEnded {
			ended = append(ended, c)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].StartedAt.Before(ended[j].StartedAt) })
	for _, c := range ended {
		if len(m.calls) <= m.retain {
			return
		}
		delete(m.calls, c.ID)
	}
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call

	m.mu.Lock()
	for _, c := range m.calls {
		if c.Status != StatusActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(c, now)
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	out := *c
	if c.EndedAt != nil {
		at := *c.EndedAt
		out.EndedAt = &at
	}
	return &out
}
