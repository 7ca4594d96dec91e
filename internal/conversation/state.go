// Package conversation holds the per-call conversation model: turns, their status
// machine, word timing estimates and the append-only conversation state.
package conversation

import (
	"fmt"
	"strings"
	"sync"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the append-only turn log for one call. The turn controller is its only
// writer; everyone else reads Snapshots.
type State struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewState() *State {
	return &State{}
}

// Append records a terminal turn.
func (s *State) Append(t Turn) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("turn %d is %s, only terminal turns can be appended", t.ID, t.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); n > 0 && s.turns[n-1].ID >= t.ID {
		return fmt.Errorf("turn %d appended after turn %d", t.ID, s.turns[n-1].ID)
	}
	s.turns = append(s.turns, t.Clone())
	return nil
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Snapshot copies the current turns. The result is never modified by State.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		turns[i] = t.Clone()
	}
	return Snapshot{Turns: turns}
}

type Snapshot struct {
	Turns []Turn
}

// Messages renders the turns as role/content messages for a generator. Consecutive
// messages of the same role are merged.
func (s Snapshot) Messages() []Message {
	var msgs []Message
	for _, t := range s.Turns {
		if strings.TrimSpace(t.UserText) != "" {
			msgs = AppendMessage(msgs, RoleUser, t.UserText)
		}
		switch t.Status {
		case StatusFailed:
			if strings.TrimSpace(t.ReplyText) != "" {
				msgs = AppendMessage(msgs, RoleAssistant, t.ReplyText)
			}
			if strings.TrimSpace(t.Note) != "" {
				msgs = AppendMessage(msgs, RoleSystem, t.Note)
			}
		default:
			if strings.TrimSpace(t.ReplyText) != "" {
				msgs = AppendMessage(msgs, RoleAssistant, t.ReplyText)
			}
		}
	}
	return msgs
}

// AppendMessage appends content, joining it onto the last message when the role
// repeats. A space separates the parts unless content opens with . ! ? or ,
func AppendMessage(msgs []Message, role Role, content string) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		last := &msgs[n-1]
		spacer := ""
		if last.Content != "" && !strings.HasPrefix(content, ".") && !strings.HasPrefix(content, "!") &&
			!strings.HasPrefix(content, "?") && !strings.HasPrefix(content, ",") {
			spacer = " "
		}
		last.Content = last.Content + spacer + content
		return msgs
	}
	return append(msgs, Message{Role: role, Content: content})
}
