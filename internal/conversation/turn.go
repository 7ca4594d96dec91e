package conversation

import (
	"time"
)

type Status string

const (
	StatusPendingTranscription Status = "pending_transcription"
	StatusPendingReply         Status = "pending_reply"
	StatusPendingSynthesis     Status = "pending_synthesis"
	StatusSpeaking             Status = "speaking"
	StatusCompleted            Status = "completed"
	StatusInterrupted          Status = "interrupted"
	StatusFailed               Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusInterrupted, StatusFailed:
		return true
	default:
		return false
	}
}

// Kind separates user-initiated turns from assistant-only ones.
type Kind string

const (
	KindUser     Kind = "user"
	KindGreeting Kind = "greeting"
	KindApology  Kind = "apology"
)

// ChunkInfo describes one reply audio chunk handed to egress.
type ChunkInfo struct {
	Seq       int           `json:"seq"`
	Text      string        `json:"text"`
	Duration  time.Duration `json:"duration"`
	Delivered bool          `json:"delivered"`
}

// Turn is one utterance/reply pair.
type Turn struct {
	ID        uint64      `json:"id"`
	Kind      Kind        `json:"kind"`
	UserText  string      `json:"user_text,omitempty"`
	ReplyText string      `json:"reply_text,omitempty"`
	Chunks    []ChunkInfo `json:"chunks,omitempty"`
	Status    Status      `json:"status"`
	// Note is a system remark recorded for failed turns.
	Note        string    `json:"note,omitempty"`
	WordsSpoken int       `json:"words_spoken"`
	WordsTotal  int       `json:"words_total"`
	CreatedAt   time.Time `json:"created_at"`
	SpeakingAt  time.Time `json:"speaking_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

var forward = map[Status]Status{
	StatusPendingTranscription: StatusPendingReply,
	StatusPendingReply:         StatusPendingSynthesis,
	StatusPendingSynthesis:     StatusSpeaking,
	StatusSpeaking:             StatusCompleted,
}

// Transition moves the turn to status to. It returns false and leaves the turn
// untouched when the turn is already terminal or the move skips a stage.
// Interrupted and failed are reachable from any non-terminal status.
func (t *Turn) Transition(to Status, at time.Time) bool {
	if t.Status.Terminal() {
		return false
	}
	switch to {
	case StatusInterrupted, StatusFailed:
	default:
		if forward[t.Status] != to {
			return false
		}
	}
	t.Status = to
	switch {
	case to == StatusSpeaking:
		t.SpeakingAt = at
	case to.Terminal():
		t.EndedAt = at
	}
	return true
}

// Clone returns a deep copy.
func (t Turn) Clone() Turn {
	c := t
	if t.Chunks != nil {
		c.Chunks = make([]ChunkInfo, len(t.Chunks))
		copy(c.Chunks, t.Chunks)
	}
	return c
}
