// Package calllog records the outcome of every terminal turn. Records carry
// metadata only; conversation text stays in memory with the call.
package calllog

import (
	"context"
	"time"

	"github.com/ent0n29/aspen/internal/conversation"
)

// TurnRecord is the persisted outcome of one turn.
type TurnRecord struct {
	ID          string        `json:"id"`
	CallID      string        `json:"call_id"`
	TurnID      uint64        `json:"turn_id"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	WordsSpoken int           `json:"words_spoken"`
	WordsTotal  int           `json:"words_total"`
	Chunks      int           `json:"chunks"`
	FirstAudio  time.Duration `json:"first_audio_ns"`
	Failed      bool          `json:"failed"`
	CreatedAt   time.Time     `json:"created_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

// FromTurn builds the record for a committed turn of callID.
func FromTurn(callID string, t conversation.Turn) TurnRecord {
	r := TurnRecord{
		CallID:      callID,
		TurnID:      t.ID,
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		WordsSpoken: t.WordsSpoken,
		WordsTotal:  t.WordsTotal,
		Chunks:      len(t.Chunks),
		Failed:      t.Status == conversation.StatusFailed,
		CreatedAt:   t.CreatedAt,
		EndedAt:     t.EndedAt,
	}
	if !t.SpeakingAt.IsZero() && !t.CreatedAt.IsZero() {
		r.FirstAudio = t.SpeakingAt.Sub(t.CreatedAt)
	}
	return r
}

// Store persists and lists turn records.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	CallTurns(ctx context.Context, callID string, limit int) ([]TurnRecord, error)
	Close() error
}
