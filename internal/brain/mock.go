package brain

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/stages"
)

// MockGenerator is used when no language model is configured. It streams Reply
// (or an acknowledgement of the user text) word by word.
type MockGenerator struct {
	Reply string
	Delay time.Duration
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (m *MockGenerator) Generate(ctx context.Context, _ conversation.Snapshot, userText string) (stages.TextStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := m.Reply
	if reply == "" {
		reply = "I heard you say: " + strings.TrimSpace(userText) + "."
	}
	words := strings.SplitAfter(reply, " ")
	return &mockStream{words: words, delay: m.Delay}, nil
}

type mockStream struct {
	words []string
	delay time.Duration
}

func (s *mockStream) Next(ctx context.Context) (string, error) {
	if len(s.words) == 0 {
		return "", io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}
	w := s.words[0]
	s.words = s.words[1:]
	return w, nil
}

func (s *mockStream) Close() error {
	s.words = nil
	return nil
}
