// Package stages defines the transcription, response and synthesis collaborators the
// turn controller drives, plus the shared error taxonomy, retries and text shaping.
package stages

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/utterance"
)

// Stream is a finite, non-restartable sequence consumed once. Next returns io.EOF
// after the last item. Close releases the underlying request and is safe to call
// more than once.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
}

type TextStream = Stream[string]

type AudioStream = Stream[AudioChunk]

// AudioChunk is synthesized mono PCM16 audio with the text it speaks.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Text       string
}

func (c AudioChunk) Duration() time.Duration {
	return audio.SamplesDuration(len(c.Samples), c.SampleRate)
}

func (c AudioChunk) WordCount() int {
	return len(strings.Fields(c.Text))
}

type Transcriber interface {
	Transcribe(ctx context.Context, u utterance.Utterance) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, history conversation.Snapshot, userText string) (TextStream, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// FromSlice returns a Stream over items.
func FromSlice[T any](items ...T) Stream[T] {
	return &sliceStream[T]{items: items}
}

type sliceStream[T any] struct {
	items  []T
	closed bool
}

func (s *sliceStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.closed || len(s.items) == 0 {
		return zero, io.EOF
	}
	v := s.items[0]
	s.items = s.items[1:]
	return v, nil
}

func (s *sliceStream[T]) Close() error {
	s.closed = true
	return nil
}

// Collect drains a stream.
func Collect[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	defer s.Close()
	var out []T
	for {
		v, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
