package stages

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/reliability"
	"github.com/ent0n29/aspen/internal/utterance"
)

// RetryPolicy bounds local retries of transient stage failures.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	// OnRetry is called before each retry sleep.
	OnRetry func(stage string, attempt int, err error)
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

func (p RetryPolicy) wait(ctx context.Context, stage string, attempt int, err error) error {
	if p.OnRetry != nil {
		p.OnRetry(stage, attempt, err)
	}
	return reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt-1, p.Base, p.Cap))
}

// RetryTranscriber retries transient transcription failures.
func RetryTranscriber(t Transcriber, p RetryPolicy) Transcriber {
	return &retryTranscriber{next: t, policy: p}
}

type retryTranscriber struct {
	next   Transcriber
	policy RetryPolicy
}

func (r *retryTranscriber) Transcribe(ctx context.Context, u utterance.Utterance) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.attempts(); attempt++ {
		text, err := r.next.Transcribe(ctx, u)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if Classify(err) != KindTransient || attempt == r.policy.attempts() {
			break
		}
		if werr := r.policy.wait(ctx, "transcription", attempt, err); werr != nil {
			return "", werr
		}
	}
	return "", lastErr
}

// RetryGenerator retries transient failures that happen before the first
// fragment. Once text has been yielded the failure is returned as is.
func RetryGenerator(g Generator, p RetryPolicy) Generator {
	return &retryGenerator{next: g, policy: p}
}

type retryGenerator struct {
	next   Generator
	policy RetryPolicy
}

func (r *retryGenerator) Generate(ctx context.Context, history conversation.Snapshot, userText string) (TextStream, error) {
	return openWithRetry[string](ctx, "generation", r.policy, func(ctx context.Context) (TextStream, error) {
		return r.next.Generate(ctx, history, userText)
	})
}

// RetrySynthesizer retries transient failures that happen before the first chunk.
func RetrySynthesizer(s Synthesizer, p RetryPolicy) Synthesizer {
	return &retrySynthesizer{next: s, policy: p}
}

type retrySynthesizer struct {
	next   Synthesizer
	policy RetryPolicy
}

func (r *retrySynthesizer) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	return openWithRetry[AudioChunk](ctx, "synthesis", r.policy, func(ctx context.Context) (AudioStream, error) {
		return r.next.Synthesize(ctx, text)
	})
}

func openWithRetry[T any](ctx context.Context, stage string, p RetryPolicy, open func(context.Context) (Stream[T], error)) (Stream[T], error) {
	s := &retryStream[T]{stage: stage, policy: p, open: open}
	if err := s.reopen(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type retryStream[T any] struct {
	stage   string
	policy  RetryPolicy
	open    func(context.Context) (Stream[T], error)
	cur     Stream[T]
	attempt int
	yielded bool
}

func (s *retryStream[T]) reopen(ctx context.Context) error {
	for {
		s.attempt++
		cur, err := s.open(ctx)
		if err == nil {
			s.cur = cur
			return nil
		}
		if Classify(err) != KindTransient || s.attempt >= s.policy.attempts() {
			return err
		}
		if werr := s.policy.wait(ctx, s.stage, s.attempt, err); werr != nil {
			return werr
		}
	}
}

func (s *retryStream[T]) Next(ctx context.Context) (T, error) {
	for {
		v, err := s.cur.Next(ctx)
		if err == nil {
			s.yielded = true
			return v, nil
		}
		if errors.Is(err, io.EOF) || s.yielded || Classify(err) != KindTransient || s.attempt >= s.policy.attempts() {
			return v, err
		}
		_ = s.cur.Close()
		if werr := s.policy.wait(ctx, s.stage, s.attempt, err); werr != nil {
			var zero T
			return zero, werr
		}
		if rerr := s.reopen(ctx); rerr != nil {
			var zero T
			return zero, rerr
		}
	}
}

func (s *retryStream[T]) Close() error {
	if s.cur == nil {
		return nil
	}
	return s.cur.Close()
}
