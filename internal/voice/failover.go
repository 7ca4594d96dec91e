package voice

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

// NewFailoverPair builds a transcriber and synthesizer that prefer the primary
// backends and switch to the fallbacks when a primary request fails. Once the
// fallback succeeds it stays active until it fails; then the primary is retried.
// Cancellation never triggers a switch.
func NewFailoverPair(
	primaryT stages.Transcriber,
	primaryS stages.Synthesizer,
	fallbackT stages.Transcriber,
	fallbackS stages.Synthesizer,
) (stages.Transcriber, stages.Synthesizer) {
	state := &failoverState{}
	return &failoverTranscriber{state: state, primary: primaryT, fallback: fallbackT},
		&failoverSynthesizer{state: state, primary: primaryS, fallback: fallbackS}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

func (s *failoverState) activateFallback() {
	s.fallbackActive.Store(true)
}

func (s *failoverState) deactivateFallback() {
	s.fallbackActive.Store(false)
}

func (s *failoverState) isFallbackActive() bool {
	return s.fallbackActive.Load()
}

// failover runs the active backend first and the other one second.
func failover[T any](ctx context.Context, state *failoverState, stage string, primary, fallback func(context.Context) (T, error)) (T, error) {
	if state.isFallbackActive() {
		v, fbErr := fallback(ctx)
		if fbErr == nil || stages.IsCancellation(fbErr) {
			return v, fbErr
		}
		// Fallback failed after being active; try primary again.
		v, prErr := primary(ctx)
		if prErr == nil {
			state.deactivateFallback()
			return v, nil
		}
		return v, fmt.Errorf("%s fallback failed: %v; %s primary failed: %w", stage, fbErr, stage, prErr)
	}

	v, prErr := primary(ctx)
	if prErr == nil || stages.IsCancellation(prErr) {
		return v, prErr
	}
	v, fbErr := fallback(ctx)
	if fbErr != nil {
		return v, fmt.Errorf("%s primary failed: %v; %s fallback failed: %w", stage, prErr, stage, fbErr)
	}
	state.activateFallback()
	return v, nil
}

type failoverTranscriber struct {
	state    *failoverState
	primary  stages.Transcriber
	fallback stages.Transcriber
}

func (p *failoverTranscriber) Transcribe(ctx context.Context, u utterance.Utterance) (string, error) {
	return failover(ctx, p.state, "stt",
		func(ctx context.Context) (string, error) { return p.primary.Transcribe(ctx, u) },
		func(ctx context.Context) (string, error) { return p.fallback.Transcribe(ctx, u) },
	)
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  stages.Synthesizer
	fallback stages.Synthesizer
}

func (p *failoverSynthesizer) Synthesize(ctx context.Context, text string) (stages.AudioStream, error) {
	return failover(ctx, p.state, "tts",
		func(ctx context.Context) (stages.AudioStream, error) { return p.primary.Synthesize(ctx, text) },
		func(ctx context.Context) (stages.AudioStream, error) { return p.fallback.Synthesize(ctx, text) },
	)
}
