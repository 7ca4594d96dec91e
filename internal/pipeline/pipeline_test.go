package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/brain"
	"github.com/ent0n29/aspen/internal/clock"
	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/egress"
	"github.com/ent0n29/aspen/internal/lull"
	"github.com/ent0n29/aspen/internal/source"
	"github.com/ent0n29/aspen/internal/turn"
	"github.com/ent0n29/aspen/internal/utterance"
	"github.com/ent0n29/aspen/internal/voice"
)

// loudScorer treats any non-zero frame as speech.
var loudScorer = lull.ScorerFunc(func(_ context.Context, f audio.Frame) (float64, error) {
	for _, s := range f.Samples {
		if s != 0 {
			return 1, nil
		}
	}
	return 0, nil
})

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = 4000
	}
	return out
}

func TestPipelineTurnsSpeechIntoCompletedTurn(t *testing.T) {
	src, err := source.NewStream(8000, "test")
	require.NoError(t, err)

	state := conversation.NewState()
	var ctrl *turn.Controller
	player := egress.NewPlayer(egress.Discard{}, clock.System{}, zerolog.Nop(), func(r egress.Report) { ctrl.HandleReport(r) })
	ctrl, err = turn.New(turn.DefaultConfig(), turn.Deps{
		Transcriber: &voice.MockTranscriber{Text: "what's the weather"},
		Generator:   &brain.MockGenerator{Reply: "It is sunny."},
		Synthesizer: &voice.MockSynthesizer{SampleRate: 8000, WordsPerMinute: 6000},
		Sink:        player,
		State:       state,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)

	var boundaries, utterances atomic.Int32
	p, err := New(Options{
		Source:     src,
		Scorer:     loudScorer,
		Lull:       lull.Config{Threshold: 0.4, StartFrames: 2, EndFrames: 3, PreRollFrames: 4},
		Utterance:  utterance.Config{MinDuration: 50 * time.Millisecond},
		Controller: ctrl,
		Player:     player,
		Log:        zerolog.Nop(),
		Hooks: Hooks{
			OnBoundary:  func(lull.Event) { boundaries.Add(1) },
			OnUtterance: func(utterance.Utterance) { utterances.Add(1) },
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	src.Write(make([]int16, 256*2))
	src.Write(tone(256 * 6))
	src.Write(make([]int16, 256*4))

	require.Eventually(t, func() bool { return state.Len() == 1 }, 3*time.Second, time.Millisecond)
	got := state.Snapshot().Turns[0]
	assert.Equal(t, conversation.StatusCompleted, got.Status)
	assert.Equal(t, "what's the weather", got.UserText)
	assert.Equal(t, "It is sunny.", got.ReplyText)
	assert.EqualValues(t, 2, boundaries.Load())
	assert.EqualValues(t, 1, utterances.Load())

	src.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop after the source closed")
	}
}

func TestPipelineStopsOnCancel(t *testing.T) {
	src, err := source.NewStream(16000, "test")
	require.NoError(t, err)
	var ctrl *turn.Controller
	player := egress.NewPlayer(egress.Discard{}, nil, zerolog.Nop(), func(r egress.Report) { ctrl.HandleReport(r) })
	ctrl, err = turn.New(turn.DefaultConfig(), turn.Deps{
		Transcriber: voice.NewMockTranscriber(),
		Generator:   brain.NewMockGenerator(),
		Synthesizer: voice.NewMockSynthesizer(16000),
		Sink:        player,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	p, err := New(Options{Source: src, Scorer: loudScorer, Lull: lull.DefaultConfig(), Controller: ctrl, Player: player})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop on cancel")
	}
}
