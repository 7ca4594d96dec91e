package lull

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/queue"
)

// scripted scores frames by their index in the stream.
func scripted(probs []float64) Scorer {
	return ScorerFunc(func(_ context.Context, f audio.Frame) (float64, error) {
		idx := int(f.Timestamp / (32 * time.Millisecond))
		if idx < len(probs) {
			return probs[idx], nil
		}
		return 0, nil
	})
}

func frameAt(i int) audio.Frame {
	return audio.Frame{
		Samples:    make([]int16, 512),
		SampleRate: 16000,
		Timestamp:  time.Duration(i) * 32 * time.Millisecond,
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func runAll(t *testing.T, d *Detector, n int) []Result {
	t.Helper()
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d.Process(context.Background(), frameAt(i)))
	}
	return out
}

func TestDetectorHysteresis(t *testing.T) {
	probs := append(repeat(0.1, 5), repeat(0.9, 10)...)
	probs = append(probs, repeat(0.0, 30)...)
	d, err := NewDetector(DefaultConfig(), scripted(probs))
	require.NoError(t, err)

	results := runAll(t, d, len(probs))

	var events []*Event
	var at []int
	for i, r := range results {
		if r.Event != nil {
			events = append(events, r.Event)
			at = append(at, i)
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, SpeechStart, events[0].Type)
	assert.Equal(t, 7, at[0], "start fires on the third consecutive speech frame")
	assert.Len(t, events[0].PreRoll, 8, "pre-roll includes every frame seen so far")
	assert.Equal(t, SpeechEnd, events[1].Type)
	assert.Equal(t, 15+23, at[1], "end fires on the 24th consecutive silent frame")
	assert.False(t, d.InSpeech())
}

func TestDetectorIgnoresShortNoiseBursts(t *testing.T) {
	probs := []float64{0.9, 0.9, 0.1, 0.9, 0.9, 0.1, 0.9, 0.1}
	d, err := NewDetector(DefaultConfig(), scripted(probs))
	require.NoError(t, err)

	for _, r := range runAll(t, d, len(probs)) {
		assert.Nil(t, r.Event)
	}
}

func TestDetectorThresholdIsStrict(t *testing.T) {
	probs := repeat(0.4, 10)
	d, err := NewDetector(DefaultConfig(), scripted(probs))
	require.NoError(t, err)

	for _, r := range runAll(t, d, len(probs)) {
		assert.False(t, r.Speech)
		assert.Nil(t, r.Event)
	}
}

func TestDetectorBreathPauseDoesNotEndSpeech(t *testing.T) {
	probs := append(repeat(0.9, 5), repeat(0.0, 10)...)
	probs = append(probs, repeat(0.9, 5)...)
	d, err := NewDetector(DefaultConfig(), scripted(probs))
	require.NoError(t, err)

	starts, ends := 0, 0
	for _, r := range runAll(t, d, len(probs)) {
		if r.Event == nil {
			continue
		}
		switch r.Event.Type {
		case SpeechStart:
			starts++
		case SpeechEnd:
			ends++
		}
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, ends)
	assert.True(t, d.InSpeech())
}

func TestDetectorPreRollIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreRollFrames = 4
	probs := append(repeat(0.0, 20), repeat(0.9, 3)...)
	d, err := NewDetector(cfg, scripted(probs))
	require.NoError(t, err)

	results := runAll(t, d, len(probs))
	ev := results[len(results)-1].Event
	require.NotNil(t, ev)
	require.Len(t, ev.PreRoll, 4)
	assert.Equal(t, frameAt(19).Timestamp, ev.PreRoll[0].Timestamp)
	assert.Equal(t, frameAt(22).Timestamp, ev.PreRoll[3].Timestamp)
}

func TestDetectorScorerErrorCountsAsSilence(t *testing.T) {
	boom := errors.New("model unavailable")
	d, err := NewDetector(DefaultConfig(), ScorerFunc(func(context.Context, audio.Frame) (float64, error) {
		return 0.99, boom
	}))
	require.NoError(t, err)

	r := d.Process(context.Background(), frameAt(0))
	assert.ErrorIs(t, r.Err, boom)
	assert.False(t, r.Speech)
}

func TestDetectorBoundaryPairingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 50 + rng.Intn(400)
		probs := make([]float64, n)
		for i := range probs {
			// Bursty input so both boundaries are exercised.
			if (i/(1+rng.Intn(30)))%2 == 0 {
				probs[i] = rng.Float64()
			} else {
				probs[i] = rng.Float64() * 0.3
			}
		}
		cfg := Config{
			Threshold:     0.5,
			StartFrames:   1 + rng.Intn(4),
			EndFrames:     1 + rng.Intn(30),
			PreRollFrames: rng.Intn(30),
		}
		d, err := NewDetector(cfg, scripted(probs))
		require.NoError(t, err)

		open := false
		for _, r := range runAll(t, d, n) {
			if r.Event == nil {
				continue
			}
			switch r.Event.Type {
			case SpeechStart:
				require.False(t, open, "trial %d: SpeechStart while open", trial)
				open = true
			case SpeechEnd:
				require.True(t, open, "trial %d: SpeechEnd without SpeechStart", trial)
				open = false
			}
		}
		if ev := d.Flush(); ev != nil {
			require.True(t, open)
		}
	}
}

func TestDetectorRunFlushesOnClose(t *testing.T) {
	probs := repeat(0.9, 6)
	d, err := NewDetector(DefaultConfig(), scripted(probs))
	require.NoError(t, err)

	in := queue.New[audio.Frame]()
	for i := 0; i < len(probs); i++ {
		in.Push(frameAt(i))
	}
	in.Close()

	var got []Result
	require.NoError(t, d.Run(context.Background(), in, func(r Result) { got = append(got, r) }))
	require.Len(t, got, len(probs)+1)
	last := got[len(got)-1]
	require.NotNil(t, last.Event)
	assert.Equal(t, SpeechEnd, last.Event.Type)
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{Threshold: 1.2, StartFrames: 1, EndFrames: 1},
		{Threshold: 0.4, StartFrames: 0, EndFrames: 1},
		{Threshold: 0.4, StartFrames: 1, EndFrames: 0},
		{Threshold: 0.4, StartFrames: 1, EndFrames: 1, PreRollFrames: -1},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate(), "%+v", c)
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestEnergyScorer(t *testing.T) {
	s := NewEnergyScorer(0)
	quiet := audio.Frame{Samples: make([]int16, 256), SampleRate: 8000}
	p, err := s.Score(context.Background(), quiet)
	require.NoError(t, err)
	assert.Zero(t, p)

	loud := audio.Frame{Samples: make([]int16, 256), SampleRate: 8000}
	for i := range loud.Samples {
		if i%2 == 0 {
			loud.Samples[i] = 20000
		} else {
			loud.Samples[i] = -20000
		}
	}
	for i := 0; i < 10; i++ {
		p, err = s.Score(context.Background(), loud)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, p)
}
