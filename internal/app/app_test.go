package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aspen/internal/config"
	"github.com/ent0n29/aspen/internal/egress"
	"github.com/ent0n29/aspen/internal/source"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:         fmt.Sprintf("aspen_app_test_%d", time.Now().UnixNano()),
		SessionInactivityTimeout: time.Minute,
		DeviceSampleRate:         16000,
		VADThreshold:             0.4,
		VADMinVolume:             0.01,
		VADStartFrames:           2,
		VADEndFrames:             4,
		VADPreRollFrames:         4,
		MinUtterance:             50 * time.Millisecond,
		MaxUtterance:             10 * time.Second,
		WordsPerMinute:           6000,
		FailurePolicy:            "apology",
		ApologyText:              "Sorry.",
		CancelGrace:              time.Second,
		TranscriberProvider:      "mock",
		BrainProvider:            "mock",
		SynthesizerProvider:      "mock",
		TranscriptionRetries:     1,
		GenerationRetries:        1,
		SynthesisRetries:         1,
		RetryBase:                time.Millisecond,
		RetryCap:                 time.Millisecond,
		CallRateLimit:            1,
		CallRateBurst:            1,
	}
}

func TestResolveStagesMockAndErrors(t *testing.T) {
	cfg := testConfig()
	cfg.TranscriberProvider = "auto"
	cfg.BrainProvider = "auto"
	cfg.SynthesizerProvider = "auto"
	setup, err := resolveStages(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "mock", setup.providers.Transcriber)
	assert.Equal(t, "mock", setup.providers.Brain)
	assert.Equal(t, "mock", setup.providers.Synthesizer)
	require.NoError(t, setup.cleanup())

	cfg.TranscriberProvider = "groq"
	_, err = resolveStages(context.Background(), cfg, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "GROQ_API_KEY")

	cfg = testConfig()
	cfg.BrainProvider = "psychic"
	_, err = resolveStages(context.Background(), cfg, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "unsupported BRAIN_PROVIDER")
}

func TestResolveStagesPrefersConfiguredBackends(t *testing.T) {
	cfg := testConfig()
	cfg.TranscriberProvider = "auto"
	cfg.BrainProvider = "auto"
	cfg.SynthesizerProvider = "auto"
	cfg.GroqAPIKey = "gsk"
	cfg.BrainHTTPURL = "http://127.0.0.1:9/reply"
	cfg.ElevenLabsAPIKey = "xi"
	cfg.FallbackSynthesizer = "mock"

	setup, err := resolveStages(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "groq", setup.providers.Transcriber)
	assert.Equal(t, "http", setup.providers.Brain)
	assert.Equal(t, "elevenlabs", setup.providers.Synthesizer)
	assert.Equal(t, "mock", setup.providers.Fallback)
}

func TestRunLocalHoldsConversation(t *testing.T) {
	cfg := testConfig()
	cfg.Greeting = "Hi there."
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer res.Cleanup()

	src, err := source.NewStream(16000, "test")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- res.Runner.RunLocal(context.Background(), src, egress.Discard{}) }()

	require.Eventually(t, func() bool { return res.Sessions.ActiveCount() == 1 }, 2*time.Second, time.Millisecond)
	calls := res.Sessions.List()
	require.Len(t, calls, 1)
	callID := calls[0].ID

	// The greeting commits first.
	require.Eventually(t, func() bool {
		c, err := res.Sessions.Get(callID)
		return err == nil && c.TurnCount == 1
	}, 2*time.Second, time.Millisecond)

	tone := make([]int16, 512*6)
	for i := range tone {
		if i%2 == 0 {
			tone[i] = 12000
		} else {
			tone[i] = -12000
		}
	}
	src.Write(tone)
	src.Write(make([]int16, 512*12))

	require.Eventually(t, func() bool {
		c, err := res.Sessions.Get(callID)
		return err == nil && c.TurnCount == 2
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		turns, err := res.CallLog.CallTurns(context.Background(), callID, 0)
		return err == nil && len(turns) == 2
	}, 2*time.Second, 5*time.Millisecond)
	turns, err := res.CallLog.CallTurns(context.Background(), callID, 0)
	require.NoError(t, err)
	assert.Equal(t, "greeting", turns[0].Kind)
	assert.Equal(t, "user", turns[1].Kind)
	assert.Equal(t, "completed", turns[1].Status)

	src.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("RunLocal did not return after the source closed")
	}
	c, err := res.Sessions.Get(callID)
	require.NoError(t, err)
	assert.Equal(t, "ended", string(c.Status))
}
