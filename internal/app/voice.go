package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/brain"
	"github.com/ent0n29/aspen/internal/config"
	"github.com/ent0n29/aspen/internal/httpapi"
	"github.com/ent0n29/aspen/internal/observability"
	"github.com/ent0n29/aspen/internal/openaicompat"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/voice"
)

// stageSetup holds the resolved collaborators shared by every call.
type stageSetup struct {
	transcriber stages.Transcriber
	generator   stages.Generator
	synthesizer stages.Synthesizer
	providers   httpapi.Providers
	cleanup     func() error
}

func normalizeMode(raw string) string {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "" {
		return "auto"
	}
	return mode
}

func resolveStages(ctx context.Context, cfg config.Config, metrics *observability.Metrics, log zerolog.Logger) (stageSetup, error) {
	var setup stageSetup
	var closers []func() error
	setup.cleanup = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	transcriber, tName, err := resolveTranscriber(cfg, normalizeMode(cfg.TranscriberProvider))
	if err != nil {
		return stageSetup{}, err
	}
	generator, bName, err := resolveGenerator(cfg, normalizeMode(cfg.BrainProvider))
	if err != nil {
		return stageSetup{}, err
	}
	synthesizer, sName, closeSynth, err := resolveSynthesizer(ctx, cfg, normalizeMode(cfg.SynthesizerProvider))
	if err != nil {
		return stageSetup{}, err
	}
	if closeSynth != nil {
		closers = append(closers, closeSynth)
	}
	setup.providers = httpapi.Providers{Transcriber: tName, Brain: bName, Synthesizer: sName}

	if fb := strings.ToLower(strings.TrimSpace(cfg.FallbackSynthesizer)); fb != "" && fb != sName {
		fallback, fbName, closeFallback, err := resolveSynthesizer(ctx, cfg, fb)
		if err != nil {
			_ = setup.cleanup()
			return stageSetup{}, fmt.Errorf("fallback synthesizer: %w", err)
		}
		if closeFallback != nil {
			closers = append(closers, closeFallback)
		}
		fallbackT := transcriber
		if alt, altName, err := resolveTranscriber(cfg, alternateTranscriber(tName)); err == nil && altName != "mock" {
			fallbackT = alt
		}
		transcriber, synthesizer = voice.NewFailoverPair(transcriber, synthesizer, fallbackT, fallback)
		setup.providers.Fallback = fbName
	}

	onRetry := func(stage string, attempt int, err error) {
		if metrics != nil {
			metrics.StageRetries.WithLabelValues(stage).Inc()
		}
		log.Warn().Err(err).Str("stage", stage).Int("attempt", attempt).Msg("retrying stage")
	}
	policy := func(attempts int) stages.RetryPolicy {
		return stages.RetryPolicy{Attempts: attempts, Base: cfg.RetryBase, Cap: cfg.RetryCap, OnRetry: onRetry}
	}
	setup.transcriber = stages.RetryTranscriber(transcriber, policy(cfg.TranscriptionRetries))
	setup.generator = stages.RetryGenerator(generator, policy(cfg.GenerationRetries))
	setup.synthesizer = stages.RetrySynthesizer(synthesizer, policy(cfg.SynthesisRetries))

	log.Info().
		Str("transcriber", setup.providers.Transcriber).
		Str("brain", setup.providers.Brain).
		Str("synthesizer", setup.providers.Synthesizer).
		Str("fallback_synthesizer", setup.providers.Fallback).
		Msg("stage providers resolved")
	return setup, nil
}

func alternateTranscriber(name string) string {
	if name == "groq" {
		return "openai"
	}
	return "groq"
}

func resolveTranscriber(cfg config.Config, mode string) (stages.Transcriber, string, error) {
	whisper := func(provider, key, baseURL string) stages.Transcriber {
		client := openaicompat.NewClient(openaicompat.Config{APIKey: key, BaseURL: baseURL, Timeout: cfg.ProviderTimeout})
		model := cfg.TranscriptionModel
		if provider == "openai" && strings.HasPrefix(model, "whisper-large") {
			model = "whisper-1"
		}
		return voice.NewWhisperTranscriber(client, voice.WhisperConfig{
			Provider: provider,
			Model:    model,
			Language: cfg.TranscriptionLanguage,
		})
	}
	openaiBase := cfg.OpenAIBaseURL
	if openaiBase == "" {
		openaiBase = openaicompat.OpenAIBaseURL
	}

	switch mode {
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, "", fmt.Errorf("TRANSCRIBER_PROVIDER=groq but GROQ_API_KEY is not set")
		}
		return whisper("groq", cfg.GroqAPIKey, openaicompat.GroqBaseURL), "groq", nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("TRANSCRIBER_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		return whisper("openai", cfg.OpenAIAPIKey, openaiBase), "openai", nil
	case "mock":
		return voice.NewMockTranscriber(), "mock", nil
	case "auto":
		switch {
		case cfg.GroqAPIKey != "":
			return resolveTranscriber(cfg, "groq")
		case cfg.OpenAIAPIKey != "":
			return resolveTranscriber(cfg, "openai")
		default:
			return resolveTranscriber(cfg, "mock")
		}
	default:
		return nil, "", fmt.Errorf("unsupported TRANSCRIBER_PROVIDER %q", mode)
	}
}

func resolveGenerator(cfg config.Config, mode string) (stages.Generator, string, error) {
	switch mode {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("BRAIN_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		client := openaicompat.NewClient(openaicompat.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Timeout: cfg.ProviderTimeout})
		return brain.NewChatGenerator(client, brain.ChatConfig{
			Provider:     "openai",
			Model:        cfg.ChatModel,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  float32(cfg.Temperature),
		}), "openai", nil
	case "http":
		if cfg.BrainHTTPURL == "" {
			return nil, "", fmt.Errorf("BRAIN_PROVIDER=http but BRAIN_HTTP_URL is not set")
		}
		return brain.NewHTTPGenerator(cfg.BrainHTTPURL, cfg.SystemPrompt), "http", nil
	case "mock":
		return brain.NewMockGenerator(), "mock", nil
	case "auto":
		switch {
		case cfg.BrainHTTPURL != "":
			return resolveGenerator(cfg, "http")
		case cfg.OpenAIAPIKey != "":
			return resolveGenerator(cfg, "openai")
		default:
			return resolveGenerator(cfg, "mock")
		}
	default:
		return nil, "", fmt.Errorf("unsupported BRAIN_PROVIDER %q", mode)
	}
}

func resolveSynthesizer(ctx context.Context, cfg config.Config, mode string) (stages.Synthesizer, string, func() error, error) {
	switch mode {
	case "google":
		g, err := voice.NewGoogleSynthesizer(ctx, voice.GoogleConfig{
			CredentialsFile: cfg.GoogleCredentialsFile,
			LanguageCode:    cfg.GoogleLanguageCode,
			VoiceName:       cfg.GoogleVoice,
			SampleRate:      cfg.DeviceSampleRate,
			SpeakingRate:    cfg.GoogleSpeakingRate,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return g, "google", g.Close, nil
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			return nil, "", nil, fmt.Errorf("SYNTHESIZER_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		return voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			WSBaseURL:  cfg.ElevenLabsWSBaseURL,
			VoiceID:    cfg.ElevenLabsVoiceID,
			ModelID:    cfg.ElevenLabsModelID,
			SampleRate: cfg.DeviceSampleRate,
		}), "elevenlabs", nil, nil
	case "mock":
		m := voice.NewMockSynthesizer(cfg.DeviceSampleRate)
		m.WordsPerMinute = cfg.WordsPerMinute
		return m, "mock", nil, nil
	case "auto":
		switch {
		case cfg.GoogleCredentialsFile != "":
			return resolveSynthesizer(ctx, cfg, "google")
		case cfg.ElevenLabsAPIKey != "":
			return resolveSynthesizer(ctx, cfg, "elevenlabs")
		default:
			return resolveSynthesizer(ctx, cfg, "mock")
		}
	default:
		return nil, "", nil, fmt.Errorf("unsupported SYNTHESIZER_PROVIDER %q", mode)
	}
}
