package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voice service.
type Config struct {
	BindAddr                 string        `yaml:"bind_addr"`
	PublicHost               string        `yaml:"public_host"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
	SessionInactivityTimeout time.Duration `yaml:"session_inactivity_timeout"`
	MetricsNamespace         string        `yaml:"metrics_namespace"`
	AllowAnyOrigin           bool          `yaml:"allow_any_origin"`
	CallRateLimit            float64       `yaml:"call_rate_limit"`
	CallRateBurst            int           `yaml:"call_rate_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DeviceSampleRate int `yaml:"device_sample_rate"`

	VADThreshold     float64       `yaml:"vad_threshold"`
	VADMinVolume     float64       `yaml:"vad_min_volume"`
	VADStartFrames   int           `yaml:"vad_start_frames"`
	VADEndFrames     int           `yaml:"vad_end_frames"`
	VADPreRollFrames int           `yaml:"vad_preroll_frames"`
	MinUtterance     time.Duration `yaml:"min_utterance"`
	MaxUtterance     time.Duration `yaml:"max_utterance"`

	WordsPerMinute float64       `yaml:"words_per_minute"`
	FailurePolicy  string        `yaml:"failure_policy"`
	ApologyText    string        `yaml:"apology_text"`
	Greeting       string        `yaml:"greeting"`
	SystemPrompt   string        `yaml:"system_prompt"`
	CancelGrace    time.Duration `yaml:"cancel_grace"`

	TranscriberProvider string `yaml:"transcriber_provider"`
	BrainProvider       string `yaml:"brain_provider"`
	SynthesizerProvider string `yaml:"synthesizer_provider"`
	FallbackSynthesizer string `yaml:"fallback_synthesizer"`

	ProviderTimeout       time.Duration `yaml:"provider_timeout"`
	GroqAPIKey            string        `yaml:"groq_api_key"`
	OpenAIAPIKey          string        `yaml:"openai_api_key"`
	OpenAIBaseURL         string        `yaml:"openai_base_url"`
	TranscriptionModel    string        `yaml:"transcription_model"`
	TranscriptionLanguage string        `yaml:"transcription_language"`
	ChatModel             string        `yaml:"chat_model"`
	MaxTokens             int           `yaml:"max_tokens"`
	Temperature           float64       `yaml:"temperature"`
	BrainHTTPURL          string        `yaml:"brain_http_url"`

	GoogleCredentialsFile string  `yaml:"google_credentials_file"`
	GoogleLanguageCode    string  `yaml:"google_language_code"`
	GoogleVoice           string  `yaml:"google_voice"`
	GoogleSpeakingRate    float64 `yaml:"google_speaking_rate"`

	ElevenLabsAPIKey    string `yaml:"elevenlabs_api_key"`
	ElevenLabsWSBaseURL string `yaml:"elevenlabs_ws_base_url"`
	ElevenLabsVoiceID   string `yaml:"elevenlabs_voice_id"`
	ElevenLabsModelID   string `yaml:"elevenlabs_model_id"`

	TranscriptionRetries int           `yaml:"transcription_retries"`
	GenerationRetries    int           `yaml:"generation_retries"`
	SynthesisRetries     int           `yaml:"synthesis_retries"`
	RetryBase            time.Duration `yaml:"retry_base"`
	RetryCap             time.Duration `yaml:"retry_cap"`

	DatabaseURL string `yaml:"database_url"`
}

func defaults() Config {
	return Config{
		BindAddr:                 ":8080",
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		MetricsNamespace:         "aspen",
		CallRateLimit:            2,
		CallRateBurst:            5,
		LogLevel:                 "info",
		LogFormat:                "json",
		DeviceSampleRate:         16000,
		VADThreshold:             0.4,
		VADMinVolume:             0.01,
		VADStartFrames:           3,
		VADEndFrames:             24,
		VADPreRollFrames:         25,
		MinUtterance:             200 * time.Millisecond,
		MaxUtterance:             30 * time.Second,
		WordsPerMinute:           150,
		FailurePolicy:            "apology",
		ApologyText:              "Sorry, I ran into a problem. Could you say that again?",
		CancelGrace:              500 * time.Millisecond,
		TranscriberProvider:      "auto",
		BrainProvider:            "auto",
		SynthesizerProvider:      "auto",
		ProviderTimeout:          30 * time.Second,
		TranscriptionModel:       "whisper-large-v3-turbo",
		ChatModel:                "gpt-4o-mini",
		MaxTokens:                256,
		Temperature:              0.7,
		GoogleLanguageCode:       "en-US",
		GoogleVoice:              "en-US-Neural2-F",
		GoogleSpeakingRate:       1,
		ElevenLabsWSBaseURL:      "wss://api.elevenlabs.io",
		ElevenLabsVoiceID:        "21m00Tcm4TlvDq8ikWAM",
		ElevenLabsModelID:        "eleven_flash_v2_5",
		TranscriptionRetries:     3,
		GenerationRetries:        5,
		SynthesisRetries:         3,
		RetryBase:                200 * time.Millisecond,
		RetryCap:                 2 * time.Second,
	}
}

// Load applies defaults, then the YAML file named by ASPEN_CONFIG_FILE, then
// environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := stringsTrimSpace("ASPEN_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.PublicHost = envOrDefault("APP_PUBLIC_HOST", cfg.PublicHost)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.FailurePolicy = envOrDefault("TURN_FAILURE_POLICY", cfg.FailurePolicy)
	cfg.ApologyText = envOrDefault("TURN_APOLOGY_TEXT", cfg.ApologyText)
	cfg.Greeting = envOrDefault("TURN_GREETING", cfg.Greeting)
	cfg.SystemPrompt = envOrDefault("BRAIN_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.TranscriberProvider = envOrDefault("TRANSCRIBER_PROVIDER", cfg.TranscriberProvider)
	cfg.BrainProvider = envOrDefault("BRAIN_PROVIDER", cfg.BrainProvider)
	cfg.SynthesizerProvider = envOrDefault("SYNTHESIZER_PROVIDER", cfg.SynthesizerProvider)
	cfg.FallbackSynthesizer = envOrDefault("FALLBACK_SYNTHESIZER", cfg.FallbackSynthesizer)
	cfg.GroqAPIKey = envOrDefault("GROQ_API_KEY", cfg.GroqAPIKey)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.TranscriptionModel = envOrDefault("TRANSCRIPTION_MODEL", cfg.TranscriptionModel)
	cfg.TranscriptionLanguage = envOrDefault("TRANSCRIPTION_LANGUAGE", cfg.TranscriptionLanguage)
	cfg.ChatModel = envOrDefault("CHAT_MODEL", cfg.ChatModel)
	cfg.BrainHTTPURL = envOrDefault("BRAIN_HTTP_URL", cfg.BrainHTTPURL)
	cfg.GoogleCredentialsFile = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", cfg.GoogleCredentialsFile)
	cfg.GoogleLanguageCode = envOrDefault("GOOGLE_TTS_LANGUAGE_CODE", cfg.GoogleLanguageCode)
	cfg.GoogleVoice = envOrDefault("GOOGLE_TTS_VOICE", cfg.GoogleVoice)
	cfg.ElevenLabsAPIKey = envOrDefault("ELEVENLABS_API_KEY", cfg.ElevenLabsAPIKey)
	cfg.ElevenLabsWSBaseURL = envOrDefault("ELEVENLABS_WS_BASE_URL", cfg.ElevenLabsWSBaseURL)
	cfg.ElevenLabsVoiceID = envOrDefault("ELEVENLABS_TTS_VOICE_ID", cfg.ElevenLabsVoiceID)
	cfg.ElevenLabsModelID = envOrDefault("ELEVENLABS_TTS_MODEL_ID", cfg.ElevenLabsModelID)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"UTTERANCE_MIN_DURATION", &cfg.MinUtterance},
		{"UTTERANCE_MAX_DURATION", &cfg.MaxUtterance},
		{"TURN_CANCEL_GRACE", &cfg.CancelGrace},
		{"PROVIDER_TIMEOUT", &cfg.ProviderTimeout},
		{"RETRY_BASE", &cfg.RetryBase},
		{"RETRY_CAP", &cfg.RetryCap},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"APP_CALL_RATE_BURST", &cfg.CallRateBurst},
		{"DEVICE_SAMPLE_RATE", &cfg.DeviceSampleRate},
		{"VAD_START_FRAMES", &cfg.VADStartFrames},
		{"VAD_END_FRAMES", &cfg.VADEndFrames},
		{"VAD_PREROLL_FRAMES", &cfg.VADPreRollFrames},
		{"CHAT_MAX_TOKENS", &cfg.MaxTokens},
		{"TRANSCRIPTION_RETRIES", &cfg.TranscriptionRetries},
		{"GENERATION_RETRIES", &cfg.GenerationRetries},
		{"SYNTHESIS_RETRIES", &cfg.SynthesisRetries},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"APP_CALL_RATE_LIMIT", &cfg.CallRateLimit},
		{"VAD_THRESHOLD", &cfg.VADThreshold},
		{"VAD_MIN_VOLUME", &cfg.VADMinVolume},
		{"TURN_WORDS_PER_MINUTE", &cfg.WordsPerMinute},
		{"CHAT_TEMPERATURE", &cfg.Temperature},
		{"GOOGLE_TTS_SPEAKING_RATE", &cfg.GoogleSpeakingRate},
	}
	for _, f := range floats {
		if *f.dst, err = floatFromEnv(f.key, *f.dst); err != nil {
			return Config{}, err
		}
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ASPEN_CONFIG_FILE read error: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("ASPEN_CONFIG_FILE parse error: %w", err)
	}
	return nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.DeviceSampleRate != 8000 && c.DeviceSampleRate != 16000 {
		return fmt.Errorf("DEVICE_SAMPLE_RATE must be 8000 or 16000")
	}
	if c.VADThreshold < 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("VAD_THRESHOLD must be in [0,1)")
	}
	if c.VADStartFrames <= 0 || c.VADEndFrames <= 0 {
		return fmt.Errorf("VAD_START_FRAMES and VAD_END_FRAMES must be positive")
	}
	if c.VADPreRollFrames < 0 {
		return fmt.Errorf("VAD_PREROLL_FRAMES must be >= 0")
	}
	if c.MaxUtterance != 0 && c.MaxUtterance <= c.MinUtterance {
		return fmt.Errorf("UTTERANCE_MAX_DURATION must exceed UTTERANCE_MIN_DURATION")
	}
	if c.WordsPerMinute <= 0 {
		return fmt.Errorf("TURN_WORDS_PER_MINUTE must be positive")
	}
	switch c.FailurePolicy {
	case "apology", "drop":
	default:
		return fmt.Errorf("TURN_FAILURE_POLICY must be apology or drop, got %q", c.FailurePolicy)
	}
	if c.CallRateLimit <= 0 || c.CallRateBurst <= 0 {
		return fmt.Errorf("APP_CALL_RATE_LIMIT and APP_CALL_RATE_BURST must be positive")
	}
	for key, n := range map[string]int{
		"TRANSCRIPTION_RETRIES": c.TranscriptionRetries,
		"GENERATION_RETRIES":    c.GenerationRetries,
		"SYNTHESIS_RETRIES":     c.SynthesisRetries,
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
