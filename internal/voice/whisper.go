package voice

import (
	"bytes"
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/openaicompat"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

type WhisperConfig struct {
	Provider string
	Model    string
	Language string
	Prompt   string
}

// WhisperTranscriber sends each utterance as a WAV upload to an OpenAI-compatible
// audio transcription endpoint (Groq or OpenAI).
type WhisperTranscriber struct {
	client *openai.Client
	cfg    WhisperConfig
}

func NewWhisperTranscriber(client *openai.Client, cfg WhisperConfig) *WhisperTranscriber {
	if strings.TrimSpace(cfg.Provider) == "" {
		cfg.Provider = "groq"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	return &WhisperTranscriber{client: client, cfg: cfg}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, u utterance.Utterance) (string, error) {
	samples := u.Samples()
	if len(samples) == 0 {
		return "", stages.Malformed("utterance %d has no audio", u.Seq)
	}
	wav, err := audio.EncodeWAV(samples, u.SampleRate)
	if err != nil {
		return "", err
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.cfg.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Prompt:   w.cfg.Prompt,
		Language: w.cfg.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", openaicompat.ClassifyError(w.cfg.Provider, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
