package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/stages"
)

type GoogleConfig struct {
	CredentialsFile string
	LanguageCode    string
	VoiceName       string
	SampleRate      int
	SpeakingRate    float64
}

// GoogleSynthesizer renders each sentence with a single Cloud Text-to-Speech
// request and yields it as one chunk.
type GoogleSynthesizer struct {
	client *texttospeech.Client
	cfg    GoogleConfig
}

func NewGoogleSynthesizer(ctx context.Context, cfg GoogleConfig) (*GoogleSynthesizer, error) {
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	var opts []option.ClientOption
	if f := strings.TrimSpace(cfg.CredentialsFile); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google tts client: %w", err)
	}
	return &GoogleSynthesizer{client: client, cfg: cfg}, nil
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) (stages.AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, stages.Malformed("empty synthesis text")
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.cfg.LanguageCode,
			Name:         g.cfg.VoiceName,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(g.cfg.SampleRate),
			SpeakingRate:    g.cfg.SpeakingRate,
		},
	})
	if err != nil {
		return nil, classifyGRPC("google-tts", err)
	}

	content := resp.GetAudioContent()
	samples, rate, err := audio.DecodeWAV(content)
	if errors.Is(err, audio.ErrNotWAV) {
		samples, rate, err = audio.PCM16FromBytes(content), g.cfg.SampleRate, nil
	}
	if err != nil {
		return nil, fmt.Errorf("google tts audio: %w", err)
	}
	return stages.FromSlice(stages.AudioChunk{Samples: samples, SampleRate: rate, Text: text}), nil
}

func (g *GoogleSynthesizer) Close() error {
	return g.client.Close()
}

func classifyGRPC(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return fmt.Errorf("%s: %w: %v", provider, context.Canceled, err)
	case codes.ResourceExhausted:
		return stages.Quota(provider, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return stages.Transient(provider, err)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %v", provider, stages.ErrMalformedInput, err)
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}
