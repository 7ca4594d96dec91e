package voice

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

// MockTranscriber is a local fallback used when no speech-to-text backend is
// configured. Every utterance transcribes to Text.
type MockTranscriber struct {
	Text  string
	Delay time.Duration
}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{Text: "simulated voice input"}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, u utterance.Utterance) (string, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return "", err
	}
	if len(u.Frames) == 0 {
		return "", nil
	}
	return m.Text, nil
}

// MockSynthesizer renders silence sized as if the text were spoken at
// WordsPerMinute, split into chunks of ChunkWords words.
type MockSynthesizer struct {
	SampleRate     int
	WordsPerMinute float64
	ChunkWords     int
	Delay          time.Duration
}

func NewMockSynthesizer(sampleRate int) *MockSynthesizer {
	return &MockSynthesizer{SampleRate: sampleRate, WordsPerMinute: 150, ChunkWords: 4}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (stages.AudioStream, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, stages.Malformed("empty synthesis text")
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	wpm := m.WordsPerMinute
	if wpm <= 0 {
		wpm = 150
	}
	per := m.ChunkWords
	if per <= 0 {
		per = len(words)
	}
	samplesPerWord := int(float64(rate) * 60 / wpm)

	var chunks []stages.AudioChunk
	for start := 0; start < len(words); start += per {
		end := min(start+per, len(words))
		chunks = append(chunks, stages.AudioChunk{
			Samples:    make([]int16, samplesPerWord*(end-start)),
			SampleRate: rate,
			Text:       strings.Join(words[start:end], " "),
		})
	}
	return stages.FromSlice(chunks...), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
