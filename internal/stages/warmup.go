package stages

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/utterance"
)

const (
	warmupSamples = 1600
	warmupText    = "warming up"
)

// Warm issues a throwaway request to each collaborator so connection setup and
// model loading do not land on the first real turn. Failures are only logged.
func Warm(ctx context.Context, log zerolog.Logger, t Transcriber, s Synthesizer, sampleRate int) {
	if t != nil {
		frame := audio.Frame{Samples: make([]int16, warmupSamples), SampleRate: sampleRate}
		u := utterance.Utterance{Frames: []audio.Frame{frame}, SampleRate: sampleRate, End: frame.Duration()}
		start := time.Now()
		if _, err := t.Transcribe(ctx, u); err != nil {
			log.Warn().Err(err).Msg("transcriber warm-up failed")
		} else {
			log.Debug().Dur("took", time.Since(start)).Msg("transcriber warm")
		}
	}
	if s != nil {
		start := time.Now()
		stream, err := s.Synthesize(ctx, warmupText)
		if err == nil {
			_, err = Collect(ctx, stream)
		}
		if err != nil {
			log.Warn().Err(err).Msg("synthesizer warm-up failed")
			return
		}
		log.Debug().Dur("took", time.Since(start)).Msg("synthesizer warm")
	}
}
