// Package utterance buffers frames between lull boundaries into complete utterances.
package utterance

import (
	"errors"
	"time"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/lull"
)

// Utterance is one contiguous span of user speech. Ownership moves with the value;
// receivers must not mutate Frames.
type Utterance struct {
	Seq        uint64
	Frames     []audio.Frame
	SampleRate int
	Start      time.Duration
	End        time.Duration
	// Truncated is set when the span hit the maximum duration and was cut.
	Truncated bool
}

func (u Utterance) Duration() time.Duration {
	d := time.Duration(0)
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// Samples returns the utterance audio as one contiguous PCM16 slice.
func (u Utterance) Samples() []int16 {
	return audio.Concat(u.Frames)
}

type Config struct {
	// MinDuration drops shorter spans as noise.
	MinDuration time.Duration
	// MaxDuration force-cuts a span that never ends. Zero disables the cut.
	MaxDuration time.Duration
}

func (c Config) Validate() error {
	if c.MinDuration < 0 {
		return errors.New("minimum utterance duration must be >= 0")
	}
	if c.MaxDuration != 0 && c.MaxDuration <= c.MinDuration {
		return errors.New("maximum utterance duration must exceed the minimum")
	}
	return nil
}

// Assembler is not safe for concurrent use; it is driven by a single worker.
type Assembler struct {
	cfg       Config
	open      bool
	frames    []audio.Frame
	buffered  time.Duration
	seq       uint64
	discarded int
}

func NewAssembler(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg}, nil
}

// Open reports whether a buffer is currently accumulating.
func (a *Assembler) Open() bool { return a.open }

// Discarded counts spans dropped for being shorter than MinDuration.
func (a *Assembler) Discarded() int { return a.discarded }

// Feed consumes one detector result and returns an utterance when one completes.
func (a *Assembler) Feed(r lull.Result) (Utterance, bool) {
	if r.Event != nil && r.Event.Type == lull.SpeechStart {
		if !a.open {
			a.open = true
			a.frames = a.frames[:0]
			a.buffered = 0
			// Pre-roll already contains the triggering frame.
			for _, f := range r.Event.PreRoll {
				a.append(f)
			}
			if len(r.Event.PreRoll) == 0 && len(r.Frame.Samples) > 0 {
				a.append(r.Frame)
			}
			return a.cutIfTooLong()
		}
		// Duplicate start while open: keep accumulating.
	}

	if !a.open {
		return Utterance{}, false
	}
	if len(r.Frame.Samples) > 0 {
		a.append(r.Frame)
	}

	if r.Event != nil && r.Event.Type == lull.SpeechEnd {
		a.open = false
		return a.emit(false)
	}
	return a.cutIfTooLong()
}

func (a *Assembler) append(f audio.Frame) {
	a.frames = append(a.frames, f)
	a.buffered += f.Duration()
}

func (a *Assembler) cutIfTooLong() (Utterance, bool) {
	if a.cfg.MaxDuration <= 0 || a.buffered < a.cfg.MaxDuration {
		return Utterance{}, false
	}
	// Stay open: the speaker has not paused, the next frames start a new buffer.
	return a.emit(true)
}

func (a *Assembler) emit(truncated bool) (Utterance, bool) {
	frames := a.frames
	buffered := a.buffered
	a.frames = nil
	a.buffered = 0

	if len(frames) == 0 || buffered < a.cfg.MinDuration {
		a.discarded++
		return Utterance{}, false
	}
	a.seq++
	return Utterance{
		Seq:        a.seq,
		Frames:     frames,
		SampleRate: frames[0].SampleRate,
		Start:      frames[0].Timestamp,
		End:        frames[len(frames)-1].End(),
		Truncated:  truncated,
	}, true
}
