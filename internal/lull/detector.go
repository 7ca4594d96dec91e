// Package lull segments a live frame stream into speech spans using a voice
// activity scorer and counter hysteresis.
package lull

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/queue"
)

type EventType int

const (
	SpeechStart EventType = iota + 1
	SpeechEnd
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is an utterance boundary.
type Event struct {
	Type EventType
	// At is the stream offset of the frame that triggered the boundary.
	At time.Duration
	// PreRoll holds the buffered frames up to and including the triggering frame.
	// Only set on SpeechStart.
	PreRoll []audio.Frame
}

// Result is the detector verdict for one frame.
type Result struct {
	Frame       audio.Frame
	Probability float64
	Speech      bool
	Event       *Event
	// Err is set when the scorer failed; the frame is then treated as silence.
	Err error
}

// Scorer returns the probability that a frame contains speech.
type Scorer interface {
	Score(ctx context.Context, f audio.Frame) (float64, error)
}

type ScorerFunc func(ctx context.Context, f audio.Frame) (float64, error)

func (fn ScorerFunc) Score(ctx context.Context, f audio.Frame) (float64, error) { return fn(ctx, f) }

type Config struct {
	// Threshold is the probability above which a frame counts as speech.
	Threshold float64
	// StartFrames consecutive speech frames open an utterance.
	StartFrames int
	// EndFrames consecutive silent frames close it.
	EndFrames int
	// PreRollFrames frames of history are attached to SpeechStart.
	PreRollFrames int
}

func DefaultConfig() Config {
	return Config{
		Threshold:     0.4,
		StartFrames:   3,
		EndFrames:     24,
		PreRollFrames: 25,
	}
}

func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold >= 1 {
		return fmt.Errorf("vad threshold must be in [0,1), got %v", c.Threshold)
	}
	if c.StartFrames <= 0 {
		return fmt.Errorf("vad start frames must be positive")
	}
	if c.EndFrames <= 0 {
		return fmt.Errorf("vad end frames must be positive")
	}
	if c.PreRollFrames < 0 {
		return fmt.Errorf("vad pre-roll frames must be >= 0")
	}
	return nil
}

type Detector struct {
	cfg    Config
	scorer Scorer

	preRoll  []audio.Frame
	speech   int
	silence  int
	inSpeech bool
	lastAt   time.Duration
}

func NewDetector(cfg Config, scorer Scorer) (*Detector, error) {
	if scorer == nil {
		return nil, errors.New("vad scorer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, scorer: scorer}, nil
}

// InSpeech reports whether a SpeechStart is currently unmatched.
func (d *Detector) InSpeech() bool { return d.inSpeech }

// Process scores one frame and advances the hysteresis counters.
func (d *Detector) Process(ctx context.Context, f audio.Frame) Result {
	res := Result{Frame: f}
	p, err := d.scorer.Score(ctx, f)
	if err != nil {
		res.Err = err
		p = 0
	}
	res.Probability = p
	res.Speech = p > d.cfg.Threshold
	d.lastAt = f.Timestamp

	d.remember(f)

	if !d.inSpeech {
		if res.Speech {
			d.speech++
		} else {
			d.speech = 0
		}
		if d.speech >= d.cfg.StartFrames {
			d.inSpeech = true
			d.silence = 0
			pre := make([]audio.Frame, len(d.preRoll))
			copy(pre, d.preRoll)
			res.Event = &Event{Type: SpeechStart, At: f.Timestamp, PreRoll: pre}
		}
		return res
	}

	if res.Speech {
		d.silence = 0
	} else {
		d.silence++
	}
	if d.silence >= d.cfg.EndFrames {
		res.Event = d.end(f.Timestamp)
	}
	return res
}

// Flush closes an open span, for example when the source ends mid-utterance.
func (d *Detector) Flush() *Event {
	if !d.inSpeech {
		return nil
	}
	return d.end(d.lastAt)
}

func (d *Detector) end(at time.Duration) *Event {
	d.inSpeech = false
	d.speech = 0
	d.silence = 0
	return &Event{Type: SpeechEnd, At: at}
}

func (d *Detector) remember(f audio.Frame) {
	if d.cfg.PreRollFrames == 0 {
		return
	}
	if len(d.preRoll) == d.cfg.PreRollFrames {
		copy(d.preRoll, d.preRoll[1:])
		d.preRoll = d.preRoll[:len(d.preRoll)-1]
	}
	d.preRoll = append(d.preRoll, f)
}

// Run consumes frames until the queue closes or ctx ends. Every frame yields exactly
// one Result; a trailing open span is closed with a synthetic SpeechEnd.
func (d *Detector) Run(ctx context.Context, in *queue.Queue[audio.Frame], emit func(Result)) error {
	for {
		f, err := in.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				if ev := d.Flush(); ev != nil {
					emit(Result{Event: ev})
				}
				return nil
			}
			return err
		}
		emit(d.Process(ctx, f))
	}
}
