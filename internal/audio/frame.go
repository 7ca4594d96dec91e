package audio

import (
	"fmt"
	"time"
)

// Frame is one fixed-size block of mono PCM16 audio. Frames are never mutated after
// they leave the Framer.
type Frame struct {
	Samples    []int16
	SampleRate int
	// Timestamp is the offset of the first sample from the start of the stream.
	Timestamp time.Duration
	Channel   string
}

func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

func (f Frame) End() time.Duration {
	return f.Timestamp + f.Duration()
}

// SamplesDuration converts a sample count at sampleRate into wall-clock duration.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// WindowSize returns the VAD window length in samples for the supported rates.
func WindowSize(sampleRate int) (int, error) {
	switch sampleRate {
	case 16000:
		return 512, nil
	case 8000:
		return 256, nil
	default:
		return 0, fmt.Errorf("unsupported sample rate %d (expected 8000 or 16000)", sampleRate)
	}
}

// Framer re-slices arbitrarily sized PCM blocks into fixed-size Frames, carrying
// any leftover samples into the next Push.
type Framer struct {
	sampleRate int
	window     int
	channel    string
	pending    []int16
	emitted    int64
}

func NewFramer(sampleRate, window int, channel string) (*Framer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("frame window must be positive")
	}
	return &Framer{sampleRate: sampleRate, window: window, channel: channel}, nil
}

func (f *Framer) Push(samples []int16) []Frame {
	if len(samples) == 0 {
		return nil
	}
	f.pending = append(f.pending, samples...)
	var out []Frame
	for len(f.pending) >= f.window {
		block := make([]int16, f.window)
		copy(block, f.pending[:f.window])
		f.pending = f.pending[f.window:]
		out = append(out, Frame{
			Samples:    block,
			SampleRate: f.sampleRate,
			Timestamp:  SamplesDuration(int(f.emitted), f.sampleRate),
			Channel:    f.channel,
		})
		f.emitted += int64(f.window)
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return out
}

// Buffered reports samples waiting for a full window.
func (f *Framer) Buffered() int { return len(f.pending) }
