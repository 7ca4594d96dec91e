//go:build portaudio

package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/ent0n29/aspen/internal/audio"
)

var (
	paOnce sync.Once
	paErr  error
)

// InitDevices initializes PortAudio once per process. Callers pair it with
// TerminateDevices on shutdown.
func InitDevices() error {
	paOnce.Do(func() { paErr = portaudio.Initialize() })
	return paErr
}

func TerminateDevices() error {
	return portaudio.Terminate()
}

// Microphone captures mono PCM16 from the default input device.
type Microphone struct {
	sampleRate int
	window     int
}

func NewMicrophone(sampleRate int) (*Microphone, error) {
	window, err := audio.WindowSize(sampleRate)
	if err != nil {
		return nil, err
	}
	if err := InitDevices(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Microphone{sampleRate: sampleRate, window: window}, nil
}

func (m *Microphone) Run(ctx context.Context, emit func(audio.Frame)) error {
	in := make([]int16, m.window)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.window, in)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	framer, err := audio.NewFramer(m.sampleRate, m.window, "mic")
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Read(); err != nil {
			// Input overflow only means a late read; keep capturing.
			if err == portaudio.InputOverflowed {
				continue
			}
			return fmt.Errorf("read input stream: %w", err)
		}
		for _, f := range framer.Push(in) {
			emit(f)
		}
	}
}

// Speaker plays mono PCM16 on the default output device.
type Speaker struct {
	mu         sync.Mutex
	sampleRate int
	buf        []int16
	stream     *portaudio.Stream
}

func NewSpeaker(sampleRate int) (*Speaker, error) {
	if err := InitDevices(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	s := &Speaker{sampleRate: sampleRate, buf: make([]int16, sampleRate/50)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(s.buf), s.buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Write blocks while the device plays samples, checking ctx between 20ms buffers.
func (s *Speaker) Write(ctx context.Context, samples []int16, sampleRate int) error {
	if sampleRate != s.sampleRate {
		return fmt.Errorf("speaker opened at %d Hz, got %d Hz", s.sampleRate, sampleRate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

// Clear is a no-op: Write returns once its samples are in the device buffer.
func (s *Speaker) Clear(context.Context) error { return nil }

func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.stream.Stop()
	return s.stream.Close()
}
