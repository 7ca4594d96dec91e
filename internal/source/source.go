// Package source adapts audio inputs (a local microphone or a telephony socket)
// into the fixed-size Frames the lull detector consumes.
package source

import (
	"context"
	"errors"
	"sync"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/queue"
)

// ErrNoDevice is returned by device constructors when the binary was built
// without the portaudio tag.
var ErrNoDevice = errors.New("audio devices unavailable: rebuild with -tags portaudio")

// Source produces frames until ctx is cancelled or the input ends.
type Source interface {
	Run(ctx context.Context, emit func(audio.Frame)) error
}

// Stream is a push-fed Source. A transport goroutine calls Write with PCM blocks
// of any size; Run delivers them as frames, in order, on the caller's goroutine.
type Stream struct {
	mu     sync.Mutex
	framer *audio.Framer
	frames *queue.Queue[audio.Frame]
}

func NewStream(sampleRate int, channel string) (*Stream, error) {
	window, err := audio.WindowSize(sampleRate)
	if err != nil {
		return nil, err
	}
	framer, err := audio.NewFramer(sampleRate, window, channel)
	if err != nil {
		return nil, err
	}
	return &Stream{framer: framer, frames: queue.New[audio.Frame]()}, nil
}

// Write never blocks. It reports false after Close.
func (s *Stream) Write(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.framer.Push(samples) {
		if !s.frames.Push(f) {
			return false
		}
	}
	return true
}

// Close ends the stream; Run returns after delivering the frames already written.
func (s *Stream) Close() {
	s.frames.Close()
}

func (s *Stream) Run(ctx context.Context, emit func(audio.Frame)) error {
	for {
		f, err := s.frames.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		emit(f)
	}
}
