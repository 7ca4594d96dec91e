package telephony

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/ent0n29/aspen/internal/audio"
)

// Send hands one outbound message to the websocket writer.
type Send func(ctx context.Context, msg any) error

// Output streams reply audio to a call as 20ms mu-law media messages. It
// implements the egress sink for telephony calls.
type Output struct {
	mu        sync.RWMutex
	streamSID string
	send      Send
}

const frameSamples = SampleRate / 50

var ErrNoStream = errors.New("media stream not started")

func NewOutput(send Send) *Output {
	return &Output{send: send}
}

// Bind attaches the output to the stream announced in the start event.
func (o *Output) Bind(streamSID string) {
	o.mu.Lock()
	o.streamSID = streamSID
	o.mu.Unlock()
}

func (o *Output) StreamSID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.streamSID
}

func (o *Output) Write(ctx context.Context, samples []int16, sampleRate int) error {
	sid := o.StreamSID()
	if sid == "" {
		return ErrNoStream
	}
	samples = audio.Resample(samples, sampleRate, SampleRate)
	for off := 0; off < len(samples); off += frameSamples {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+frameSamples, len(samples))
		payload := base64.StdEncoding.EncodeToString(audio.EncodeMulaw(samples[off:end]))
		if err := o.send(ctx, NewMedia(sid, payload)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Output) Clear(ctx context.Context) error {
	sid := o.StreamSID()
	if sid == "" {
		return nil
	}
	return o.send(ctx, NewClear(sid))
}

// DecodeMedia turns an inbound media payload into PCM16 samples at SampleRate.
func DecodeMedia(m Media) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, err
	}
	return audio.DecodeMulaw(raw), nil
}
