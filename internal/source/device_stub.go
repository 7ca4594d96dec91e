//go:build !portaudio

package source

import (
	"context"

	"github.com/ent0n29/aspen/internal/audio"
)

func InitDevices() error { return ErrNoDevice }

func TerminateDevices() error { return nil }

type Microphone struct{}

func NewMicrophone(int) (*Microphone, error) { return nil, ErrNoDevice }

func (*Microphone) Run(context.Context, func(audio.Frame)) error { return ErrNoDevice }

type Speaker struct{}

func NewSpeaker(int) (*Speaker, error) { return nil, ErrNoDevice }

func (*Speaker) Write(context.Context, []int16, int) error { return ErrNoDevice }

func (*Speaker) Clear(context.Context) error { return nil }

func (*Speaker) Close() error { return nil }
