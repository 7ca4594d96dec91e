package egress

import "context"

// Discard is an Output that drops all audio. Playback is still paced by the Player.
type Discard struct{}

func (Discard) Write(context.Context, []int16, int) error { return nil }

func (Discard) Clear(context.Context) error { return nil }
