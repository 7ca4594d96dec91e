package turn

import (
	"time"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/egress"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

// event is anything the controller loop reacts to. Worker events carry the id of
// the turn that produced them so late output from a cancelled turn is dropped.
type event interface{}

type speechStarted struct {
	at time.Time
}

type utteranceReady struct {
	u utterance.Utterance
}

type say struct {
	text string
}

type transcribed struct {
	turnID uint64
	text   string
}

type sentenceReady struct {
	turnID uint64
	text   string
}

type audioReady struct {
	turnID uint64
	seq    int
	chunk  stages.AudioChunk
}

type synthesisDone struct {
	turnID uint64
	chunks int
}

type workerFailed struct {
	turnID uint64
	stage  string
	err    error
}

type playback struct {
	report egress.Report
}

// pendingWork is an utterance or assistant line waiting for the active turn to end.
type pendingWork struct {
	kind      conversation.Kind
	utterance *utterance.Utterance
	text      string
}
