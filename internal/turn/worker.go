package turn

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

// job is everything a worker needs; it never touches controller state.
type job struct {
	turnID    uint64
	utterance *utterance.Utterance
	reply     string
	history   conversation.Snapshot
}

// work runs transcription, generation and synthesis for one turn, posting progress
// to the controller. Cancellation is checked between every fragment and chunk.
func (c *Controller) work(ctx context.Context, j job, done chan<- struct{}) {
	defer close(done)

	fail := func(stage string, err error) {
		c.post(workerFailed{turnID: j.turnID, stage: stage, err: err})
	}

	var sentences stages.TextStream
	if j.utterance != nil {
		text, err := c.transcriber.Transcribe(ctx, *j.utterance)
		if err != nil {
			fail("transcription", err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			fail("transcription", stages.Malformed("empty transcript"))
			return
		}
		c.post(transcribed{turnID: j.turnID, text: text})

		fragments, err := c.generator.Generate(ctx, j.history, text)
		if err != nil {
			fail("response", err)
			return
		}
		sentences = stages.SplitSentences(fragments)
	} else {
		var seg stages.SentenceSegmenter
		parts := seg.Push(j.reply)
		parts = append(parts, seg.Flush()...)
		sentences = stages.FromSlice(parts...)
	}
	defer sentences.Close()

	seq := 0
	spoken := 0
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		sentence, err := sentences.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail("response", err)
			return
		}
		text := stages.SanitizeSpeech(sentence)
		if text == "" {
			continue
		}
		spoken++
		c.post(sentenceReady{turnID: j.turnID, text: text})

		chunks, err := c.synthesizer.Synthesize(ctx, text)
		if err != nil {
			fail("synthesis", err)
			return
		}
		for {
			chunk, err := chunks.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = chunks.Close()
				fail("synthesis", err)
				return
			}
			if len(chunk.Samples) == 0 && chunk.Text == "" {
				continue
			}
			c.post(audioReady{turnID: j.turnID, seq: seq, chunk: chunk})
			seq++
		}
		_ = chunks.Close()
	}

	if spoken == 0 {
		fail("response", stages.Malformed("empty reply"))
		return
	}
	c.post(synthesisDone{turnID: j.turnID, chunks: seq})
}
