// Package pipeline wires one call's workers together: audio source, lull detector,
// utterance assembler, turn controller and egress player, each on its own
// goroutine and joined by unbounded FIFO queues.
package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/clock"
	"github.com/ent0n29/aspen/internal/egress"
	"github.com/ent0n29/aspen/internal/lull"
	"github.com/ent0n29/aspen/internal/queue"
	"github.com/ent0n29/aspen/internal/source"
	"github.com/ent0n29/aspen/internal/turn"
	"github.com/ent0n29/aspen/internal/utterance"
)

type Hooks struct {
	OnBoundary  func(ev lull.Event)
	OnUtterance func(u utterance.Utterance)
	OnDiscard   func()
}

type Pipeline struct {
	source     source.Source
	detector   *lull.Detector
	assembler  *utterance.Assembler
	controller *turn.Controller
	player     *egress.Player
	clock      clock.Clock
	log        zerolog.Logger
	hooks      Hooks
}

type Options struct {
	Source     source.Source
	Scorer     lull.Scorer
	Lull       lull.Config
	Utterance  utterance.Config
	Controller *turn.Controller
	Player     *egress.Player
	Clock      clock.Clock
	Log        zerolog.Logger
	Hooks      Hooks
}

func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil || opts.Controller == nil || opts.Player == nil {
		return nil, errors.New("pipeline needs a source, controller and player")
	}
	detector, err := lull.NewDetector(opts.Lull, opts.Scorer)
	if err != nil {
		return nil, err
	}
	assembler, err := utterance.NewAssembler(opts.Utterance)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Pipeline{
		source:     opts.Source,
		detector:   detector,
		assembler:  assembler,
		controller: opts.Controller,
		player:     opts.Player,
		clock:      opts.Clock,
		log:        opts.Log.With().Str("component", "pipeline").Logger(),
		hooks:      opts.Hooks,
	}, nil
}

// Run blocks until the source ends or ctx is cancelled. The controller and player
// are stopped once the input side has drained.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	frames := queue.New[audio.Frame]()
	results := queue.New[lull.Result]()

	g.Go(func() error {
		defer frames.Close()
		return ignoreCanceled(p.source.Run(gctx, func(f audio.Frame) { frames.Push(f) }))
	})

	g.Go(func() error {
		defer results.Close()
		return ignoreCanceled(p.detector.Run(gctx, frames, func(r lull.Result) {
			if r.Err != nil {
				p.log.Debug().Err(r.Err).Msg("scorer failed; frame treated as silence")
			}
			if r.Event != nil {
				if r.Event.Type == lull.SpeechStart {
					p.controller.SpeechStarted(p.clock.Now())
				}
				if p.hooks.OnBoundary != nil {
					p.hooks.OnBoundary(*r.Event)
				}
			}
			results.Push(r)
		}))
	})

	g.Go(func() error {
		defer stop()
		for {
			r, err := results.Pop(gctx)
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			if err != nil {
				return ignoreCanceled(err)
			}
			before := p.assembler.Discarded()
			if u, ok := p.assembler.Feed(r); ok {
				p.log.Debug().Uint64("seq", u.Seq).Dur("duration", u.Duration()).Bool("truncated", u.Truncated).Msg("utterance ready")
				if p.hooks.OnUtterance != nil {
					p.hooks.OnUtterance(u)
				}
				p.controller.UtteranceReady(u)
			}
			if p.assembler.Discarded() > before && p.hooks.OnDiscard != nil {
				p.hooks.OnDiscard()
			}
		}
	})

	g.Go(func() error { return ignoreCanceled(p.controller.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(p.player.Run(gctx)) })

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
