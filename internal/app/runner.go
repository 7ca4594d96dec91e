package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/calllog"
	"github.com/ent0n29/aspen/internal/clock"
	"github.com/ent0n29/aspen/internal/config"
	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/egress"
	"github.com/ent0n29/aspen/internal/lull"
	"github.com/ent0n29/aspen/internal/observability"
	"github.com/ent0n29/aspen/internal/pipeline"
	"github.com/ent0n29/aspen/internal/policy"
	"github.com/ent0n29/aspen/internal/session"
	"github.com/ent0n29/aspen/internal/source"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/telephony"
	"github.com/ent0n29/aspen/internal/turn"
	"github.com/ent0n29/aspen/internal/utterance"
)

const callLogSaveTimeout = 3 * time.Second

// Runner builds and runs one conversation pipeline per call.
type Runner struct {
	cfg         config.Config
	transcriber stages.Transcriber
	generator   stages.Generator
	synthesizer stages.Synthesizer
	sessions    *session.Manager
	calls       calllog.Store
	metrics     *observability.Metrics
	clock       clock.Clock
	log         zerolog.Logger
}

// RunCall serves a telephony media stream until in is closed.
func (r *Runner) RunCall(ctx context.Context, call *session.Call, in *source.Stream, out *telephony.Output) error {
	return r.run(ctx, call.ID, in, out)
}

// RunLocal holds one conversation on the given source and output, typically the
// local microphone and speaker.
func (r *Runner) RunLocal(ctx context.Context, src source.Source, out egress.Output) error {
	call := r.sessions.Create("local", "", "")
	defer func() {
		if _, err := r.sessions.End(call.ID); err != nil {
			r.log.Debug().Err(err).Msg("end local call")
		}
	}()
	return r.run(ctx, call.ID, src, out)
}

func (r *Runner) run(ctx context.Context, callID string, src source.Source, out egress.Output) error {
	log := r.log.With().Str("call_id", callID).Logger()

	var ctrl *turn.Controller
	player := egress.NewPlayer(out, r.clock, log, func(rep egress.Report) { ctrl.HandleReport(rep) })
	ctrl, err := turn.New(r.turnConfig(), turn.Deps{
		Transcriber: r.transcriber,
		Generator:   r.generator,
		Synthesizer: r.synthesizer,
		Sink:        player,
		State:       conversation.NewState(),
		Clock:       r.clock,
		Log:         log,
		Hooks:       r.turnHooks(callID, log),
	})
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Source: src,
		Scorer: lull.NewEnergyScorer(r.cfg.VADMinVolume),
		Lull: lull.Config{
			Threshold:     r.cfg.VADThreshold,
			StartFrames:   r.cfg.VADStartFrames,
			EndFrames:     r.cfg.VADEndFrames,
			PreRollFrames: r.cfg.VADPreRollFrames,
		},
		Utterance: utterance.Config{
			MinDuration: r.cfg.MinUtterance,
			MaxDuration: r.cfg.MaxUtterance,
		},
		Controller: ctrl,
		Player:     player,
		Clock:      r.clock,
		Log:        log,
		Hooks:      r.pipelineHooks(),
	})
	if err != nil {
		return err
	}

	log.Info().Msg("conversation started")
	err = p.Run(ctx)
	log.Info().Int("turns", ctrl.State().Len()).Msg("conversation ended")
	return err
}

func (r *Runner) turnConfig() turn.Config {
	cfg := turn.DefaultConfig()
	cfg.WordsPerMinute = r.cfg.WordsPerMinute
	cfg.FailurePolicy = turn.FailurePolicy(r.cfg.FailurePolicy)
	cfg.ApologyText = r.cfg.ApologyText
	cfg.Greeting = r.cfg.Greeting
	if r.cfg.CancelGrace > 0 {
		cfg.CancelGrace = r.cfg.CancelGrace
	}
	return cfg
}

func (r *Runner) turnHooks(callID string, log zerolog.Logger) turn.Hooks {
	return turn.Hooks{
		OnTransition: func(t conversation.Turn, from conversation.Status) {
			if from == "" {
				_ = r.sessions.StartTurn(callID, t.ID)
			}
		},
		OnBargeIn: func(t conversation.Turn, _ time.Duration) {
			_ = r.sessions.Interrupt(callID)
			if r.metrics != nil {
				r.metrics.ObserveBargeIn(t)
			}
		},
		OnCommit: func(t conversation.Turn) {
			_ = r.sessions.CommitTurn(callID, t.ID)
			log.Debug().
				Uint64("turn_id", t.ID).
				Str("status", string(t.Status)).
				Str("user", policy.Redact(t.UserText)).
				Str("reply", policy.Redact(t.ReplyText)).
				Int("words_spoken", t.WordsSpoken).
				Msg("turn committed")
			if r.metrics != nil {
				r.metrics.ObserveCommit(t)
			}
			r.saveTurnBestEffort(calllog.FromTurn(callID, t), log)
		},
		OnStageError: func(stage string, kind stages.Kind, _ error) {
			if r.metrics != nil {
				r.metrics.ObserveStageError(stage, kind.String())
			}
		},
		OnLatency: func(stage string, d time.Duration) {
			if r.metrics != nil {
				r.metrics.ObserveStage(stage, d)
			}
		},
		OnStuck: func(uint64) {
			if r.metrics != nil {
				r.metrics.StuckWorkers.Inc()
			}
		},
	}
}

func (r *Runner) pipelineHooks() pipeline.Hooks {
	if r.metrics == nil {
		return pipeline.Hooks{}
	}
	return pipeline.Hooks{
		OnBoundary: func(ev lull.Event) {
			r.metrics.Boundaries.WithLabelValues(ev.Type.String()).Inc()
		},
		OnUtterance: func(utterance.Utterance) {
			r.metrics.Utterances.WithLabelValues("ready").Inc()
		},
		OnDiscard: func() {
			r.metrics.Utterances.WithLabelValues("discarded").Inc()
		},
	}
}

func (r *Runner) saveTurnBestEffort(record calllog.TurnRecord, log zerolog.Logger) {
	if r.calls == nil {
		return
	}
	go func(rec calllog.TurnRecord) {
		saveCtx, cancel := context.WithTimeout(context.Background(), callLogSaveTimeout)
		defer cancel()
		if err := r.calls.SaveTurn(saveCtx, rec); err != nil {
			log.Warn().Err(err).Uint64("turn_id", rec.TurnID).Msg("call log save failed")
			if r.metrics != nil {
				r.metrics.CallEvents.WithLabelValues("call_log_save_failed").Inc()
			}
		}
	}(record)
}
