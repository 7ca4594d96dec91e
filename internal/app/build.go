package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/calllog"
	"github.com/ent0n29/aspen/internal/clock"
	"github.com/ent0n29/aspen/internal/config"
	"github.com/ent0n29/aspen/internal/httpapi"
	"github.com/ent0n29/aspen/internal/observability"
	"github.com/ent0n29/aspen/internal/session"
	"github.com/ent0n29/aspen/internal/stages"
)

const warmupTimeout = 15 * time.Second

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	CallLog   calllog.Store
	Metrics   *observability.Metrics
	Runner    *Runner
	Providers httpapi.Providers

	// Cleanup should be called on shutdown to release external resources (DB, TTS clients).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	callLog, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("call log init failed: %w", err)
	}

	setup, err := resolveStages(ctx, cfg, metrics, log)
	if err != nil {
		_ = callLog.Close()
		return nil, err
	}
	setup.providers.CallLog = "memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		setup.providers.CallLog = "postgres"
	}

	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	stages.Warm(warmCtx, log, setup.transcriber, setup.synthesizer, cfg.DeviceSampleRate)
	cancel()

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(c *session.Call) {
		log.Info().Str("call_id", c.ID).Msg("call expired after inactivity")
		metrics.CallEvents.WithLabelValues("expired").Inc()
		metrics.ActiveCalls.Set(float64(sessions.ActiveCount()))
	})

	runner := &Runner{
		cfg:         cfg,
		transcriber: setup.transcriber,
		generator:   setup.generator,
		synthesizer: setup.synthesizer,
		sessions:    sessions,
		calls:       callLog,
		metrics:     metrics,
		clock:       clock.System{},
		log:         log,
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:    sessions,
		Runner:      runner,
		CallLog:     callLog,
		Metrics:     metrics,
		Synthesizer: setup.synthesizer,
		Providers:   setup.providers,
		Log:         log,
	})

	cleanup := func() error {
		return errors.Join(setup.cleanup(), callLog.Close())
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		CallLog:   callLog,
		Metrics:   metrics,
		Runner:    runner,
		Providers: setup.providers,
		Cleanup:   cleanup,
	}, nil
}
