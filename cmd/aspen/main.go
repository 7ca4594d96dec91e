package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/aspen/internal/app"
	"github.com/ent0n29/aspen/internal/config"
	"github.com/ent0n29/aspen/internal/logging"
	"github.com/ent0n29/aspen/internal/source"
)

const usage = `usage: aspen [serve|local]

  serve   accept phone calls over Twilio Media Streams (default)
  local   converse through the default microphone and speaker
`

func main() {
	mode, err := parseMode(os.Args[1:])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aspen: config error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aspen: logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	switch mode {
	case "local":
		err = runLocal(ctx, res, log)
	default:
		err = serve(ctx, res, log)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", mode).Msg("exited with error")
		res.Cleanup()
		os.Exit(1)
	}
}

func parseMode(args []string) (string, error) {
	if len(args) == 0 {
		return "serve", nil
	}
	switch args[0] {
	case "serve", "local":
		return args[0], nil
	default:
		return "", fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context, res *app.BuildResult, log zerolog.Logger) error {
	cfg := res.Config
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           res.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	res.Sessions.StartJanitor(runCtx, 5*time.Second)

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func runLocal(ctx context.Context, res *app.BuildResult, log zerolog.Logger) error {
	if err := source.InitDevices(); err != nil {
		return err
	}
	defer source.TerminateDevices()

	rate := res.Config.DeviceSampleRate
	mic, err := source.NewMicrophone(rate)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	speaker, err := source.NewSpeaker(rate)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer speaker.Close()

	log.Info().Int("sample_rate", rate).Msg("local conversation started, ctrl-c to stop")
	err = res.Runner.RunLocal(ctx, mic, speaker)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
