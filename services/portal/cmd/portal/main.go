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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"talencor/pkg/telemetry"
	"talencor/services/portal/internal/app"
	"talencor/services/portal/internal/config"
	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/handlers"
	"talencor/services/portal/internal/sweep"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := app.NewLogger(cfg, os.Stderr)
	log.Logger = logger

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("portal exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.Logger

	shutdownTracing, err := telemetry.Init(ctx, handlers.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	ev, err := app.OpenEvents(cfg, logger)
	if err != nil {
		return err
	}

	consumers, err := rt.StartConsumers(ctx, ev)
	if err != nil {
		return err
	}
	defer consumers.Close()
	// Runs before the subscribers close so queued events are still delivered.
	defer ev.Close()

	g, err := gate.New(rt.Store, rt.Store,
		gate.WithPublisher(ev.Publisher),
		gate.WithBaseURL(cfg.PublicBaseURL),
		gate.WithUploads(rt.Files),
		gate.WithLogger(logger.With().Str("component", "gate").Logger()),
	)
	if err != nil {
		return err
	}

	api, err := handlers.New(g, rt.Store, rt.Files, ev.Publisher, logger, handlers.Options{
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		FileURLTTL:         cfg.FileURLTTL,
		Audit:              rt.Recorder,
		ReadyChecks: map[string]handlers.Check{
			"store":  rt.Store.Ping,
			"events": ev.Ready,
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("storage", cfg.StorageBackend).Msg("starting talencor portal")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	if cfg.SweepEnabled {
		sweeper, err := sweep.New(rt.Store, rt.Files,
			sweep.WithGrace(cfg.SweepGrace),
			sweep.WithLookback(cfg.SweepLookback),
			sweep.WithInterval(cfg.SweepInterval),
			sweep.WithLogger(logger.With().Str("component", "sweep").Logger()),
		)
		if err != nil {
			return err
		}
		group.Go(func() error {
			if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return group.Wait()
}
