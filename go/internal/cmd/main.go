package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/config"
	"github.com/mcdev12/tempo/go/internal/gateway"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("timerd exited")
	}
	log.Info().Msg("timerd shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := clockwork.NewRealClock()

	backend, err := setupStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer backend.Close()

	stats := &session.SyncStats{}
	syncCfg := cfg.Sync
	syncCfg.Metrics = stats

	sessions := session.NewManager(backend.Store, clock, syncCfg)
	auth := gateway.NewAuthenticator(cfg.JWTSecret, clock)
	gatewayService := gateway.NewService(gateway.DefaultConfig(), sessions, auth)
	server := setupServer(cfg, gatewayService, sessions, stats)

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("port", cfg.Port).
		Dur("sync_interval", cfg.Sync.SyncInterval).
		Dur("poll_interval", cfg.Sync.PollInterval).
		Msg("starting timerd")

	g, gctx := errgroup.WithContext(ctx)

	if backend.Run != nil {
		g.Go(func() error {
			return backend.Run(gctx)
		})
	}

	g.Go(func() error {
		return gatewayService.Start(gctx)
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("timer sessions shutdown failed")
		}
		return nil
	})

	return g.Wait()
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
