package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/genbot-dispatch/internal/admission"
	"github.com/iago/genbot-dispatch/internal/config"
	httpserver "github.com/iago/genbot-dispatch/internal/http"
	"github.com/iago/genbot-dispatch/internal/http/handlers"
	"github.com/iago/genbot-dispatch/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWorkerCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume generation queues and serve the ops API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the Postgres schema before starting.")
	return cmd
}

func runWorker(parent context.Context, migrate bool) error {
	cfg := config.Load()
	logger := logging.New(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, closeQueue, err := setupQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()
	store, closeCache, err := setupCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	repos, closeRepos, err := setupRepositories(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	defer closeRepos()
	notifier := setupNotifier(cfg, logger)

	gate := admission.NewGate(store, admission.Config{LeaseTTL: cfg.LeaseTTL})
	dispatcher := buildDispatcher(cfg, client, gate, repos, notifier, logger)

	server := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: httpserver.NewRouter(httpserver.RouterDependencies{
			API:            handlers.NewAPI(client),
			Logger:         logger,
			AuthToken:      cfg.OpsToken,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		}),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info().Str("addr", cfg.OpsAddr).Msg("ops api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	err = group.Wait()
	logger.Info().Msg("worker stopped")
	return err
}
