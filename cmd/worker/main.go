// Command worker estimates transactions in the background. It scans the
// store for transactions without co2e and feeds them to an in-memory queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/grocery-carbon/internal/app"
	"github.com/dvloznov/grocery-carbon/internal/config"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/jobs/inmemory"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

func main() {
	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Worker failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		userID     string
		once       bool
	)
	cmd := &cobra.Command{
		Use:          "worker",
		Short:        "Estimate unestimated transactions in the background",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, userID, once)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Config file path")
	cmd.Flags().StringVar(&userID, "user", "", "Only estimate this user's transactions")
	cmd.Flags().BoolVar(&once, "once", false, "Scan once, drain the queue and exit")
	return cmd
}

func run(ctx context.Context, configFile, userID string, once bool) error {
	cfg, err := config.Load(ctx, configFile)
	if err != nil {
		return err
	}
	log, err := logger.NewWithOptions(cfg.LoggerOptions())
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, log)

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
	}()

	engine, err := a.Engine(ctx)
	if err != nil {
		return err
	}

	// In production, this would be replaced with Cloud Tasks or Pub/Sub.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Worker.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Worker.Concurrency),
		inmemory.WithRetryable(app.Retryable),
	)

	log.Info().Int("workers", cfg.Worker.Concurrency).Msg("Starting worker service")

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := jobQueue.Start(workCtx, newHandler(engine)); err != nil {
		return err
	}

	s := &scanner{
		lister:     a.Store,
		publisher:  jobQueue,
		jobs:       jobStore,
		filter:     domain.TransactionFilter{UserID: userID, UnestimatedOnly: true},
		maxRetries: cfg.Worker.MaxRetries,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	if once {
		if _, err := s.scan(workCtx); err != nil {
			log.Error().Err(err).Msg("Scan failed")
		}
		select {
		case <-s.drained(workCtx, 100*time.Millisecond):
		case <-quit:
		}
	} else {
		loop(workCtx, log, s, cfg.Worker.PollInterval, quit)
	}

	log.Info().Msg("Shutting down worker service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
	return nil
}
