package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/loanorchestrator/decision"
	"github.com/liamcoop/loanorchestrator/internal/logger"
	"github.com/liamcoop/loanorchestrator/queue"
)

var serveFlags struct {
	fixtures string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP dispatcher and the run workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.fixtures, "fixtures", "", "YAML fixtures to seed before serving")
}

// newPool builds the worker pool that executes queued runs.
func newPool(a *app, q queue.Queue) *queue.WorkerPool {
	handler := func(ctx context.Context, applicationID, pipelineID string) (string, error) {
		run, err := a.executor.Run(ctx, applicationID, pipelineID)
		if err != nil {
			return "", err
		}
		return string(*run.FinalStatus), nil
	}
	return queue.NewWorkerPool(q, handler, a.cfg.Queue.Workers, queue.RetryPolicy{
		MaxAttempts: a.cfg.Queue.MaxAttempts,
		Backoff:     a.cfg.Queue.RetryBackoff,
		JobTimeout:  a.cfg.Queue.JobTimeout,
		Retryable:   decision.Retryable,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveFlags.fixtures != "" {
		if err := seedFile(ctx, a.store, serveFlags.fixtures); err != nil {
			return err
		}
	}

	q := queue.NewMemoryQueue(a.cfg.Queue.Buffer)
	pool := newPool(a, q)
	server := NewServer(a.store, a.executor, pool)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gCtx)
	})
	g.Go(func() error {
		logger.Info("server starting", "port", a.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		q.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
