package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/custodia-labs/docchat/internal/adapters/driving/http"
	"github.com/custodia-labs/docchat/internal/core/services"
	"github.com/custodia-labs/docchat/internal/metrics"
	"github.com/custodia-labs/docchat/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Serve the document and chat API. Uploads are enqueued for a separate worker process.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), true, false)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the ingestion worker",
	Long:  "Consume ingestion tasks from the queue and sweep documents stuck in PROCESSING.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), false, true)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the HTTP API and the worker in one process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), true, true)
	},
}

// run starts the selected roles and blocks until SIGINT or SIGTERM
func run(parent context.Context, api, work bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.Register(prometheus.DefaultRegisterer)

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	if work {
		janitor := services.NewJanitor(services.JanitorConfig{
			Pipeline:   a.ingestion,
			Lock:       a.lock,
			Logger:     log,
			Interval:   cfg.Worker.SweepInterval,
			StuckAfter: cfg.Ingestion.StuckAfter,
		})
		w := worker.NewWorker(worker.WorkerConfig{
			TaskQueue:      a.queue,
			Ingestion:      a.ingestion,
			Janitor:        janitor,
			Logger:         log,
			Concurrency:    cfg.Worker.Concurrency,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
		})
		if err := w.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			w.Stop()
			return nil
		})
	}

	if api {
		server := httpadapter.NewServer(httpadapter.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			Version:         version,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			Logger:          log,
		}, httpadapter.Services{
			Ingestion: a.ingestion,
			Answers:   a.answers,
			Documents: a.documents,
		}, a.authAdpt, a.readinessChecks())

		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	log.Info("docchat started", zap.Bool("api", api), zap.Bool("worker", work))
	err = g.Wait()
	log.Info("docchat stopped")
	return err
}
