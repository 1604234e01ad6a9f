package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avatarkit/vrmforge/internal/bootstrap"
	"github.com/avatarkit/vrmforge/internal/config"
	"github.com/avatarkit/vrmforge/internal/observability/logging"
	"github.com/avatarkit/vrmforge/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	log := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	m := metrics.NewWorkerMetrics(serviceName)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("worker metrics server failed", "error", err)
		}
	}()

	log.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeJobSubmitted(ctx, func(handlerCtx context.Context, jobID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, time.Duration(cfg.JobTimeoutSeconds)*time.Second)
		defer cancel()
		return processJob(processCtx, app, m, jobID)
	})
	if err != nil {
		log.Error("worker subscribe failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func processJob(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, jobID string) error {
	if job, err := app.Jobs.GetByID(ctx, jobID); err == nil {
		m.ObserveQueueLag(serviceName, time.Since(job.CreatedAt))
	}

	finish := m.StartJob(serviceName)
	err := app.Processor.ProcessByID(ctx, jobID)

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	finish(status)

	if job, jobErr := app.Jobs.GetByID(ctx, jobID); jobErr == nil {
		for _, res := range job.Stages {
			m.RecordStage(serviceName, string(res.Stage), string(res.Outcome), res.Duration)
		}
	}
	return err
}
