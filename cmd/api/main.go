package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/avatarkit/vrmforge/internal/adapters/http"
	"github.com/avatarkit/vrmforge/internal/bootstrap"
	"github.com/avatarkit/vrmforge/internal/config"
	"github.com/avatarkit/vrmforge/internal/observability/logging"
	"github.com/avatarkit/vrmforge/internal/observability/metrics"
)

const serviceName = "api"

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

	go app.Janitor.Run(ctx)

	m := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(
		app.Converter,
		app.Submitter,
		app.Jobs,
		app.Cleaner,
		app.Store,
		m,
		log,
		httpadapter.Options{
			Service:        serviceName,
			RateLimitRPS:   cfg.APIRateLimitRPS,
			RateLimitBurst: cfg.APIRateLimitBurst,
			MaxInFlight:    cfg.APIMaxInFlight,
			OverloadWait:   time.Duration(cfg.APIOverloadWaitMS) * time.Millisecond,
			MaxUploadBytes: int64(cfg.APIMaxUploadMB) << 20,
		},
	)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router.Handler(),
		// Conversions run the whole pipeline inside one request, so the
		// write timeout must cover the slowest stage chain.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.StageTimeoutSeconds+60) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Error("listen failed", "addr", server.Addr, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConns)
	}

	go func() {
		log.Info("api listening", "addr", server.Addr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown incomplete", "error", err)
	}
}
