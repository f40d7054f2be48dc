package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"taskos/internal/app"
	"taskos/internal/config"
	"taskos/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("TASKOS_WORKER_RUN_ONCE")), "true")
	if runOnce {
		summary, err := a.Payouts.Run(ctx)
		if err != nil {
			logger.Error("payout failed", "users", summary.Users, "total", summary.Total, "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "users", summary.Users, "total", summary.Total)
		return
	}

	var background sync.WaitGroup
	if cfg.MetricsAddr != "" {
		metricsServer := metrics.NewServer(cfg.MetricsAddr)
		background.Add(2)
		go func() {
			defer background.Done()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
		go func() {
			defer background.Done()
			logger.Info("worker metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	background.Add(1)
	go func() {
		defer background.Done()
		a.RunConsumers(ctx)
	}()

	ticker := time.NewTicker(cfg.PayoutEvery)
	defer ticker.Stop()

	logger.Info("worker started", "payout_every", cfg.PayoutEvery.String(), "timezone", cfg.Location.String())
	for {
		select {
		case <-ctx.Done():
			background.Wait()
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			summary, err := a.Payouts.Run(ctx)
			if err != nil {
				logger.Error("payout run failed", "users", summary.Users, "total", summary.Total, "err", err)
				continue
			}
			logger.Info("payout run complete", "users", summary.Users, "total", summary.Total)
		}
	}
}
