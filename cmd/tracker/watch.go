package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"supplytrace/internal/chain"
	"supplytrace/internal/model"
	"supplytrace/internal/reconcile"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := reconcile.NewMetrics(registry)

	a, err := buildApp(ctx, cmd, metrics)
	if err != nil {
		return err
	}
	defer a.close()

	// Subscriptions need a websocket transport; fall back to the RPC URL in
	// case it is already ws://.
	wsURL := a.cfg.WSURL
	if wsURL == "" {
		wsURL = a.cfg.RPCURL
	}
	wsClient, err := chain.NewClient(ctx, wsURL)
	if err != nil {
		return err
	}
	defer wsClient.Close()

	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer server.Close()
		a.logger.Info("metrics listening", zap.String("addr", a.cfg.MetricsAddr))
	}

	a.orch.Subscribe(func(packages []model.Package) {
		a.logger.Info("state published", zap.Int("packages", len(packages)))
	})

	watcher := reconcile.NewWatcher(reconcile.WatcherConfig{
		Debounce: a.cfg.Debounce,
	}, wsClient, a.orch, a.decoder, a.contract, a.logger, metrics)

	a.logger.Info("watch start",
		zap.String("contract", a.cfg.ContractAddress),
		zap.String("ws", wsURL),
		zap.Duration("poll_interval", a.cfg.PollInterval),
	)

	// First reconcile before the live loop so the published state is warm.
	if err := a.orch.Reconcile(ctx, a.contract); err != nil {
		a.logger.Warn("initial reconcile failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(a.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := a.orch.Reconcile(ctx, a.contract)
				if err != nil && !errors.Is(err, reconcile.ErrCooldown) && !errors.Is(err, reconcile.ErrBusy) {
					a.logger.Warn("periodic reconcile failed", zap.Error(err))
				}
			}
		}
	}()

	err = watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
