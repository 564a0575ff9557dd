package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "tracker",
		Short:        "Medical supply shipment tracker",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile package state up to the chain head once",
		RunE:  runSync,
	}
	addCommonFlags(syncCmd)
	root.AddCommand(syncCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live creation events and reconcile continuously",
		RunE:  runWatch,
	}
	addCommonFlags(watchCmd)
	watchCmd.Flags().String("ws", "", "websocket RPC URL for subscriptions (defaults to --rpc)")
	watchCmd.Flags().Duration("debounce", 2*time.Second, "delay before reconciling after a live event burst")
	watchCmd.Flags().Duration("poll-interval", time.Minute, "periodic reconcile interval")
	watchCmd.Flags().String("metrics-addr", "", "prometheus listen address (empty disables)")
	root.AddCommand(watchCmd)

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the reconciliation cache",
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the cached sync record for the contract",
		RunE:  runCacheClear,
	}
	addCommonFlags(clearCmd)
	cacheCmd.AddCommand(clearCmd)
	root.AddCommand(cacheCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "chain RPC URL")
	cmd.Flags().String("contract", "", "tracking contract address")
	cmd.Flags().Uint64("deploy-block", 0, "contract deployment block (scan lower bound)")
	cmd.Flags().Uint64("chunk-size", 999, "blocks per getLogs call")
	cmd.Flags().Int("chunk-concurrency", 3, "chunk calls in flight at once")
	cmd.Flags().Duration("inter-chunk-delay", 200*time.Millisecond, "delay between chunk batches")
	cmd.Flags().Duration("backoff-base", 5*time.Second, "base rate-limit backoff")
	cmd.Flags().Duration("backoff-max", 30*time.Second, "maximum rate-limit backoff")
	cmd.Flags().Int("max-attempts", 5, "rate-limit retries per chunk")
	cmd.Flags().Int("max-consecutive-failures", 3, "consecutive chunk failures before aborting")
	cmd.Flags().Duration("call-timeout", 20*time.Second, "single provider call timeout")
	cmd.Flags().Duration("cooldown", 5*time.Second, "minimum interval between reconcile runs")
	cmd.Flags().Uint64("recent-window", 5000, "trailing blocks published first on a cold start")
	cmd.Flags().Duration("cache-ttl", 24*time.Hour, "sync record TTL")
	cmd.Flags().String("cache-dir", "./data/cache", "file cache directory")
	cmd.Flags().String("redis-url", "", "redis URL for the durable cache (overrides --cache-dir)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for the projection sink (optional)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
