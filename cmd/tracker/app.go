package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"supplytrace/internal/cache"
	"supplytrace/internal/chain"
	"supplytrace/internal/config"
	"supplytrace/internal/contract"
	"supplytrace/internal/fetcher"
	"supplytrace/internal/reconcile"
	"supplytrace/internal/storage/postgres"
)

// app bundles the wired dependencies shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	chain    *chain.Client
	store    cache.Store
	decoder  *contract.Decoder
	orch     *reconcile.Orchestrator
	metrics  *reconcile.Metrics
	sink     *postgres.Store
	contract common.Address

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cmd *cobra.Command, metrics *reconcile.Metrics) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %q", cfg.ContractAddress)
	}
	contractAddr := common.HexToAddress(cfg.ContractAddress)

	a := &app{cfg: cfg, logger: logger, metrics: metrics, contract: contractAddr}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.chain = chainClient
	a.closers = append(a.closers, chainClient.Close)

	var durable cache.Store
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = redisStore.Close() })
		durable = redisStore
	} else if cfg.CacheDir != "" {
		durable = cache.NewFile(cfg.CacheDir)
	}
	a.store = cache.NewLayered(durable)

	decoder, err := contract.NewDecoder(logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.decoder = decoder

	if cfg.PGDSN != "" {
		sink, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.sink = sink
		a.closers = append(a.closers, sink.Close)
	}

	logFetcher := fetcher.New(fetcher.Config{
		ChunkSize:              cfg.ChunkSize,
		Concurrency:            cfg.ChunkConcurrency,
		InterChunkDelay:        cfg.InterChunkDelay,
		BackoffBase:            cfg.BackoffBase,
		BackoffMax:             cfg.BackoffMax,
		MaxAttempts:            cfg.MaxAttempts,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		CallTimeout:            cfg.CallTimeout,
	}, chainClient, logger, metrics)

	var sink reconcile.ProjectionSink
	if a.sink != nil {
		sink = a.sink
	}
	a.orch = reconcile.New(reconcile.Config{
		DeployBlock:  cfg.DeployBlock,
		MinInterval:  cfg.Cooldown,
		RecentWindow: cfg.RecentWindow,
		CacheTTL:     cfg.CacheTTL,
	}, chainClient, logFetcher, a.store, decoder, sink, logger, metrics)

	return a, nil
}
