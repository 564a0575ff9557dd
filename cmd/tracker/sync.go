package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("sync start",
		zap.String("rpc", a.cfg.RPCURL),
		zap.String("contract", a.cfg.ContractAddress),
		zap.Uint64("deploy_block", a.cfg.DeployBlock),
		zap.Uint64("chunk_size", a.cfg.ChunkSize),
	)

	if err := a.orch.Reconcile(ctx, a.contract); err != nil {
		return err
	}

	packages := a.orch.Published()
	now := time.Now()
	delayed := 0
	for _, pkg := range packages {
		if pkg.Delayed(now) {
			delayed++
		}
	}

	fmt.Printf("%d packages reconciled (%d past their expected delivery date)\n", len(packages), delayed)
	for _, pkg := range packages {
		marker := " "
		if pkg.Delayed(now) {
			marker = "!"
		}
		fmt.Printf("%s %-14s %-15s %-44s %s\n", marker, pkg.ID, pkg.Status, pkg.CurrentOwner, pkg.Destination)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.Invalidate(ctx, a.contract); err != nil {
		return err
	}
	a.logger.Info("cache cleared", zap.String("contract", a.cfg.ContractAddress))
	return nil
}
