package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"supplytrace/internal/fetcher"
	"supplytrace/internal/model"
)

// LogSubscriber is the live notification surface the watcher depends on.
// Implemented by chain.Client over a websocket endpoint.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash, sink chan<- types.Log) (ethereum.Subscription, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// WatcherConfig holds the live watcher tunables.
type WatcherConfig struct {
	// Debounce delays the authoritative reconcile after a burst of live
	// events; each new event resets the timer.
	Debounce time.Duration
	// ResubscribeDelay spaces reconnect attempts after a dropped
	// subscription.
	ResubscribeDelay time.Duration
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = 5 * time.Second
	}
	return c
}

// Watcher subscribes to newly mined creation events. Each one is folded into
// the published state immediately for display, then a debounced full
// reconciliation picks up the authoritative status/temperature/owner data.
// Status and transfer changes are not watched; the next reconcile covers them.
type Watcher struct {
	cfg     WatcherConfig
	sub     LogSubscriber
	orch    *Orchestrator
	decoder EventDecoder
	addr    common.Address
	logger  *zap.Logger
	metrics *Metrics

	mu   sync.Mutex
	seen map[string]uint64
}

// seenBlockWindow is how many trailing blocks of live-log keys the dedup set
// retains. Replays after a resubscribe only cover recent blocks, so older
// entries can go; without the bound the set grows for the life of the watch.
const seenBlockWindow = 512

// NewWatcher builds a live event watcher for one contract address.
func NewWatcher(
	cfg WatcherConfig,
	sub LogSubscriber,
	orch *Orchestrator,
	decoder EventDecoder,
	addr common.Address,
	logger *zap.Logger,
	metrics *Metrics,
) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:     cfg.withDefaults(),
		sub:     sub,
		orch:    orch,
		decoder: decoder,
		addr:    addr,
		logger:  logger,
		metrics: metrics,
		seen:    make(map[string]uint64),
	}
}

// Run subscribes and processes events until the context is cancelled,
// resubscribing after transport drops.
func (w *Watcher) Run(ctx context.Context) error {
	topic0, err := w.decoder.Topic0(model.EventPackageCreated)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sink := make(chan types.Log, 64)
		sub, err := w.sub.SubscribeLogs(ctx, w.addr, topic0, sink)
		if err != nil {
			w.logger.Warn("subscribe failed, retrying", zap.Error(err))
			if err := sleepCtx(ctx, w.cfg.ResubscribeDelay); err != nil {
				return err
			}
			continue
		}

		err = w.loop(ctx, sub, sink)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("subscription dropped, resubscribing", zap.Error(err))
		if err := sleepCtx(ctx, w.cfg.ResubscribeDelay); err != nil {
			return err
		}
	}
}

func (w *Watcher) loop(ctx context.Context, sub ethereum.Subscription, sink <-chan types.Log) error {
	debounce := time.NewTimer(w.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case log := <-sink:
			if w.handle(ctx, log) {
				// Coalesce bursts: the reconcile fires once the stream
				// goes quiet for the debounce window.
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.cfg.Debounce)
			}
		case <-debounce.C:
			go w.reconcile(ctx)
		}
	}
}

// handle folds one live log into the published state. Returns false for logs
// already applied (replays after a resubscribe) or dropped by decoding.
func (w *Watcher) handle(ctx context.Context, log types.Log) bool {
	if log.Removed {
		return false
	}

	ts, err := w.sub.BlockTimestamp(ctx, log.BlockNumber)
	if err != nil {
		// Still worth a reconcile; the authoritative pass resolves the
		// timestamp itself.
		w.logger.Warn("live event timestamp lookup failed", zap.Error(err))
		return true
	}

	record := fetcher.NewRecord(log, ts)
	w.mu.Lock()
	if _, ok := w.seen[record.Key()]; ok {
		w.mu.Unlock()
		return false
	}
	w.seen[record.Key()] = record.BlockNumber
	if record.BlockNumber > seenBlockWindow {
		floor := record.BlockNumber - seenBlockWindow
		for key, block := range w.seen {
			if block < floor {
				delete(w.seen, key)
			}
		}
	}
	w.mu.Unlock()

	events := w.decoder.DecodeCreated([]model.LogRecord{record})
	if len(events) == 0 {
		return false
	}

	w.metrics.liveEvent()
	w.logger.Info("live creation event",
		zap.Uint64("block_number", record.BlockNumber),
		zap.String("tx_hash", record.TxHash),
	)
	w.orch.ApplyCreated(ctx, w.addr, events)
	return true
}

func (w *Watcher) reconcile(ctx context.Context) {
	err := w.orch.Reconcile(ctx, w.addr)
	switch {
	case err == nil:
	case errors.Is(err, ErrCooldown), errors.Is(err, ErrBusy):
		w.logger.Debug("debounced reconcile skipped", zap.Error(err))
	default:
		w.logger.Error("debounced reconcile failed", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
