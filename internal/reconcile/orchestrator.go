// Package reconcile owns the top-level sync loop: it decides the block range
// to fetch, runs the log fetcher per event type, merges results into the
// cache, reduces the event streams and publishes the package map.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"supplytrace/internal/cache"
	"supplytrace/internal/fetcher"
	"supplytrace/internal/model"
	"supplytrace/internal/reduce"
)

var (
	// ErrCooldown is returned when a run is requested inside the minimum
	// inter-run interval. Callers triggered by live events just drop it.
	ErrCooldown = errors.New("reconcile on cooldown")
	// ErrBusy is returned when a run for the address is already in flight.
	ErrBusy = errors.New("reconcile already running")
)

// HeadSource yields the current chain head.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// LogFetcher retrieves logs for one query. Implemented by fetcher.Fetcher.
type LogFetcher interface {
	Fetch(ctx context.Context, q fetcher.Query) ([]model.LogRecord, error)
}

// EventDecoder turns raw records into typed events. Implemented by
// contract.Decoder.
type EventDecoder interface {
	Topic0(eventName string) (common.Hash, error)
	DecodeCreated(logs []model.LogRecord) []model.PackageCreated
	DecodeStatus(logs []model.LogRecord) []model.StatusUpdated
	DecodeTemperature(logs []model.LogRecord) []model.TemperatureUpdated
	DecodeTransfer(logs []model.LogRecord) []model.OwnershipTransferred
}

// ProjectionSink receives the published package set for external persistence.
type ProjectionSink interface {
	UpsertPackages(ctx context.Context, contractAddress string, packages []model.Package) error
}

// Config holds the orchestrator tunables.
type Config struct {
	// Namespace isolates this cache from unrelated ones.
	Namespace string
	// DeployBlock is the scan lower bound when no cache record exists.
	DeployBlock uint64
	// MinInterval rejects runs scheduled inside the cooldown window.
	MinInterval time.Duration
	// RecentWindow, on a cold start over a large range, is the trailing
	// sub-window fetched and published first so the UI is never blank.
	RecentWindow uint64
	// CacheTTL bounds how long a sync record survives without a run.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "packages"
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Second
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = 5000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	return c
}

// Orchestrator guarantees at most one in-flight reconciliation per address
// and publishes a consistent package map after every successful run.
type Orchestrator struct {
	cfg     Config
	head    HeadSource
	fetcher LogFetcher
	store   cache.Store
	decoder EventDecoder
	sink    ProjectionSink
	logger  *zap.Logger
	metrics *Metrics

	mu             sync.Mutex
	current        common.Address
	running        bool
	lastRunStarted time.Time
	generation     uint64
	published      map[string]model.Package
	subscribers    []func([]model.Package)

	// replaced in tests
	now func() time.Time
}

// New builds an Orchestrator. sink and metrics may be nil.
func New(
	cfg Config,
	head HeadSource,
	logFetcher LogFetcher,
	store cache.Store,
	decoder EventDecoder,
	sink ProjectionSink,
	logger *zap.Logger,
	metrics *Metrics,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		head:      head,
		fetcher:   logFetcher,
		store:     store,
		decoder:   decoder,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
		published: make(map[string]model.Package),
		now:       time.Now,
	}
}

// Subscribe registers a callback invoked with the full package list on every
// publish.
func (o *Orchestrator) Subscribe(fn func([]model.Package)) {
	o.mu.Lock()
	o.subscribers = append(o.subscribers, fn)
	o.mu.Unlock()
}

// Published returns the currently published package list.
func (o *Orchestrator) Published() []model.Package {
	o.mu.Lock()
	defer o.mu.Unlock()
	return reduce.SortedList(o.published)
}

// Invalidate drops the cache record for an address and cancels any in-flight
// run, e.g. after a network switch.
func (o *Orchestrator) Invalidate(ctx context.Context, addr common.Address) error {
	o.mu.Lock()
	o.generation++
	o.published = make(map[string]model.Package)
	o.lastRunStarted = time.Time{}
	o.mu.Unlock()
	return o.store.Delete(ctx, o.cfg.Namespace, cacheKey(addr))
}

// Reconcile brings the published state up to the current chain head for one
// contract address. Safe to call on every trigger: bursts are absorbed by the
// cooldown guard and concurrent calls by the single-flight guard.
func (o *Orchestrator) Reconcile(ctx context.Context, addr common.Address) error {
	gen, err := o.begin(addr)
	if err != nil {
		o.logger.Debug("reconcile skipped", zap.Error(err))
		o.metrics.runFinished("skipped", 0)
		return err
	}
	started := o.now()

	err = o.run(ctx, addr, gen)
	o.finish()

	elapsed := o.now().Sub(started).Seconds()
	if err != nil {
		o.metrics.runFinished("error", elapsed)
		return err
	}
	o.metrics.runFinished("ok", elapsed)
	return nil
}

// begin applies the cooldown and single-flight guards and pins the run's
// generation. An address change cancels whatever was in flight before.
func (o *Orchestrator) begin(addr common.Address) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if addr != o.current {
		o.current = addr
		o.generation++
		o.published = make(map[string]model.Package)
		o.lastRunStarted = time.Time{}
	}
	if o.running {
		return 0, ErrBusy
	}
	if !o.lastRunStarted.IsZero() && o.now().Sub(o.lastRunStarted) < o.cfg.MinInterval {
		return 0, ErrCooldown
	}

	o.running = true
	o.lastRunStarted = o.now()
	return o.generation, nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, addr common.Address, gen uint64) error {
	head, err := o.head.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get chain head: %w", err)
	}

	record := model.NewSyncRecord()
	cold := false
	if err := o.store.Get(ctx, o.cfg.Namespace, cacheKey(addr), record); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			return fmt.Errorf("load sync record: %w", err)
		}
		record = model.NewSyncRecord()
		cold = true
	}

	from := o.cfg.DeployBlock
	if !cold && record.LastReconciledBlock >= from {
		from = record.LastReconciledBlock + 1
	}

	if from > head {
		// Nothing new; republish the known state so a fresh subscriber
		// still gets a snapshot.
		o.publish(ctx, addr, gen, o.reduceRecord(record))
		return nil
	}

	o.logger.Info("reconcile range",
		zap.String("contract", cacheKey(addr)),
		zap.Uint64("from", from),
		zap.Uint64("to", head),
		zap.Bool("cold_start", cold),
	)

	// Fast first paint: on a cold start over a deep range, surface the most
	// recent window before the full backfill completes.
	if cold && head-from > o.cfg.RecentWindow {
		windowFrom := head - o.cfg.RecentWindow + 1
		windowLogs, err := o.fetchAll(ctx, addr, windowFrom, head)
		if err != nil {
			o.logger.Warn("early window fetch failed", zap.Error(err))
		} else {
			preview := model.NewSyncRecord()
			for event, logs := range windowLogs {
				preview.Merge(event, logs)
			}
			o.publish(ctx, addr, gen, o.reduceRecord(preview))
		}
	}

	newLogs, err := o.fetchAll(ctx, addr, from, head)
	if err != nil {
		return fmt.Errorf("fetch logs: %w", err)
	}

	for event, logs := range newLogs {
		record.Merge(event, logs)
	}
	record.LastReconciledBlock = head

	if err := o.store.Set(ctx, o.cfg.Namespace, cacheKey(addr), record, cache.Options{
		TTL:     o.cfg.CacheTTL,
		Persist: true,
	}); err != nil {
		return fmt.Errorf("persist sync record: %w", err)
	}

	packages := o.reduceRecord(record)
	if !o.publish(ctx, addr, gen, packages) {
		o.logger.Info("discard stale run", zap.String("contract", cacheKey(addr)))
		return nil
	}

	o.metrics.reconciled(head, len(packages))
	o.logger.Info("reconcile complete",
		zap.Uint64("head", head),
		zap.Int("packages", len(packages)),
	)
	return nil
}

// fetchAll runs the log fetcher for every tracked event type in parallel over
// the same range.
func (o *Orchestrator) fetchAll(ctx context.Context, addr common.Address, from, to uint64) (map[string][]model.LogRecord, error) {
	var mu sync.Mutex
	out := make(map[string][]model.LogRecord, len(model.EventNames))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, eventName := range model.EventNames {
		eventName := eventName
		group.Go(func() error {
			topic0, err := o.decoder.Topic0(eventName)
			if err != nil {
				return err
			}
			logs, err := o.fetcher.Fetch(groupCtx, fetcher.Query{
				Address:   addr,
				Topic0:    topic0,
				FromBlock: from,
				ToBlock:   to,
			})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", eventName, err)
			}
			mu.Lock()
			out[eventName] = logs
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) reduceRecord(record *model.SyncRecord) map[string]model.Package {
	o.mu.Lock()
	prev := o.published
	o.mu.Unlock()

	return reduce.Reduce(reduce.Inputs{
		Created:     o.decoder.DecodeCreated(record.LogsByEvent[model.EventPackageCreated]),
		Status:      o.decoder.DecodeStatus(record.LogsByEvent[model.EventStatusUpdated]),
		Temperature: o.decoder.DecodeTemperature(record.LogsByEvent[model.EventTemperatureUpdated]),
		Transfers:   o.decoder.DecodeTransfer(record.LogsByEvent[model.EventOwnershipTransferred]),
	}, prev)
}

// publish installs the reduced map as the published state unless the run's
// generation has been superseded, and notifies subscribers.
func (o *Orchestrator) publish(ctx context.Context, addr common.Address, gen uint64, packages map[string]model.Package) bool {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return false
	}
	o.published = packages
	subscribers := make([]func([]model.Package), len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.mu.Unlock()

	list := reduce.SortedList(packages)
	for _, fn := range subscribers {
		fn(list)
	}

	if o.sink != nil {
		if err := o.sink.UpsertPackages(ctx, cacheKey(addr), list); err != nil {
			// The sink is a side channel for the dashboard DB; a write
			// failure must not fail the run.
			o.logger.Warn("projection sink upsert failed", zap.Error(err))
		}
	}
	return true
}

// ApplyCreated folds live creation events straight into the published state,
// the optimistic fast path ahead of the next full reconciliation.
func (o *Orchestrator) ApplyCreated(ctx context.Context, addr common.Address, events []model.PackageCreated) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	gen := o.generation
	prev := o.published
	o.mu.Unlock()

	o.publish(ctx, addr, gen, reduce.Reduce(reduce.Inputs{Created: events}, prev))
}

func cacheKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
