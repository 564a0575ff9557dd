package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"supplytrace/internal/cache"
	"supplytrace/internal/fetcher"
	"supplytrace/internal/model"
)

var testAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type fakeHead struct {
	head uint64
	err  error
}

func (f *fakeHead) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, f.err
}

// fakeFetcher serves canned records filtered by the queried range and records
// every query it sees. A non-nil release channel blocks Fetch until closed.
type fakeFetcher struct {
	mu      sync.Mutex
	queries []fetcher.Query
	logs    map[common.Hash][]model.LogRecord
	err     error

	release   chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (f *fakeFetcher) Fetch(ctx context.Context, q fetcher.Query) ([]model.LogRecord, error) {
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	var out []model.LogRecord
	for _, record := range f.logs[q.Topic0] {
		if record.BlockNumber >= q.FromBlock && record.BlockNumber <= q.ToBlock {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeFetcher) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// fakeDecoder keeps the test wire format trivial: the package id rides in the
// block number and the status value in the data string.
type fakeDecoder struct{}

func fakeTopic(eventName string) common.Hash {
	return common.BytesToHash([]byte(eventName))
}

func (fakeDecoder) Topic0(eventName string) (common.Hash, error) {
	for _, known := range model.EventNames {
		if known == eventName {
			return fakeTopic(eventName), nil
		}
	}
	return common.Hash{}, fmt.Errorf("unknown event %q", eventName)
}

func (fakeDecoder) DecodeCreated(logs []model.LogRecord) []model.PackageCreated {
	out := make([]model.PackageCreated, 0, len(logs))
	for _, record := range logs {
		out = append(out, model.PackageCreated{
			EventMeta:   meta(record),
			PackageID:   big.NewInt(int64(record.BlockNumber)),
			Creator:     "0xcreator",
			Description: record.Data,
		})
	}
	return out
}

func (fakeDecoder) DecodeStatus(logs []model.LogRecord) []model.StatusUpdated {
	out := make([]model.StatusUpdated, 0, len(logs))
	for _, record := range logs {
		value, _ := strconv.Atoi(record.Data)
		out = append(out, model.StatusUpdated{
			EventMeta: meta(record),
			PackageID: big.NewInt(int64(record.BlockNumber)),
			NewStatus: uint8(value),
		})
	}
	return out
}

func (fakeDecoder) DecodeTemperature(logs []model.LogRecord) []model.TemperatureUpdated {
	out := make([]model.TemperatureUpdated, 0, len(logs))
	for _, record := range logs {
		value, _ := strconv.ParseInt(record.Data, 10, 64)
		out = append(out, model.TemperatureUpdated{
			EventMeta:   meta(record),
			PackageID:   big.NewInt(int64(record.BlockNumber)),
			Temperature: big.NewInt(value),
		})
	}
	return out
}

func (fakeDecoder) DecodeTransfer(logs []model.LogRecord) []model.OwnershipTransferred {
	out := make([]model.OwnershipTransferred, 0, len(logs))
	for _, record := range logs {
		out = append(out, model.OwnershipTransferred{
			EventMeta: meta(record),
			PackageID: big.NewInt(int64(record.BlockNumber)),
			NewOwner:  record.Data,
		})
	}
	return out
}

func meta(record model.LogRecord) model.EventMeta {
	return model.EventMeta{
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Timestamp:   record.Timestamp,
	}
}

func record(eventName string, block uint64, data string) model.LogRecord {
	return model.LogRecord{
		BlockNumber: block,
		TxHash:      fmt.Sprintf("0xtx%s%d", eventName, block),
		Address:     cacheKey(testAddr),
		Data:        data,
		Timestamp:   1750000000 + block,
	}
}

type orchestratorDeps struct {
	head    *fakeHead
	fetcher *fakeFetcher
	store   *cache.Memory
	clock   time.Time
}

func newTestOrchestrator(t *testing.T, cfg Config, deps *orchestratorDeps) *Orchestrator {
	t.Helper()
	if deps.head == nil {
		deps.head = &fakeHead{head: 1000}
	}
	if deps.fetcher == nil {
		deps.fetcher = &fakeFetcher{}
	}
	if deps.store == nil {
		deps.store = cache.NewMemory()
	}
	if deps.clock.IsZero() {
		deps.clock = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	o := New(cfg, deps.head, deps.fetcher, deps.store, fakeDecoder{}, nil, nil, nil)
	o.now = func() time.Time { return deps.clock }
	return o
}

func TestReconcileColdRun(t *testing.T) {
	deps := &orchestratorDeps{
		head: &fakeHead{head: 150},
		fetcher: &fakeFetcher{logs: map[common.Hash][]model.LogRecord{
			fakeTopic(model.EventPackageCreated): {record(model.EventPackageCreated, 120, "Insulin|Pharma")},
			fakeTopic(model.EventStatusUpdated):  {record(model.EventStatusUpdated, 120, "3")},
		}},
	}
	o := newTestOrchestrator(t, Config{DeployBlock: 100}, deps)

	if err := o.Reconcile(context.Background(), testAddr); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	for _, q := range deps.fetcher.queries {
		if q.FromBlock != 100 || q.ToBlock != 150 {
			t.Fatalf("query range [%d,%d], want [100,150]", q.FromBlock, q.ToBlock)
		}
	}
	if got := deps.fetcher.queryCount(); got != len(model.EventNames) {
		t.Fatalf("query count %d, want one per event type (%d)", got, len(model.EventNames))
	}

	published := o.Published()
	if len(published) != 1 {
		t.Fatalf("published %d packages, want 1", len(published))
	}
	if published[0].Status != model.StatusInTransit {
		t.Fatalf("status %s, want InTransit", published[0].Status)
	}
	if published[0].Category != "Pharma" {
		t.Fatalf("category %q", published[0].Category)
	}

	stored := model.NewSyncRecord()
	if err := deps.store.Get(context.Background(), "packages", cacheKey(testAddr), stored); err != nil {
		t.Fatalf("sync record not persisted: %v", err)
	}
	if stored.LastReconciledBlock != 150 {
		t.Fatalf("last reconciled block %d, want 150", stored.LastReconciledBlock)
	}
}

func TestReconcileResumesPastCachedBlock(t *testing.T) {
	deps := &orchestratorDeps{
		head:    &fakeHead{head: 2600},
		store:   cache.NewMemory(),
		fetcher: &fakeFetcher{},
	}
	seed := model.NewSyncRecord()
	seed.LastReconciledBlock = 1500
	if err := deps.store.Set(context.Background(), "packages", cacheKey(testAddr), seed, cache.Options{}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	o := newTestOrchestrator(t, Config{DeployBlock: 100}, deps)
	if err := o.Reconcile(context.Background(), testAddr); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	for _, q := range deps.fetcher.queries {
		if q.FromBlock != 1501 || q.ToBlock != 2600 {
			t.Fatalf("query range [%d,%d], want [1501,2600]", q.FromBlock, q.ToBlock)
		}
	}
}

func TestReconcileNoopWhenCaughtUp(t *testing.T) {
	deps := &orchestratorDeps{
		head:    &fakeHead{head: 200},
		store:   cache.NewMemory(),
		fetcher: &fakeFetcher{},
	}
	seed := model.NewSyncRecord()
	seed.LastReconciledBlock = 200
	seed.Merge(model.EventPackageCreated, []model.LogRecord{record(model.EventPackageCreated, 180, "cached|")})
	if err := deps.store.Set(context.Background(), "packages", cacheKey(testAddr), seed, cache.Options{}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	o := newTestOrchestrator(t, Config{DeployBlock: 100}, deps)
	if err := o.Reconcile(context.Background(), testAddr); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if got := deps.fetcher.queryCount(); got != 0 {
		t.Fatalf("expected no fetches when caught up, got %d", got)
	}
	published := o.Published()
	if len(published) != 1 || published[0].Description != "cached" {
		t.Fatalf("cached state not republished: %+v", published)
	}
}

func TestReconcileCooldown(t *testing.T) {
	deps := &orchestratorDeps{head: &fakeHead{head: 50}, fetcher: &fakeFetcher{}}
	o := newTestOrchestrator(t, Config{DeployBlock: 1, MinInterval: 5 * time.Second}, deps)

	if err := o.Reconcile(context.Background(), testAddr); err != nil {
		t.Fatalf("first run: %v", err)
	}
	deps.clock = deps.clock.Add(2 * time.Second)
	if err := o.Reconcile(context.Background(), testAddr); !errors.Is(err, ErrCooldown) {
		t.Fatalf("inside cooldown: got %v, want ErrCooldown", err)
	}
	deps.clock = deps.clock.Add(4 * time.Second)
	if err := o.Reconcile(context.Background(), testAddr); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestReconcileSingleFlight(t *testing.T) {
	blocked := &fakeFetcher{
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	deps := &orchestratorDeps{head: &fakeHead{head: 50}, fetcher: blocked}
	o := newTestOrchestrator(t, Config{DeployBlock: 1}, deps)

	done := make(chan error, 1)
	go func() { done <- o.Reconcile(context.Background(), testAddr) }()
	<-blocked.started

	if err := o.Reconcile(context.Background(), testAddr); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent run: got %v, want ErrBusy", err)
	}

	close(blocked.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestInvalidateDiscardsInFlightRun(t *testing.T) {
	blocked := &fakeFetcher{
		logs: map[common.Hash][]model.LogRecord{
			fakeTopic(model.EventPackageCreated): {record(model.EventPackageCreated, 20, "stale|")},
		},
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	deps := &orchestratorDeps{head: &fakeHead{head: 50}, fetcher: blocked}
	o := newTestOrchestrator(t, Config{DeployBlock: 1}, deps)

	done := make(chan error, 1)
	go func() { done <- o.Reconcile(context.Background(), testAddr) }()
	<-blocked.started

	if err := o.Invalidate(context.Background(), testAddr); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	close(blocked.release)
	if err := <-done; err != nil {
		t.Fatalf("run error: %v", err)
	}
	if published := o.Published(); len(published) != 0 {
		t.Fatalf("stale run published %d packages after invalidate", len(published))
	}
}

func TestReconcileFetchErrorLeavesStateUntouched(t *testing.T) {
	deps := &orchestratorDeps{
		head:    &fakeHead{head: 50},
		fetcher: &fakeFetcher{err: errors.New("provider down")},
		store:   cache.NewMemory(),
	}
	o := newTestOrchestrator(t, Config{DeployBlock: 1}, deps)

	if err := o.Reconcile(context.Background(), testAddr); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}
	if published := o.Published(); len(published) != 0 {
		t.Fatalf("failed run must not publish, got %d", len(published))
	}
	stored := model.NewSyncRecord()
	err := deps.store.Get(context.Background(), "packages", cacheKey(testAddr), stored)
	if !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("failed run must not persist a sync record, got %v", err)
	}
}

func TestReconcileColdStartFetchesRecentWindowFirst(t *testing.T) {
	deps := &orchestratorDeps{
		head:    &fakeHead{head: 20000},
		fetcher: &fakeFetcher{},
	}
	o := newTestOrchestrator(t, Config{DeployBlock: 0, RecentWindow: 5000}, deps)

	var publishes int
	o.Subscribe(func([]model.Package) { publishes++ })

	if err := o.Reconcile(context.Background(), testAddr); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// One early-window query plus one full-range query per event type.
	if got := deps.fetcher.queryCount(); got != 2*len(model.EventNames) {
		t.Fatalf("query count %d, want %d", got, 2*len(model.EventNames))
	}
	var window, full int
	for _, q := range deps.fetcher.queries {
		switch {
		case q.FromBlock == 15001 && q.ToBlock == 20000:
			window++
		case q.FromBlock == 0 && q.ToBlock == 20000:
			full++
		default:
			t.Fatalf("unexpected query range [%d,%d]", q.FromBlock, q.ToBlock)
		}
	}
	if window != len(model.EventNames) || full != len(model.EventNames) {
		t.Fatalf("window=%d full=%d", window, full)
	}
	if publishes != 2 {
		t.Fatalf("publishes %d, want preview + final", publishes)
	}
}

func TestApplyCreatedFoldsIntoPublishedState(t *testing.T) {
	deps := &orchestratorDeps{head: &fakeHead{head: 50}, fetcher: &fakeFetcher{}}
	o := newTestOrchestrator(t, Config{DeployBlock: 1}, deps)

	o.ApplyCreated(context.Background(), testAddr, []model.PackageCreated{{
		EventMeta:   model.EventMeta{Timestamp: 1750000000},
		PackageID:   big.NewInt(9),
		Creator:     "0xcreator",
		Description: "Gauze|FirstAid",
	}})

	published := o.Published()
	if len(published) != 1 {
		t.Fatalf("published %d packages, want 1", len(published))
	}
	if published[0].ID != "MED-2025-009" || published[0].Status != model.StatusManufacturing {
		t.Fatalf("unexpected package: %+v", published[0])
	}
}
