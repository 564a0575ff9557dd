package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"supplytrace/internal/model"
)

// ErrTooManyFailures aborts a fetch after the configured number of
// consecutive chunk failures, so a dead provider is not hammered range
// by range.
var ErrTooManyFailures = errors.New("too many consecutive chunk failures")

// Source is the provider read surface the fetcher depends on.
type Source interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Observer receives fetch progress signals. Implemented by the reconcile
// metrics; a nil observer is valid.
type Observer interface {
	ChunkFetched(logs int)
	ChunkFailed()
	RateLimited()
}

// Config holds the provider-facing tunables.
type Config struct {
	// ChunkSize is the provider's block-range ceiling per getLogs call.
	ChunkSize uint64
	// Concurrency bounds how many chunk calls are in flight at once.
	Concurrency int
	// InterChunkDelay separates successive batches of chunk calls.
	InterChunkDelay time.Duration
	// BackoffBase and BackoffMax shape the rate-limit retry delay,
	// min(base*attempt, max).
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts bounds rate-limit retries per chunk.
	MaxAttempts int
	// MaxConsecutiveFailures aborts the whole fetch when reached.
	MaxConsecutiveFailures int
	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = 999
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	return c
}

// Query describes one fetch: a contract, an event signature and a block range.
// OnChunk, when set, receives each non-empty chunk as soon as it completes so
// callers can surface progress before the full range finishes.
type Query struct {
	Address   common.Address
	Topic0    common.Hash
	FromBlock uint64
	ToBlock   uint64
	OnChunk   func([]model.LogRecord)
}

// Fetcher pages through block ranges in provider-sized chunks, retrying
// throttled chunks with backoff and tolerating isolated chunk failures.
type Fetcher struct {
	cfg      Config
	source   Source
	logger   *zap.Logger
	observer Observer

	// replaced in tests to avoid real waits
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher with its dependencies.
func New(cfg Config, source Source, logger *zap.Logger, observer Observer) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg.withDefaults(),
		source:   source,
		logger:   logger,
		observer: observer,
		sleep:    sleep,
	}
}

// Fetch retrieves all logs for the query, in ascending block order. A chunk
// that keeps failing contributes an empty result rather than aborting the
// fetch, unless failures are consecutive past the configured limit.
func (f *Fetcher) Fetch(ctx context.Context, q Query) ([]model.LogRecord, error) {
	if f.source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	ranges, err := SplitRange(q.FromBlock, q.ToBlock, f.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	results := make([][]model.LogRecord, len(ranges))
	failed := make([]bool, len(ranges))

	var chunkMu sync.Mutex
	consecutive := 0

	for batchStart := 0; batchStart < len(ranges); batchStart += f.cfg.Concurrency {
		if batchStart > 0 {
			if err := f.sleep(ctx, f.cfg.InterChunkDelay); err != nil {
				return nil, err
			}
		}

		batchEnd := batchStart + f.cfg.Concurrency
		if batchEnd > len(ranges) {
			batchEnd = len(ranges)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for i := batchStart; i < batchEnd; i++ {
			i := i
			blockRange := ranges[i]
			group.Go(func() error {
				records, err := f.fetchChunk(groupCtx, q, blockRange)
				if err != nil {
					// Tolerated: the chunk contributes nothing and the
					// consecutive-failure check below decides whether to go on.
					f.logger.Warn("chunk fetch failed",
						zap.Uint64("from", blockRange.From),
						zap.Uint64("to", blockRange.To),
						zap.Error(err),
					)
					if f.observer != nil {
						f.observer.ChunkFailed()
					}
					failed[i] = true
					return nil
				}

				results[i] = records
				if f.observer != nil {
					f.observer.ChunkFetched(len(records))
				}
				if q.OnChunk != nil && len(records) > 0 {
					chunkMu.Lock()
					q.OnChunk(records)
					chunkMu.Unlock()
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		// Failures are counted in sub-range order so "consecutive" stays
		// deterministic even though chunks complete out of order.
		for i := batchStart; i < batchEnd; i++ {
			if failed[i] {
				consecutive++
				if consecutive >= f.cfg.MaxConsecutiveFailures {
					return nil, fmt.Errorf("%w: %d in a row ending at range [%d,%d]",
						ErrTooManyFailures, consecutive, ranges[i].From, ranges[i].To)
				}
			} else {
				consecutive = 0
			}
		}
	}

	out := make([]model.LogRecord, 0)
	for _, records := range results {
		out = append(out, records...)
	}
	return out, nil
}

// fetchChunk issues one provider query, retrying with backoff while the
// provider is throttling or stalling.
func (f *Fetcher) fetchChunk(ctx context.Context, q Query, blockRange BlockRange) ([]model.LogRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		records, err := f.fetchChunkOnce(ctx, q, blockRange)
		if err == nil {
			return records, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRateLimited(err) {
			return nil, err
		}

		if f.observer != nil {
			f.observer.RateLimited()
		}
		delay := backoffDelay(f.cfg.BackoffBase, f.cfg.BackoffMax, attempt)
		f.logger.Warn("provider throttled, backing off",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("chunk retries exhausted: %w", lastErr)
}

func (f *Fetcher) fetchChunkOnce(ctx context.Context, q Query, blockRange BlockRange) ([]model.LogRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()

	logs, err := f.source.FilterLogs(callCtx, blockRange.From, blockRange.To, q.Address, q.Topic0)
	if err != nil {
		return nil, err
	}

	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		ts, err := f.source.BlockTimestamp(callCtx, log.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		records = append(records, NewRecord(log, ts))
	}
	return records, nil
}

// NewRecord normalizes a provider log into the cached record shape. The live
// watcher uses it for logs arriving over the subscription as well.
func NewRecord(log types.Log, timestamp uint64) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     strings.ToLower(log.Address.Hex()),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   timestamp,
	}
}
