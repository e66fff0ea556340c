// Package batch buffers validated records and flushes them to a RecordStore.
// A Batcher has a single writer; callers must not share one across goroutines.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// DefaultSize is the flush threshold used when Config.Size is unset.
const DefaultSize = 50

// Config wires a Batcher.
type Config struct {
	Size        int
	Table       string
	ConflictKey string
	Store       crawler.RecordStore
	// Publisher, when set, receives a Notice after every confirmed flush.
	Publisher crawler.Publisher
	Topic     string
	RunID     string
	Logger    *zap.Logger
}

// Counters accumulates flush outcomes across the run.
type Counters struct {
	Stored  int
	Failed  int
	Flushes int
}

// Notice is published after a confirmed flush.
type Notice struct {
	RunID string   `json:"run_id"`
	Table string   `json:"table"`
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// Attributes implements the Pub/Sub attribute hook.
func (n Notice) Attributes() map[string]string {
	return map[string]string{"run_id": n.RunID, "table": n.Table}
}

// Batcher collects records until Size is reached, then upserts them in one
// store call.
type Batcher struct {
	cfg      Config
	pending  []crawler.ValidatedRecord
	counters Counters
	logger   *zap.Logger
}

// New builds a Batcher.
func New(cfg Config) (*Batcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("batch requires a record store")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("batch requires a table")
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.ConflictKey == "" {
		cfg.ConflictKey = "url"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		cfg:     cfg,
		pending: make([]crawler.ValidatedRecord, 0, cfg.Size),
		logger:  logger.Named("batch").With(zap.String("table", cfg.Table)),
	}, nil
}

// Add appends rec and flushes when the batch is full. The returned error is
// the flush error, if one happened.
func (b *Batcher) Add(ctx context.Context, rec crawler.ValidatedRecord) error {
	b.pending = append(b.pending, rec)
	if len(b.pending) < b.cfg.Size {
		return nil
	}
	return b.Flush(ctx)
}

// Pending reports how many records wait for the next flush.
func (b *Batcher) Pending() int { return len(b.pending) }

// Counters returns the totals so far.
func (b *Batcher) Counters() Counters { return b.counters }

// Flush deduplicates and upserts the pending records. The batch is cleared
// whether or not the store accepts it; a rejected batch counts every record
// as failed and is not retried.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	records := Dedup(b.pending, b.cfg.ConflictKey)
	b.pending = b.pending[:0]
	b.counters.Flushes++

	stored, err := b.cfg.Store.Upsert(ctx, b.cfg.Table, records, b.cfg.ConflictKey)
	if err != nil {
		b.counters.Failed += len(records)
		metrics.ObserveFlush(false)
		b.logger.Error("flush rejected",
			zap.String("kind", "persistence"),
			zap.Int("records", len(records)),
			zap.Error(err))
		return fmt.Errorf("%w: upsert %d records into %s: %w", crawler.ErrPersistence, len(records), b.cfg.Table, err)
	}

	b.counters.Stored += len(records)
	metrics.ObserveFlush(true)
	metrics.ObserveRecords(len(records))
	b.logger.Info("flushed batch", zap.Int("records", len(records)), zap.Int("acknowledged", stored))
	b.notify(ctx, records)
	return nil
}

func (b *Batcher) notify(ctx context.Context, records []crawler.ValidatedRecord) {
	if b.cfg.Publisher == nil {
		return
	}
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		if v, ok := rec.Value(b.cfg.ConflictKey); ok {
			keys = append(keys, fmt.Sprint(v))
		}
	}
	notice := Notice{RunID: b.cfg.RunID, Table: b.cfg.Table, Count: len(records), Keys: keys}
	if _, err := b.cfg.Publisher.Publish(ctx, b.cfg.Topic, notice); err != nil {
		b.logger.Warn("publish flush notice", zap.Error(err))
	}
}

// Dedup keeps the last record for each conflict key, in the order each key
// first appeared. Records without the key are kept as they are.
func Dedup(records []crawler.ValidatedRecord, key string) []crawler.ValidatedRecord {
	index := make(map[string]int, len(records))
	out := make([]crawler.ValidatedRecord, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Value(key)
		if !ok || v == nil {
			out = append(out, rec)
			continue
		}
		k := fmt.Sprint(v)
		if i, seen := index[k]; seen {
			out[i] = rec
			continue
		}
		index[k] = len(out)
		out = append(out, rec)
	}
	return out
}
