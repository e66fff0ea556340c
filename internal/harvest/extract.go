package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/batch"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
	"github.com/JakeFAU/catalog-harvester/internal/telemetry"
	"github.com/JakeFAU/catalog-harvester/internal/urllist"
)

const finalFlushTimeout = 30 * time.Second

// ErrTooManyFailures stops an extract run once the consecutive failure limit
// is reached.
var ErrTooManyFailures = errors.New("too many consecutive failures")

// ExtractReport is the outcome of one extract run.
type ExtractReport struct {
	URLs      int
	Processed int
	Batch     batch.Counters
	Summary   telemetry.Summary
}

type outcome struct {
	url     string
	page    crawler.PageResult
	records []crawler.RawRecord
}

// Extract reads the URL list and runs fetch, extract and validate for every
// URL in list order, batching valid records into the store. Per-URL failures
// are counted and never end the run.
func Extract(ctx context.Context, a *app.App) (ExtractReport, error) {
	urls, err := urllist.Read(ctx, a.URLs)
	if errors.Is(err, urllist.ErrMissing) {
		return ExtractReport{}, app.MissingList(a.Config.URLList.Location)
	}
	if err != nil {
		return ExtractReport{}, err
	}

	batcher, err := batch.New(batch.Config{
		Size:        a.Config.Extract.BatchSize,
		Table:       a.Schema.Table,
		ConflictKey: a.Schema.ConflictKey,
		Store:       a.Store,
		Publisher:   a.Publisher,
		Topic:       a.Config.PubSub.Topic,
		RunID:       a.RunID,
		Logger:      a.Logger,
	})
	if err != nil {
		return ExtractReport{}, err
	}

	r := &extractRun{app: a, batcher: batcher, limit: a.Config.Extract.MaxConsecutiveFailures}
	report := ExtractReport{URLs: len(urls)}
	a.Logger.Info("extraction started",
		zap.Int("urls", len(urls)),
		zap.String("strategy", a.Config.Extract.Strategy),
		zap.String("table", a.Schema.Table))
	a.Monitor.Start()

	runErr := r.run(ctx, urls, max(a.Config.Extract.Concurrency, 1))
	report.Processed = r.processed

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	r.flush(flushCtx, batcher.Flush)

	report.Batch = batcher.Counters()
	report.Summary = a.Monitor.Finish()
	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

type extractRun struct {
	app       *app.App
	batcher   *batch.Batcher
	limit     int
	processed int
	streak    int
}

// run fans fetch and extraction out to workers and consumes outcomes in list
// order on the calling goroutine, which is the only batch writer.
func (r *extractRun) run(parent context.Context, urls []string, workers int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers + 1)
	order := make(chan chan outcome, workers)
	g.Go(func() error {
		defer close(order)
		for _, u := range urls {
			if gctx.Err() != nil {
				return nil
			}
			slot := make(chan outcome, 1)
			select {
			case order <- slot:
			case <-gctx.Done():
				return nil
			}
			g.Go(func() error {
				slot <- r.process(gctx, u)
				return nil
			})
		}
		return nil
	})

	var stopErr error
	for slot := range order {
		out := <-slot
		if ctx.Err() != nil {
			break
		}
		r.consume(ctx, out)
		if r.limit > 0 && r.streak >= r.limit {
			stopErr = fmt.Errorf("%w: %d in a row", ErrTooManyFailures, r.streak)
			r.app.Logger.Error("stopping extraction", zap.Int("consecutive_failures", r.streak))
			break
		}
	}
	cancel()
	for range order {
	}
	_ = g.Wait()

	if stopErr != nil {
		return stopErr
	}
	if err := parent.Err(); err != nil {
		return fmt.Errorf("extraction cancelled: %w", err)
	}
	return nil
}

func (r *extractRun) process(ctx context.Context, rawURL string) outcome {
	page := r.app.Fetcher.Page(ctx, rawURL)
	out := outcome{url: rawURL, page: page}
	if page.Success {
		out.records = r.app.Extractor.Extract(ctx, page)
	}
	return out
}

func (r *extractRun) consume(ctx context.Context, out outcome) {
	a := r.app
	r.processed++
	logger := a.Logger.With(zap.String("url", out.url))

	if !out.page.Success {
		logger.Warn("fetch failed", zap.String("kind", "fetch"), zap.String("error", out.page.Error))
		a.Monitor.RecordFailure("fetch")
		a.Monitor.PageDone(false)
		r.streak++
		return
	}
	if len(out.records) == 0 {
		a.Monitor.RecordFailure("extraction")
		a.Monitor.PageDone(false)
		r.streak++
		return
	}

	valid := 0
	for _, raw := range out.records {
		rec, err := schema.Validate(raw, a.Schema, a.Clock.Now())
		if err != nil {
			logger.Warn("record rejected", zap.String("kind", "validation"), zap.Error(err))
			a.Monitor.RecordFailure("validation")
			continue
		}
		valid++
		r.flush(ctx, func(ctx context.Context) error { return r.batcher.Add(ctx, rec) })
	}
	a.Monitor.PageDone(valid > 0)
	if valid > 0 {
		r.streak = 0
	} else {
		r.streak++
	}
}

// flush runs fn, which may upsert a batch, and credits the monitor with the
// records the store confirmed or rejected.
func (r *extractRun) flush(ctx context.Context, fn func(context.Context) error) {
	before := r.batcher.Counters()
	_ = fn(ctx)
	after := r.batcher.Counters()
	r.app.Monitor.RecordSuccess(after.Stored - before.Stored)
	r.app.Monitor.RecordFailures("persistence", after.Failed-before.Failed)
}
