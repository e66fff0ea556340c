package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options tunes a Runner.
type Options struct {
	// Timeout bounds a single attempt. Exceeding it is a normal fetch failure.
	Timeout     time.Duration
	UseHeadless bool
	Phase       string
	Limiter     Waiter
	Retry       crawler.RetryPolicy
	Logger      *zap.Logger
	// Sleep is used between retries; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner fetches one URL into a PageResult. It never returns an error: every
// failure becomes a PageResult with Success=false.
type Runner struct {
	fetcher crawler.Fetcher
	opts    Options
	logger  *zap.Logger
	// robotsWarned holds hosts already reported as crawled without a
	// readable robots.txt.
	robotsWarned sync.Map
}

// NewRunner wraps a Fetcher.
func NewRunner(f crawler.Fetcher, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry == nil {
		opts.Retry = crawler.NewExponentialRetryPolicy(0)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	return &Runner{fetcher: f, opts: opts, logger: opts.Logger.Named("fetch")}
}

// Page fetches rawURL, retrying transient failures allowed by the policy.
func (r *Runner) Page(ctx context.Context, rawURL string) crawler.PageResult {
	var lastErr error
	for attempt := 0; ; attempt++ {
		page, err := r.attempt(ctx, rawURL)
		if err == nil {
			r.observe(page)
			return page
		}
		lastErr = err
		if ctx.Err() != nil || !r.opts.Retry.ShouldRetry(err, attempt) {
			break
		}
		delay := r.opts.Retry.Backoff(attempt)
		r.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := r.opts.Sleep(ctx, delay); err != nil {
			break
		}
	}

	page := crawler.FailedPage(rawURL, lastErr)
	var status *crawler.StatusError
	if errors.As(lastErr, &status) {
		page.StatusCode = status.Code
	}
	r.observe(page)
	return page
}

func (r *Runner) attempt(ctx context.Context, rawURL string) (crawler.PageResult, error) {
	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Wait(ctx, rawURL); err != nil {
			return crawler.PageResult{}, fmt.Errorf("%w: %w", crawler.ErrFetch, err)
		}
	}
	attemptCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	resp, err := r.fetcher.Fetch(attemptCtx, crawler.FetchRequest{
		URL:         rawURL,
		UseHeadless: r.opts.UseHeadless,
	})
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("%w: %w", crawler.ErrFetch, err)
	}
	metrics.ObserveFetch(resp.UsedHeadless, resp.Duration)
	r.noteRobots(rawURL, resp)
	page := crawler.NewPageResult(rawURL, resp)
	if !page.Success {
		return page, fmt.Errorf("%w: %w", crawler.ErrFetch, &crawler.StatusError{Code: resp.StatusCode})
	}
	return page, nil
}

func (r *Runner) noteRobots(rawURL string, resp crawler.FetchResponse) {
	if resp.RobotsStatus != crawler.RobotsStatusIndeterminate {
		return
	}
	host := crawler.Host(rawURL)
	if _, seen := r.robotsWarned.LoadOrStore(host, struct{}{}); seen {
		return
	}
	r.logger.Warn("crawling without robots.txt",
		zap.String("kind", "robots"),
		zap.String("host", host),
		zap.String("reason", resp.RobotsReason),
	)
}

func (r *Runner) observe(page crawler.PageResult) {
	metrics.ObservePage(r.opts.Phase, page.URL, page.Success, len(page.HTML))
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
