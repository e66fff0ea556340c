// Package discovery runs the bounded breadth-first crawl that produces the
// candidate URL list for extraction.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/filter"
)

// ErrInvalidTarget is returned when a Target cannot start a traversal.
var ErrInvalidTarget = errors.New("invalid crawl target")

// State is the lifecycle of one traversal.
type State string

// Traversal states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// PageFetcher fetches one URL into a PageResult and never fails past the call.
type PageFetcher interface {
	Page(ctx context.Context, rawURL string) crawler.PageResult
}

// Target is the immutable description of one discovery run.
type Target struct {
	Root string
	// MaxDepth bounds link following; 0 means unbounded.
	MaxDepth int
	// MaxPages bounds the number of fetches.
	MaxPages    int
	Concurrency int
	// SameHost keeps the traversal on the root's host.
	SameHost bool
	Filter   *filter.Chain
}

// Validate checks the target before any fetch happens.
func (t Target) Validate() error {
	if _, err := crawler.NormalizeURL(t.Root); err != nil {
		return fmt.Errorf("%w: root url %q: %w", ErrInvalidTarget, t.Root, err)
	}
	if t.MaxDepth < 0 {
		return fmt.Errorf("%w: max depth must be >= 0", ErrInvalidTarget)
	}
	if t.MaxPages <= 0 {
		return fmt.Errorf("%w: max pages must be > 0", ErrInvalidTarget)
	}
	if t.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must be >= 0", ErrInvalidTarget)
	}
	return nil
}

// Visit is one processed page in traversal order.
type Visit struct {
	Page  crawler.PageResult
	Depth int
	// Matched reports whether the page passed the filter chain and was added
	// to the discovered set.
	Matched bool
}

// Result summarizes a finished traversal.
type Result struct {
	// Discovered holds matching URLs in discovery order.
	Discovered []string
	Visited    int
	Succeeded  int
	Failed     int
	State      State
}

// Engine drives one traversal. It is single use: the second Stream call yields
// nothing.
type Engine struct {
	target  Target
	fetcher PageFetcher
	logger  *zap.Logger
	started atomic.Bool

	mu     sync.Mutex
	result Result
	// hosts holds the site hosts links may stay on when SameHost is set: the
	// root's host plus wherever the root redirected.
	hosts map[string]struct{}
}

// New validates target and returns an idle engine.
func New(target Target, fetcher PageFetcher, logger *zap.Logger) (*Engine, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidTarget)
	}
	if target.Concurrency == 0 {
		target.Concurrency = 1
	}
	root, _ := crawler.NormalizeURL(target.Root)
	target.Root = root
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		target:  target,
		fetcher: fetcher,
		logger:  logger.Named("discovery"),
		result:  Result{State: StateIdle},
		hosts:   map[string]struct{}{siteHost(root): {}},
	}, nil
}

// Result returns a snapshot of the traversal counters and discovered set.
func (e *Engine) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.result
	out.Discovered = append([]string(nil), e.result.Discovered...)
	return out
}

// Run drains the traversal and returns its result. It returns the context
// error when cancelled.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	for range e.Stream(ctx) {
	}
	res := e.Result()
	if res.State == StateCancelled {
		return res, fmt.Errorf("discovery cancelled: %w", context.Cause(ctx))
	}
	return res, nil
}

type pending struct {
	url   string
	depth int
	done  chan crawler.PageResult
}

// Stream returns the traversal as a lazy sequence of visits in breadth-first
// order. Up to Concurrency fetches run ahead of the consumer; once that window
// is full nothing new is dispatched until the consumer takes the next visit.
// Stopping the iteration cancels in-flight fetches.
func (e *Engine) Stream(ctx context.Context) iter.Seq[Visit] {
	return func(yield func(Visit) bool) {
		if !e.started.CompareAndSwap(false, true) {
			return
		}
		var wg sync.WaitGroup
		defer wg.Wait()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		e.setState(StateRunning)
		frontier := newFrontier(e.target.Root)
		var inflight []pending
		dispatched := 0

		for {
			for len(inflight) < e.target.Concurrency && dispatched < e.target.MaxPages {
				item, ok := frontier.next()
				if !ok {
					break
				}
				dispatched++
				p := pending{url: item.url, depth: item.depth, done: make(chan crawler.PageResult, 1)}
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.done <- e.fetcher.Page(ctx, p.url)
				}()
				inflight = append(inflight, p)
			}
			if len(inflight) == 0 {
				e.setState(StateCompleted)
				return
			}

			head := inflight[0]
			inflight = inflight[1:]
			var page crawler.PageResult
			select {
			case page = <-head.done:
			case <-ctx.Done():
				e.setState(StateCancelled)
				return
			}
			if ctx.Err() != nil {
				e.setState(StateCancelled)
				return
			}

			visit := e.process(frontier, head, page)
			if !yield(visit) {
				e.setState(StateCancelled)
				return
			}
		}
	}
}

func (e *Engine) process(frontier *frontier, item pending, page crawler.PageResult) Visit {
	visit := Visit{Page: page, Depth: item.depth}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.result.Visited++
	if !page.Success {
		e.result.Failed++
		e.logger.Warn("fetch failed",
			zap.String("kind", "fetch"),
			zap.String("url", item.url),
			zap.Int("depth", item.depth),
			zap.String("error", page.Error),
		)
		return visit
	}
	e.result.Succeeded++

	if e.target.Filter.Allows(item.url) {
		visit.Matched = true
		e.result.Discovered = append(e.result.Discovered, item.url)
	}

	if item.depth == 0 {
		if host := siteHost(page.BaseURL()); host != "" {
			if _, ok := e.hosts[host]; !ok {
				e.hosts[host] = struct{}{}
				e.logger.Info("root redirected", zap.String("url", item.url), zap.String("final_url", page.BaseURL()))
			}
		}
	}

	if e.target.MaxDepth == 0 || item.depth < e.target.MaxDepth {
		for _, link := range crawler.ExtractLinks(page) {
			if e.target.SameHost && !e.onSite(link) {
				continue
			}
			frontier.push(link, item.depth+1)
		}
	}
	return visit
}

// onSite reports whether link stays on the crawled site. Callers hold e.mu.
func (e *Engine) onSite(link string) bool {
	_, ok := e.hosts[siteHost(link)]
	return ok
}

// siteHost is the link host with a leading "www." dropped, so the bare and
// www forms of a domain count as one site.
func siteHost(rawURL string) string {
	return strings.TrimPrefix(crawler.Host(rawURL), "www.")
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.result.State = state
	e.mu.Unlock()
}
