// Package harvest runs the discover, extract and query phases against an
// app.App run context.
package harvest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/discovery"
	"github.com/JakeFAU/catalog-harvester/internal/telemetry"
	"github.com/JakeFAU/catalog-harvester/internal/urllist"
)

// DefaultMaxPages caps a discovery run when crawl.max_pages is 0.
const DefaultMaxPages = 1_100_000

// DiscoverReport is the outcome of one discover run.
type DiscoverReport struct {
	Result  discovery.Result
	Summary telemetry.Summary
	// ListURI is where the list was written; empty when nothing was written.
	ListURI string
}

// Discover crawls from crawl.root and overwrites the URL list with the
// discovered URLs in discovery order. A cancelled run leaves the previous
// list in place.
func Discover(ctx context.Context, a *app.App) (DiscoverReport, error) {
	cfg := a.Config.Crawl
	chain, err := a.Config.FilterChain()
	if err != nil {
		return DiscoverReport{}, &config.Error{Mode: app.PhaseDiscover, Key: "crawl.filters", Reason: err.Error()}
	}
	maxPages := cfg.MaxPages
	if maxPages == 0 {
		maxPages = DefaultMaxPages
	}
	engine, err := discovery.New(discovery.Target{
		Root:        cfg.Root,
		MaxDepth:    cfg.MaxDepth,
		MaxPages:    maxPages,
		Concurrency: cfg.Concurrency,
		SameHost:    cfg.SameHost,
		Filter:      chain,
	}, a.Fetcher, a.Logger)
	if err != nil {
		if errors.Is(err, discovery.ErrInvalidTarget) {
			return DiscoverReport{}, &config.Error{Mode: app.PhaseDiscover, Key: "crawl", Reason: err.Error()}
		}
		return DiscoverReport{}, err
	}

	a.Logger.Info("discovery started",
		zap.String("root", cfg.Root),
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Int("max_pages", maxPages))
	a.Monitor.Start()
	for visit := range engine.Stream(ctx) {
		if visit.Page.Success {
			a.Monitor.RecordSuccess(1)
		} else {
			a.Monitor.RecordFailure("fetch")
		}
		a.Monitor.PageDone(visit.Page.Success)
	}

	report := DiscoverReport{Result: engine.Result(), Summary: a.Monitor.Finish()}
	if report.Result.State != discovery.StateCompleted {
		a.Logger.Warn("discovery cancelled, url list left unchanged",
			zap.Int("visited", report.Result.Visited),
			zap.Int("discovered", len(report.Result.Discovered)))
		return report, fmt.Errorf("discovery cancelled: %w", context.Cause(ctx))
	}

	uri, err := urllist.Write(ctx, a.URLs, report.Result.Discovered)
	if err != nil {
		return report, err
	}
	report.ListURI = uri
	a.Logger.Info("discovery finished",
		zap.String("list", uri),
		zap.Int("visited", report.Result.Visited),
		zap.Int("discovered", len(report.Result.Discovered)),
		zap.Int("failed", report.Result.Failed))
	return report, nil
}
