// Package fetcher turns the raw fetch engines into page results for the
// discovery and extraction phases.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Promoting probes with a plain HTTP fetcher and re-fetches with a headless
// browser when the detector says the probe is a client-rendered shell.
type Promoting struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// NewPromoting builds a Promoting fetcher. A nil headless fetcher or detector
// disables promotion.
func NewPromoting(probe, headless crawler.Fetcher, detector crawler.HeadlessDetector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements crawler.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.UseHeadless && p.headless != nil {
		return p.fetchHeadless(ctx, request)
	}
	resp, err := p.probe.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}
	promoted, ok := p.maybePromote(ctx, request, resp)
	if ok {
		return promoted, nil
	}
	return resp, nil
}

func (p *Promoting) maybePromote(
	ctx context.Context,
	request crawler.FetchRequest,
	resp crawler.FetchResponse,
) (crawler.FetchResponse, bool) {
	if p.detector == nil || p.headless == nil || !p.detector.ShouldPromote(resp) {
		return resp, false
	}
	request.UseHeadless = true
	headlessResp, err := p.fetchHeadless(ctx, request)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp, false
	}
	p.logger.Debug("promoted to headless", zap.String("url", request.URL))
	return headlessResp, true
}

func (p *Promoting) fetchHeadless(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := p.headless.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
	}
	resp.UsedHeadless = true
	return resp, nil
}
