package app

import (
	"context"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-harvester/internal/headless/detector"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
)

// Fetch engines.
const (
	EngineAuto     = "auto"
	EngineHTTP     = "http"
	EngineHeadless = "headless"
)

// buildFetcher wires the engine named by fetch.engine behind the per-host
// limiter and retry policy. A non-nil override replaces the engine.
func (a *App) buildFetcher(override crawler.Fetcher) error {
	cfg := a.Config.Fetch
	engine, useHeadless := override, false
	if engine == nil {
		probe := collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.Timeout,
		})
		switch cfg.Engine {
		case EngineHTTP:
			engine = probe
		default:
			browser, err := headless.NewChromedp(headless.Config{
				Headless:          cfg.Headless,
				ExtraArgs:         cfg.ExtraArgs,
				MaxParallel:       cfg.MaxParallel,
				UserAgent:         cfg.UserAgent,
				NavigationTimeout: cfg.NavigationTimeout,
				SettleDelay:       cfg.SettleDelay,
			})
			if err != nil {
				return err
			}
			a.onClose(func(context.Context) error {
				browser.Close()
				return nil
			})
			if cfg.Engine == EngineHeadless {
				engine, useHeadless = browser, true
				break
			}
			engine = fetcher.NewPromoting(probe, browser, detector.NewHeuristic(cfg.PromotionThreshold), a.Logger)
		}
	}

	a.Fetcher = fetcher.NewRunner(engine, fetcher.Options{
		Timeout:     cfg.Timeout,
		UseHeadless: useHeadless,
		Phase:       a.Phase,
		Limiter:     ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RatePerSecond, DefaultBurst: cfg.Burst}),
		Retry:       crawler.NewExponentialRetryPolicy(cfg.MaxRetries),
		Logger:      a.Logger,
	})
	return nil
}
