// Package app builds the run context one harvester phase executes in. Every
// long-lived service is constructed here, once per run, after the phase's
// configuration checks pass, and released by Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/discovery"
	"github.com/JakeFAU/catalog-harvester/internal/extract"
	"github.com/JakeFAU/catalog-harvester/internal/llm"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
	"github.com/JakeFAU/catalog-harvester/internal/store"
	"github.com/JakeFAU/catalog-harvester/internal/telemetry"
	"github.com/JakeFAU/catalog-harvester/internal/urllist"
)

// Phases a run can execute.
const (
	PhaseDiscover = "discover"
	PhaseExtract  = "extract"
	PhaseQuery    = "query"
)

const shutdownTimeout = 5 * time.Second

// App holds the services of one run. Fields a phase does not use stay nil.
type App struct {
	Config config.Config
	Phase  string
	RunID  string
	Logger *zap.Logger
	Clock  crawler.Clock

	Fetcher   discovery.PageFetcher
	Schema    schema.Schema
	Extractor crawler.Extractor
	Store     crawler.RecordStore
	URLs      urllist.Location
	Publisher crawler.Publisher
	Monitor   *telemetry.Monitor

	closers []func(context.Context) error
}

// Options replaces services New would otherwise build from configuration.
type Options struct {
	Logger    *zap.Logger
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Fetcher   crawler.Fetcher
	Store     crawler.RecordStore
	Completer llm.Completer
	Publisher crawler.Publisher
	Sampler   telemetry.Sampler
	// URLList overrides urllist.location resolution.
	URLList *urllist.Location
}

// New validates cfg for phase and builds its services. A configuration
// problem is returned as *config.Error before anything is opened.
func New(ctx context.Context, cfg config.Config, phase string, opts Options) (*App, error) {
	if err := validate(cfg, phase); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, &config.Error{Mode: phase, Key: "logging.level", Reason: err.Error()}
		}
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuidGenerator{}
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}

	a := &App{
		Config: cfg,
		Phase:  phase,
		RunID:  runID,
		Logger: logging.ForRun(logger, runID, phase),
		Clock:  clock,
	}
	if err := a.build(ctx, opts); err != nil {
		closeErr := a.Close(ctx)
		return nil, errors.Join(err, closeErr)
	}
	a.Logger.Info("run initialized")
	return a, nil
}

// MissingList is the error extract reports when discover has not written a
// list at location yet.
func MissingList(location string) error {
	return &config.Error{
		Mode:   PhaseExtract,
		Key:    "urllist.location",
		Reason: fmt.Sprintf("no URL list at %s, run discover first", location),
	}
}

func validate(cfg config.Config, phase string) error {
	switch phase {
	case PhaseDiscover:
		return cfg.ValidateDiscover()
	case PhaseExtract:
		return cfg.ValidateExtract()
	case PhaseQuery:
		if _, err := cfg.ResolveSchema(); err != nil {
			return &config.Error{Mode: phase, Key: "schema", Reason: err.Error()}
		}
		return cfg.ValidateStore(phase)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

func (a *App) build(ctx context.Context, opts Options) error {
	metrics.Init()
	if a.Phase != PhaseQuery {
		if err := a.openURLList(ctx, opts.URLList); err != nil {
			return err
		}
		if a.Phase == PhaseExtract {
			if err := urllist.Check(ctx, a.URLs); err != nil {
				if errors.Is(err, urllist.ErrMissing) {
					return MissingList(a.Config.URLList.Location)
				}
				return err
			}
		}
		if err := a.serveMetrics(); err != nil {
			return err
		}
		every := a.Config.Extract.TelemetryEvery
		a.Monitor = telemetry.New(telemetry.Config{Every: every, Logger: a.Logger, Sampler: opts.Sampler})
		if err := a.buildFetcher(opts.Fetcher); err != nil {
			return err
		}
	}
	if a.Phase == PhaseDiscover {
		return nil
	}

	sc, err := a.Config.ResolveSchema()
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	a.Schema = sc
	if err := a.openStore(ctx, opts.Store); err != nil {
		return err
	}
	if a.Phase == PhaseQuery {
		return nil
	}
	if err := a.buildExtractor(opts.Completer); err != nil {
		return err
	}
	return a.openPublisher(ctx, opts.Publisher)
}

func (a *App) serveMetrics() error {
	if a.Config.Metrics.Addr == "" {
		return nil
	}
	srv, err := metrics.Serve(a.Config.Metrics.Addr, metrics.NewRouter(a.RunID, a.Phase), a.Logger)
	if err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	a.onClose(srv.Shutdown)
	return nil
}

func (a *App) openURLList(ctx context.Context, override *urllist.Location) error {
	if override != nil {
		a.URLs = *override
		return nil
	}
	loc, err := urllist.Open(ctx, a.Config.URLList.Location)
	if err != nil {
		return &config.Error{Mode: a.Phase, Key: "urllist.location", Reason: err.Error()}
	}
	a.URLs = loc
	a.onClose(func(context.Context) error { return loc.Close() })
	return nil
}

func (a *App) openStore(ctx context.Context, override crawler.RecordStore) error {
	if override != nil {
		a.Store = override
		return nil
	}
	st, err := store.Open(ctx, a.Config.Store, a.Schema, a.Logger)
	if err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrPersistence, err)
	}
	a.Store = st
	a.onClose(func(context.Context) error { return st.Close() })
	return nil
}

func (a *App) buildExtractor(completer llm.Completer) error {
	cfg := a.Config
	if cfg.Extract.Strategy == extract.StrategyLLM && completer == nil {
		var err error
		completer, err = llm.New(llm.Config{
			Provider:    cfg.LLM.Provider,
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return &config.Error{Mode: a.Phase, Key: "llm.provider", Reason: err.Error()}
		}
	}
	ex, err := extract.New(extract.Config{
		Strategy:      cfg.Extract.Strategy,
		BaseSelector:  cfg.Extract.BaseSelector,
		Selector:      cfg.Extract.Selector,
		ItemsPath:     cfg.Extract.ItemsPath,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxInputChars: cfg.LLM.MaxInputChars,
		Instructions:  cfg.LLM.Instructions,
	}, a.Schema, completer, a.Logger)
	if err != nil {
		return &config.Error{Mode: a.Phase, Key: "extract.strategy", Reason: err.Error()}
	}
	a.Extractor = ex
	return nil
}

func (a *App) openPublisher(ctx context.Context, override crawler.Publisher) error {
	if override != nil {
		a.Publisher = override
		return nil
	}
	if !a.Config.PubSub.Enabled() {
		return nil
	}
	client, err := gpubsub.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsub.New(client)
	a.Publisher = pub
	a.onClose(func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	a.Logger.Info("publishing flush notices", zap.String("topic", a.Config.PubSub.Topic))
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases services in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
