// Package extract turns fetched pages into raw records. Each strategy reads a
// different page format; the orchestrator only sees crawler.Extractor.
package extract

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/llm"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
)

// Strategy names accepted by New.
const (
	StrategyCSS      = "css"
	StrategyLLM      = "llm"
	StrategyEmbedded = "embedded"
)

// Config selects a strategy and carries its knobs.
type Config struct {
	Strategy string
	// BaseSelector scopes the css strategy. Every match yields one record.
	BaseSelector string
	// Selector locates the embedded JSON payload.
	Selector string
	// ItemsPath is the dotted path to the records inside the payload.
	ItemsPath string
	// LLM settings.
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxInputChars int
	Instructions  string
}

// New builds the strategy named by cfg.Strategy. The llm strategy requires a
// Completer.
func New(cfg Config, s schema.Schema, completer llm.Completer, logger *zap.Logger) (crawler.Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("extraction schema: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", StrategyCSS:
		return NewCSS(cfg.BaseSelector, s, logger), nil
	case StrategyLLM:
		if completer == nil {
			return nil, fmt.Errorf("llm strategy requires a completer")
		}
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, fmt.Errorf("llm strategy requires a model")
		}
		return NewLLM(cfg, s, completer, logger), nil
	case StrategyEmbedded:
		return NewEmbedded(cfg.Selector, cfg.ItemsPath, s, logger), nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", cfg.Strategy)
	}
}

func logFailure(logger *zap.Logger, page crawler.PageResult, reason string, fields ...zap.Field) {
	logger.Warn("extraction produced no records",
		append([]zap.Field{
			zap.String("kind", "extraction"),
			zap.String("url", page.URL),
			zap.String("reason", reason),
		}, fields...)...)
}
