package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/llm"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
)

const (
	defaultMaxInputChars = 20000
	defaultInstructions  = "You extract structured records from web pages. " +
		"Reply with a JSON array of objects using exactly the field names listed. " +
		"Use null for values that are not on the page. Do not add commentary."
)

// LLM asks a language model to fill the schema from the page text.
type LLM struct {
	completer llm.Completer
	schema    schema.Schema
	cfg       Config
	logger    *zap.Logger
}

// NewLLM builds an llm strategy.
func NewLLM(cfg Config, s schema.Schema, completer llm.Completer, logger *zap.Logger) *LLM {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = defaultInstructions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{completer: completer, schema: s, cfg: cfg, logger: logger.Named("llm")}
}

// Extract implements crawler.Extractor. Completion errors are logged and
// produce no records.
func (l *LLM) Extract(ctx context.Context, page crawler.PageResult) []crawler.RawRecord {
	text := page.Markdown
	if strings.TrimSpace(text) == "" {
		text = crawler.ReadableText(page.HTML, page.BaseURL())
	}
	if !page.Success || strings.TrimSpace(text) == "" {
		logFailure(l.logger, page, "empty page")
		return nil
	}

	reply, err := l.completer.Complete(ctx, llm.Request{
		Model:       l.cfg.Model,
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: l.cfg.Instructions},
			{Role: llm.RoleUser, Content: l.prompt(page, text)},
		},
	})
	if err != nil {
		logFailure(l.logger, page, "completion failed", zap.Error(err))
		return nil
	}

	objects, err := parseObjects(reply)
	if err != nil {
		logFailure(l.logger, page, "unparseable reply", zap.Error(err))
		return nil
	}
	records := make([]crawler.RawRecord, 0, len(objects))
	for _, obj := range objects {
		if len(obj) == 0 {
			continue
		}
		records = append(records, crawler.RawRecord{SourceURL: page.URL, Fields: obj})
	}
	if len(records) == 0 {
		logFailure(l.logger, page, "model returned no objects")
	}
	return records
}

func (l *LLM) prompt(page crawler.PageResult, text string) string {
	if runes := []rune(text); len(runes) > l.cfg.MaxInputChars {
		text = string(runes[:l.cfg.MaxInputChars])
	}
	var b strings.Builder
	b.WriteString("Fields:\n")
	b.WriteString(l.schema.Describe())
	fmt.Fprintf(&b, "\nPage URL: %s\n\nPage content:\n", page.BaseURL())
	b.WriteString(text)
	return b.String()
}

// parseObjects accepts a JSON array of objects, an object wrapping exactly one
// array, or a single object. Markdown code fences are ignored.
func parseObjects(reply string) ([]map[string]any, error) {
	body := stripFences(reply)
	if body == "" {
		return nil, fmt.Errorf("empty reply")
	}
	if start := strings.IndexAny(body, "[{"); start > 0 {
		body = body[start:]
	}

	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		end := strings.LastIndexAny(body, "]}")
		if end < 0 || json.Unmarshal([]byte(body[:end+1]), &decoded) != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
	}

	switch v := decoded.(type) {
	case []any:
		return objectsOf(v), nil
	case map[string]any:
		var wrapped []any
		arrays := 0
		for _, val := range v {
			if list, ok := val.([]any); ok {
				wrapped = list
				arrays++
			}
		}
		if arrays == 1 && len(v) == 1 {
			return objectsOf(wrapped), nil
		}
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("reply is %T, want object or array", decoded)
	}
}

func objectsOf(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
