package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
)

const defaultBaseSelector = "body"

// CSS reads fields out of the DOM with per-field selectors.
type CSS struct {
	base   string
	schema schema.Schema
	logger *zap.Logger
}

// NewCSS builds a css strategy. An empty base selector means the whole body.
func NewCSS(base string, s schema.Schema, logger *zap.Logger) *CSS {
	if strings.TrimSpace(base) == "" {
		base = defaultBaseSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSS{base: base, schema: s, logger: logger.Named("css")}
}

// Extract implements crawler.Extractor.
func (c *CSS) Extract(_ context.Context, page crawler.PageResult) []crawler.RawRecord {
	if !page.Success || strings.TrimSpace(page.HTML) == "" {
		logFailure(c.logger, page, "empty page")
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		logFailure(c.logger, page, "parse html", zap.Error(err))
		return nil
	}

	var records []crawler.RawRecord
	doc.Find(c.base).Each(func(_ int, sel *goquery.Selection) {
		fields := extractFields(sel, c.schema.Fields, page.BaseURL())
		if allNil(fields) {
			return
		}
		records = append(records, crawler.RawRecord{SourceURL: page.URL, Fields: fields})
	})
	if len(records) == 0 {
		logFailure(c.logger, page, "no element matched", zap.String("base_selector", c.base))
	}
	return records
}

func extractFields(scope *goquery.Selection, fields []schema.Field, baseURL string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Selector == "" {
			out[f.Name] = nil
			continue
		}
		matches := scope.Find(f.Selector)
		if f.Type == schema.TypeList {
			items := make([]any, 0, matches.Length())
			matches.Each(func(_ int, item *goquery.Selection) {
				nested := extractFields(item, f.Fields, baseURL)
				if !allNil(nested) {
					items = append(items, nested)
				}
			})
			out[f.Name] = items
			continue
		}
		out[f.Name] = readValue(matches.First(), f.Attr, baseURL)
	}
	return out
}

func readValue(sel *goquery.Selection, attr, baseURL string) any {
	if sel.Length() == 0 {
		return nil
	}
	if attr == "" {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return nil
		}
		return text
	}
	val, ok := sel.Attr(attr)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		return nil
	}
	switch strings.ToLower(attr) {
	case "src", "href", "data-src":
		if abs, err := crawler.ResolveLink(baseURL, val); err == nil {
			return abs
		}
	}
	return val
}

func allNil(m map[string]any) bool {
	for _, v := range m {
		if v == nil {
			continue
		}
		if list, ok := v.([]any); ok && len(list) == 0 {
			continue
		}
		return false
	}
	return true
}
