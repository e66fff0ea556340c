package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
)

const defaultPayloadSelector = "script#__NEXT_DATA__"

// Embedded reads records from JSON inlined in the page, such as a Next.js
// data blob or JSON-LD.
type Embedded struct {
	selector  string
	itemsPath string
	schema    schema.Schema
	logger    *zap.Logger
}

// NewEmbedded builds an embedded-data strategy.
func NewEmbedded(selector, itemsPath string, s schema.Schema, logger *zap.Logger) *Embedded {
	if strings.TrimSpace(selector) == "" {
		selector = defaultPayloadSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedded{
		selector:  selector,
		itemsPath: itemsPath,
		schema:    s,
		logger:    logger.Named("embedded"),
	}
}

// Extract implements crawler.Extractor. Every payload matching the selector is
// tried; the first one that yields records wins.
func (e *Embedded) Extract(_ context.Context, page crawler.PageResult) []crawler.RawRecord {
	if !page.Success || strings.TrimSpace(page.HTML) == "" {
		logFailure(e.logger, page, "empty page")
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		logFailure(e.logger, page, "parse html", zap.Error(err))
		return nil
	}

	scripts := doc.Find(e.selector)
	if scripts.Length() == 0 {
		logFailure(e.logger, page, "payload not found", zap.String("selector", e.selector))
		return nil
	}

	var records []crawler.RawRecord
	var decodeErr error
	scripts.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(strings.TrimSpace(sel.Text())), &payload); err != nil {
			decodeErr = err
			return true
		}
		records = e.recordsFrom(payload, page.URL)
		return len(records) == 0
	})
	if len(records) == 0 {
		reason := "items path not found"
		if decodeErr != nil {
			reason = "decode payload: " + decodeErr.Error()
		}
		logFailure(e.logger, page, reason, zap.String("items_path", e.itemsPath))
	}
	return records
}

func (e *Embedded) recordsFrom(payload any, sourceURL string) []crawler.RawRecord {
	node, ok := lookupPath(payload, e.itemsPath)
	if !ok || node == nil {
		return nil
	}
	var items []any
	switch v := node.(type) {
	case []any:
		items = v
	default:
		items = []any{v}
	}

	records := make([]crawler.RawRecord, 0, len(items))
	for _, item := range items {
		fields := mapFields(item, e.schema.Fields)
		if allNil(fields) {
			continue
		}
		records = append(records, crawler.RawRecord{SourceURL: sourceURL, Fields: fields})
	}
	return records
}

func mapFields(item any, fields []schema.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := lookupPath(item, f.SourcePath())
		if !ok {
			out[f.Name] = nil
			continue
		}
		if f.Type == schema.TypeList {
			elems, isList := v.([]any)
			if !isList {
				elems = []any{v}
			}
			nested := make([]any, 0, len(elems))
			for _, elem := range elems {
				m := mapFields(elem, f.Fields)
				if !allNil(m) {
					nested = append(nested, m)
				}
			}
			out[f.Name] = nested
			continue
		}
		out[f.Name] = v
	}
	return out
}
