// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// RobotsStatus describes how robots.txt was evaluated for a fetch.
type RobotsStatus string

// Robots evaluation outcomes.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Depth       int
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// PageResult is the outcome of fetching one URL. It is produced once per fetch
// and never mutated afterwards.
type PageResult struct {
	// URL is the address that was requested.
	URL string `json:"url"`
	// FinalURL is the address after redirects; equal to URL when unknown.
	FinalURL     string        `json:"final_url"`
	Success      bool          `json:"success"`
	StatusCode   int           `json:"status_code"`
	HTML         string        `json:"-"`
	Markdown     string        `json:"-"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	UsedHeadless bool          `json:"used_headless"`
}

// BaseURL returns the URL relative links on the page resolve against.
func (p PageResult) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// RawRecord is the untyped output of an extraction strategy. Values may be
// structurally inconsistent with the schema until validated.
type RawRecord struct {
	SourceURL string
	Fields    map[string]any
}

// ValidatedRecord matches an extraction schema and is the only record shape
// allowed to reach a RecordStore.
type ValidatedRecord struct {
	URL       string
	Fields    map[string]any
	ScrapedAt time.Time
}

// Row flattens the record into column values, including url and scraped_at.
func (r ValidatedRecord) Row() map[string]any {
	row := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		row[k] = v
	}
	if _, ok := row["url"]; !ok {
		row["url"] = r.URL
	}
	if !r.ScrapedAt.IsZero() {
		row["scraped_at"] = r.ScrapedAt
	}
	return row
}

// Value returns the value stored under key, falling back to the source URL
// for the "url" key.
func (r ValidatedRecord) Value(key string) (any, bool) {
	if v, ok := r.Fields[key]; ok {
		return v, true
	}
	if key == "url" && r.URL != "" {
		return r.URL, true
	}
	return nil, false
}
