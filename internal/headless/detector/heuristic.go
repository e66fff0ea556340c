// Package detector decides when a plain HTTP probe must be re-fetched with a
// headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

const defaultThreshold = 2048

// Heuristic promotes probes that look like client-rendered shells.
type Heuristic struct {
	// BodyLengthThreshold is the body size below which a script-heavy page is
	// treated as an empty shell.
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A threshold <= 0 selects the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Empty mount points left by client-side frameworks. Pages that ship their
// state inline (Next.js __NEXT_DATA__, JSON-LD) render fine without a browser
// and are deliberately absent.
var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<app-root></app-root>`),
	[]byte("data-reactroot=\"\"></div>"),
}

var noscriptPhrases = []string{
	"enable javascript",
	"javascript is required",
	"javascript is disabled",
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if len(body) >= h.BodyLengthThreshold {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, phrase := range noscriptPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return scriptDensityHigh(lower)
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the lowercased document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		bodyStart := start + tagEnd + 1
		end := total
		if relEnd := strings.Index(lower[bodyStart:], closeTag); relEnd != -1 {
			end = bodyStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
