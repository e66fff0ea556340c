package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// NewPageResult converts a fetch response into an immutable PageResult. Non-2xx
// statuses produce a failed page that still carries the body.
func NewPageResult(requested string, resp FetchResponse) PageResult {
	final := resp.URL
	if final == "" {
		final = requested
	}
	page := PageResult{
		URL:          requested,
		FinalURL:     final,
		StatusCode:   resp.StatusCode,
		HTML:         string(resp.Body),
		Duration:     resp.Duration,
		UsedHeadless: resp.UsedHeadless,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		page.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return page
	}
	page.Success = true
	page.Markdown = ReadableText(page.HTML, final)
	return page
}

// FailedPage records a fetch that produced no usable response.
func FailedPage(requested string, err error) PageResult {
	page := PageResult{URL: requested, FinalURL: requested}
	if err != nil {
		page.Error = err.Error()
	}
	return page
}

// ReadableText extracts the main text of an HTML document. It falls back to the
// whitespace-collapsed body text when readability finds nothing.
func ReadableText(html, pageURL string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	if parsed, err := url.Parse(pageURL); err == nil {
		article, err := readability.FromReader(strings.NewReader(html), parsed)
		if err == nil {
			if text := strings.TrimSpace(article.TextContent); text != "" {
				return collapseSpace(text)
			}
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return collapseSpace(doc.Find("body").Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
