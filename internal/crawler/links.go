package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the outbound http(s) links of a successful page in
// document order. Links are resolved against the page's final URL, normalized
// and deduplicated.
func ExtractLinks(page PageResult) []string {
	if !page.Success || page.HTML == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil
	}
	base := page.BaseURL()
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := ResolveLink(base, href); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, err := ResolveLink(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
