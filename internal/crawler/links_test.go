package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	page := PageResult{
		URL:      "https://shop.example.com/",
		FinalURL: "https://shop.example.com/index.html",
		Success:  true,
		HTML: `<html><body>
			<a href="/category/shoes">Shoes</a>
			<a href="product/1">One</a>
			<a href="/category/shoes#top">Shoes again</a>
			<a href="mailto:sales@example.com">Mail</a>
			<a href="https://other.example.org/x">External</a>
		</body></html>`,
	}

	links := ExtractLinks(page)
	require.Equal(t, []string{
		"https://shop.example.com/category/shoes",
		"https://shop.example.com/product/1",
		"https://other.example.org/x",
	}, links)
}

func TestExtractLinksHonoursBaseTag(t *testing.T) {
	t.Parallel()

	page := PageResult{
		URL:     "https://example.com/a/b",
		Success: true,
		HTML:    `<html><head><base href="https://cdn.example.com/root/"></head><body><a href="item">i</a></body></html>`,
	}
	require.Equal(t, []string{"https://cdn.example.com/root/item"}, ExtractLinks(page))
}

func TestExtractLinksFailedPage(t *testing.T) {
	t.Parallel()

	require.Nil(t, ExtractLinks(PageResult{URL: "https://example.com", HTML: `<a href="/x">x</a>`}))
}
