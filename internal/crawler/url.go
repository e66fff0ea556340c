package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query parameters
// and drops the fragment. Only absolute http(s) URLs are accepted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u)
}

// ResolveLink resolves href against base and normalizes the result. Links with
// a non-http(s) scheme (mailto:, javascript:, tel:) are rejected.
func ResolveLink(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", fmt.Errorf("empty link")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	return normalize(baseURL.ResolveReference(ref))
}

// Host returns the lowercased host of rawURL without its port, or "" when the
// URL cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func normalize(u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
