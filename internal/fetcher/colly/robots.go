package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

const (
	robotsAllowAll       = "User-agent: *\nAllow: /"
	robotsTimeoutReason  = "robots.txt timed out"
	robotsRequestPath    = "/robots.txt"
	robotsCacheableLimit = http.StatusInternalServerError
)

// robotsBackoff spaces the retries of a robots.txt request that timed out.
var robotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

type robotsEntry struct {
	status int
	header http.Header
	body   []byte
	// fallback is set when the origin never answered and allow-all was served.
	fallback string
}

// robotsTransport answers robots.txt requests from a per-origin cache so
// the per-page collectors fetch each file once per run. Every other request
// passes straight through to base.
//
// An origin whose robots.txt keeps timing out is served allow-all and
// remembered as indeterminate; fetches from it report that status.
type robotsTransport struct {
	base  http.RoundTripper
	sleep func(context.Context, time.Duration) error

	mu      sync.Mutex
	origins map[string]robotsEntry
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{
		base:    base,
		sleep:   sleepWithContext,
		origins: make(map[string]robotsEntry),
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, robotsRequestPath) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	origin := originOf(req.URL)
	if entry, ok := t.lookup(origin); ok {
		return entry.response(req), nil
	}
	entry, err := t.fetch(req)
	if err != nil {
		return nil, err
	}
	if entry.status < robotsCacheableLimit {
		t.mu.Lock()
		t.origins[origin] = entry
		t.mu.Unlock()
	}
	return entry.response(req), nil
}

func (t *robotsTransport) fetch(req *http.Request) (robotsEntry, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return robotsEntry{}, fmt.Errorf("read robots.txt: %w", readErr)
			}
			return robotsEntry{status: resp.StatusCode, header: resp.Header.Clone(), body: body}, nil
		}
		if !isTimeout(err) {
			return robotsEntry{}, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt == len(robotsBackoff) {
			metrics.ObserveRobotsFallback()
			return robotsEntry{
				status:   http.StatusOK,
				body:     []byte(robotsAllowAll),
				fallback: robotsTimeoutReason,
			}, nil
		}
		if err := t.sleep(req.Context(), robotsBackoff[attempt]); err != nil {
			return robotsEntry{}, err
		}
	}
}

func (t *robotsTransport) lookup(origin string) (robotsEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.origins[origin]
	return entry, ok
}

// status reports how robots.txt was resolved for rawURL's origin.
func (t *robotsTransport) status(rawURL string) (crawler.RobotsStatus, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return crawler.RobotsStatusUnknown, ""
	}
	entry, ok := t.lookup(originOf(u))
	if !ok || entry.fallback == "" {
		return crawler.RobotsStatusUnknown, ""
	}
	return crawler.RobotsStatusIndeterminate, entry.fallback
}

func (e robotsEntry) response(req *http.Request) *http.Response {
	header := e.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode:    e.status,
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Header:        header,
		Request:       req,
	}
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
