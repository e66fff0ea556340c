package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	responses []crawler.FetchResponse
	errs      []error
	requests  []crawler.FetchRequest
}

func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return crawler.FetchResponse{}, f.errs[idx]
	}
	if idx < len(f.responses) {
		resp := f.responses[idx]
		if resp.URL == "" {
			resp.URL = req.URL
		}
		return resp, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("<html><body>ok</body></html>")}, nil
}

func (f *scriptedFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	<-ctx.Done()
	return crawler.FetchResponse{}, ctx.Err()
}

type countingWaiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (w *countingWaiter) Wait(_ context.Context, rawURL string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.urls = append(w.urls, rawURL)
	return w.err
}

type alwaysPromote bool

func (a alwaysPromote) ShouldPromote(crawler.FetchResponse) bool { return bool(a) }

func noSleep(context.Context, time.Duration) error { return nil }

func TestRunnerSuccess(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []crawler.FetchResponse{{
		StatusCode: 200,
		Body:       []byte("<html><body><h1>Red Shoe</h1></body></html>"),
	}}}
	waiter := &countingWaiter{}
	r := NewRunner(f, Options{Limiter: waiter, Phase: "extract", Sleep: noSleep})

	page := r.Page(context.Background(), "https://shop.example.com/p/1")
	require.True(t, page.Success)
	require.Contains(t, page.Markdown, "Red Shoe")
	require.Equal(t, []string{"https://shop.example.com/p/1"}, waiter.urls)
}

func TestRunnerWarnsOncePerHostWithoutRobots(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	fallback := crawler.FetchResponse{
		StatusCode:   200,
		Body:         []byte("<html><body>ok</body></html>"),
		RobotsStatus: crawler.RobotsStatusIndeterminate,
		RobotsReason: "robots.txt timed out",
	}
	f := &scriptedFetcher{responses: []crawler.FetchResponse{fallback, fallback, {StatusCode: 200, Body: []byte("<html></html>")}}}
	r := NewRunner(f, Options{Logger: zap.New(core), Sleep: noSleep})

	for _, u := range []string{"https://shop.example.com/p/1", "https://shop.example.com/p/2", "https://other.example.com/"} {
		require.True(t, r.Page(context.Background(), u).Success)
	}

	warned := logs.FilterMessage("crawling without robots.txt").All()
	require.Len(t, warned, 1)
	require.Equal(t, "shop.example.com", warned[0].ContextMap()["host"])
	require.Equal(t, "robots.txt timed out", warned[0].ContextMap()["reason"])
}

func TestRunnerRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{errs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	r := NewRunner(f, Options{Retry: crawler.NewExponentialRetryPolicy(3), Sleep: noSleep})

	page := r.Page(context.Background(), "https://shop.example.com/p/1")
	require.True(t, page.Success)
	require.Equal(t, 3, f.calls())
}

func TestRunnerGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	f := &scriptedFetcher{errs: []error{boom, boom, boom}}
	r := NewRunner(f, Options{Retry: crawler.NewExponentialRetryPolicy(1), Sleep: noSleep})

	page := r.Page(context.Background(), "https://shop.example.com/p/1")
	require.False(t, page.Success)
	require.Contains(t, page.Error, "connection reset")
	require.Equal(t, 2, f.calls())
}

func TestRunnerNon2xxIsFailure(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{responses: []crawler.FetchResponse{{StatusCode: 404}}}
	r := NewRunner(f, Options{Retry: crawler.NewExponentialRetryPolicy(2), Sleep: noSleep})

	page := r.Page(context.Background(), "https://shop.example.com/gone")
	require.False(t, page.Success)
	require.Equal(t, 404, page.StatusCode)
	require.Equal(t, 1, f.calls(), "client errors are not retried")
}

func TestRunnerTimeoutIsNotRetried(t *testing.T) {
	t.Parallel()

	r := NewRunner(blockingFetcher{}, Options{
		Timeout: 20 * time.Millisecond,
		Retry:   crawler.NewExponentialRetryPolicy(3),
		Sleep:   noSleep,
	})
	start := time.Now()
	page := r.Page(context.Background(), "https://slow.example.com/")
	require.False(t, page.Success)
	require.Contains(t, page.Error, "deadline exceeded")
	require.Less(t, time.Since(start), time.Second)
}

func TestRunnerLimiterErrorFailsPage(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{}
	r := NewRunner(f, Options{Limiter: &countingWaiter{err: context.Canceled}, Sleep: noSleep})
	page := r.Page(context.Background(), "https://shop.example.com/")
	require.False(t, page.Success)
	require.Zero(t, f.calls())
}

func TestPromotingUsesHeadlessWhenDetectorAgrees(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{responses: []crawler.FetchResponse{{StatusCode: 200, Body: []byte(`<div id="root"></div>`)}}}
	headless := &scriptedFetcher{responses: []crawler.FetchResponse{{StatusCode: 200, Body: []byte("<h1>rendered</h1>")}}}
	p := NewPromoting(probe, headless, alwaysPromote(true), nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://spa.example.com/"})
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)
	require.Equal(t, "<h1>rendered</h1>", string(resp.Body))
	require.True(t, headless.requests[0].UseHeadless)
}

func TestPromotingKeepsProbeWhenHeadlessFails(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{responses: []crawler.FetchResponse{{StatusCode: 200, Body: []byte("shell")}}}
	headless := &scriptedFetcher{errs: []error{errors.New("chrome crashed")}}
	p := NewPromoting(probe, headless, alwaysPromote(true), nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://spa.example.com/"})
	require.NoError(t, err)
	require.False(t, resp.UsedHeadless)
	require.Equal(t, "shell", string(resp.Body))
}

func TestPromotingSkipsWhenDetectorDeclines(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{}
	headless := &scriptedFetcher{}
	p := NewPromoting(probe, headless, alwaysPromote(false), nil)

	_, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://plain.example.com/"})
	require.NoError(t, err)
	require.Zero(t, headless.calls())

	_, err = p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://plain.example.com/", UseHeadless: true})
	require.NoError(t, err)
	require.Equal(t, 1, headless.calls())
}

func TestPromotingProbeError(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{errs: []error{errors.New("dns")}}
	p := NewPromoting(probe, nil, nil, nil)
	_, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://x.example.com/"})
	require.ErrorContains(t, err, "probe fetch")
}
