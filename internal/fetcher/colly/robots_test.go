package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

type scriptedTripper struct {
	steps []func() (*http.Response, error)
	calls atomic.Int32
}

func (s *scriptedTripper) RoundTrip(*http.Request) (*http.Response, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.steps) {
		n = len(s.steps) - 1
	}
	return s.steps[n]()
}

func timeout() (*http.Response, error) { return nil, context.DeadlineExceeded }

func robotsBody(status int, body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
}

func newTestRobots(base http.RoundTripper) *robotsTransport {
	t := newRobotsTransport(base)
	t.sleep = func(context.Context, time.Duration) error { return nil }
	return t
}

func getRobots(t *testing.T, rt http.RoundTripper, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, rawURL, nil))
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestRobotsTimeoutFallsBackToAllowAll(t *testing.T) {
	t.Parallel()
	metrics.Init()

	base := &scriptedTripper{steps: []func() (*http.Response, error){timeout}}
	robots := newTestRobots(base)

	_, body := getRobots(t, robots, "https://shop.example/robots.txt")
	require.Equal(t, robotsAllowAll, body)
	require.Equal(t, int32(len(robotsBackoff)+1), base.calls.Load())

	status, reason := robots.status("https://shop.example/product/1")
	require.Equal(t, crawler.RobotsStatusIndeterminate, status)
	require.Equal(t, robotsTimeoutReason, reason)

	// The fallback is remembered for the origin.
	_, body = getRobots(t, robots, "https://SHOP.example/robots.txt")
	require.Equal(t, robotsAllowAll, body)
	require.Equal(t, int32(len(robotsBackoff)+1), base.calls.Load())

	status, _ = robots.status("https://other.example/")
	require.Equal(t, crawler.RobotsStatusUnknown, status)
}

func TestRobotsRecoversAfterOneTimeout(t *testing.T) {
	t.Parallel()

	base := &scriptedTripper{steps: []func() (*http.Response, error){
		timeout,
		robotsBody(http.StatusOK, "User-agent: *\nDisallow: /cart"),
	}}
	robots := newTestRobots(base)

	resp, body := getRobots(t, robots, "https://shop.example/robots.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Disallow: /cart")
	require.Equal(t, int32(2), base.calls.Load())

	status, reason := robots.status("https://shop.example/cart")
	require.Equal(t, crawler.RobotsStatusUnknown, status)
	require.Empty(t, reason)
}

func TestRobotsServerErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	base := &scriptedTripper{steps: []func() (*http.Response, error){
		robotsBody(http.StatusServiceUnavailable, ""),
		robotsBody(http.StatusNotFound, ""),
	}}
	robots := newTestRobots(base)

	resp, _ := getRobots(t, robots, "https://shop.example/robots.txt")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = getRobots(t, robots, "https://shop.example/robots.txt")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = getRobots(t, robots, "https://shop.example/robots.txt")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, int32(2), base.calls.Load())
}

func TestRobotsHardErrorIsReturned(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	base := &scriptedTripper{steps: []func() (*http.Response, error){
		func() (*http.Response, error) { return nil, refused },
	}}
	robots := newTestRobots(base)

	_, err := robots.RoundTrip(httptest.NewRequest(http.MethodGet, "https://shop.example/robots.txt", nil))
	require.ErrorIs(t, err, refused)
	require.Equal(t, int32(1), base.calls.Load())
}

func TestRobotsPassesPagesThrough(t *testing.T) {
	t.Parallel()

	base := &scriptedTripper{steps: []func() (*http.Response, error){robotsBody(http.StatusOK, "page")}}
	robots := newTestRobots(base)

	for range 2 {
		_, body := getRobots(t, robots, "https://shop.example/product/1")
		require.Equal(t, "page", body)
	}
	require.Equal(t, int32(2), base.calls.Load())
}

func TestFetchReportsIndeterminateRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{RespectRobots: true, Timeout: 2 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/product/1"})
	require.NoError(t, err)
	require.Equal(t, crawler.RobotsStatusUnknown, resp.RobotsStatus)

	req := httptest.NewRequest(http.MethodGet, srv.URL+"/robots.txt", nil)
	f.robots.mu.Lock()
	f.robots.origins[originOf(req.URL)] = robotsEntry{
		status:   http.StatusOK,
		body:     []byte(robotsAllowAll),
		fallback: robotsTimeoutReason,
	}
	f.robots.mu.Unlock()

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/product/2"})
	require.NoError(t, err)
	require.Equal(t, crawler.RobotsStatusIndeterminate, resp.RobotsStatus)
	require.Equal(t, robotsTimeoutReason, resp.RobotsReason)
}
