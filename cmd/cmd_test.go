package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
)

type staticSite map[string]string

func (s staticSite) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	html, ok := s[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(html)}, nil
}

func testRunner(site crawler.Fetcher, store crawler.RecordStore) (*runner, *bytes.Buffer) {
	out := &bytes.Buffer{}
	r := newRunner(out)
	r.newApp = func(ctx context.Context, cfg config.Config, phase string) (*app.App, error) {
		return app.New(ctx, cfg, phase, app.Options{Logger: zap.NewNop(), Fetcher: site, Store: store})
	}
	return r, out
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(r *runner, args ...string) error {
	root := newRootCmd(r)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestDiscoverThenExtractThenQuery(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "urls.txt")
	cfgPath := writeConfig(t, dir, fmt.Sprintf(`
urllist:
  location: %s
crawl:
  root: https://shop.example/
  max_depth: 1
  filters:
    - mode: allow
      patterns: ["*/product/*"]
fetch:
  engine: http
  max_retries: 0
  rate_per_second: 0
schema:
  preset: product
store:
  driver: memory
`, list))

	site := staticSite{
		"https://shop.example/":          `<a href="/product/1">one</a><a href="/about">about</a>`,
		"https://shop.example/about":     `<p>about us</p>`,
		"https://shop.example/product/1": `<h1>Widget</h1><span class="price">$19.99</span>`,
	}
	store := memory.NewRecordStore()
	r, out := testRunner(site, store)

	require.NoError(t, run(r, "--config", cfgPath, "discover"))
	data, err := os.ReadFile(list)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/product/1\n", string(data))
	require.Contains(t, out.String(), "discovered 1 urls")

	require.NoError(t, run(r, "--config", cfgPath, "extract"))
	require.Contains(t, out.String(), "1 records stored, 0 failures")

	out.Reset()
	require.NoError(t, run(r, "--config", cfgPath, "query", "--filter", "name=Widget"))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.InDelta(t, 19.99, rows[0]["price"], 1e-9)
}

func TestDiscoverWithoutRootIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf("urllist:\n  location: %s\n", filepath.Join(dir, "urls.txt")))
	t.Setenv("HARVESTER_CRAWL_ROOT", "")
	t.Setenv("ECOMMERCE_TARGET_URL", "")

	r, _ := testRunner(staticSite{}, memory.NewRecordStore())
	err := run(r, "--config", cfgPath, "discover")
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "crawl.root", cerr.Key)
	require.Equal(t, ExitConfig, exitCode(err))
}

func TestExtractWithoutListIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf(`
urllist:
  location: %s
schema:
  preset: product
store:
  driver: memory
`, filepath.Join(dir, "missing.txt")))

	r, _ := testRunner(staticSite{}, memory.NewRecordStore())
	err := run(r, "--config", cfgPath, "extract")
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "urllist.location", cerr.Key)
}

func TestQueryRejectsBadInput(t *testing.T) {
	t.Parallel()

	r, _ := testRunner(staticSite{}, memory.NewRecordStore())
	require.ErrorContains(t, run(r, "query", "--filter", "novalue"), "column=value")
	require.ErrorContains(t, run(r, "query", "--output", "xml"), "unknown output format")
}

func TestParseFilters(t *testing.T) {
	t.Parallel()

	got, err := parseFilters([]string{"name=Widget", " url =https://a.example/?q=1"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Widget", "url": "https://a.example/?q=1"}, got)

	_, err = parseFilters([]string{"=x"})
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ExitOK, exitCode(nil))
	require.Equal(t, ExitFailed, exitCode(errors.New("boom")))
	require.Equal(t, ExitConfig, exitCode(fmt.Errorf("wrap: %w", &config.Error{Mode: "extract", Key: "store.dsn"})))
}
