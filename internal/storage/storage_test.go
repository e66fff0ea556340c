package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

func TestRowsUnionsColumns(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []crawler.ValidatedRecord{
		{URL: "https://a.example/1", Fields: map[string]any{"name": "A", "price": 1.5}, ScrapedAt: now},
		{URL: "https://a.example/2", Fields: map[string]any{"name": "B", "description": "d"}, ScrapedAt: now},
	}
	cols, rows, err := Rows(records, "url")
	require.NoError(t, err)
	require.Equal(t, []string{"description", "name", "price", "scraped_at", "url"}, cols)
	require.Len(t, rows, 2)
	require.Equal(t, "https://a.example/2", rows[1]["url"])
	_, hasPrice := rows[1]["price"]
	require.False(t, hasPrice)
}

func TestRowsRejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	_, _, err := Rows(nil, "url; drop")
	require.Error(t, err)

	bad := []crawler.ValidatedRecord{{URL: "u", Fields: map[string]any{"bad-col": 1}}}
	_, _, err = Rows(bad, "url")
	require.Error(t, err)
}

func TestSQLValue(t *testing.T) {
	t.Parallel()

	v, err := SQLValue([]map[string]any{{"category_name": "VIP", "category_price": 10.0}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"category_name":"VIP","category_price":10}]`, v.(string))

	v, err = SQLValue("x")
	require.NoError(t, err)
	require.Equal(t, "x", v)

	v, err = SQLValue(nil)
	require.NoError(t, err)
	require.Nil(t, v)

	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	v, err = SQLValue(ts)
	require.NoError(t, err)
	require.Equal(t, ts.UTC(), v)

	_, err = SQLValue(map[string]any{"f": func() {}})
	require.Error(t, err)
}

func TestCheckIdentifier(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckIdentifier("table", "products"))
	require.NoError(t, CheckIdentifier("table", "_p2"))
	require.Error(t, CheckIdentifier("table", "2p"))
	require.Error(t, CheckIdentifier("table", "p.q"))
	require.Error(t, CheckIdentifier("table", ""))
}
