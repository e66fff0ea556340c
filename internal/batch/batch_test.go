package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/memory"
)

type fakeStore struct {
	calls [][]crawler.ValidatedRecord
	err   error
}

func (f *fakeStore) Upsert(_ context.Context, _ string, records []crawler.ValidatedRecord, _ string) (int, error) {
	cp := append([]crawler.ValidatedRecord(nil), records...)
	f.calls = append(f.calls, cp)
	if f.err != nil {
		return 0, f.err
	}
	return len(records), nil
}

func (f *fakeStore) Select(context.Context, string, map[string]any, int) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func rec(url string, price float64) crawler.ValidatedRecord {
	return crawler.ValidatedRecord{URL: url, Fields: map[string]any{"url": url, "price": price}}
}

func TestDedupLastWriteWins(t *testing.T) {
	t.Parallel()

	in := []crawler.ValidatedRecord{rec("a", 1), rec("b", 2), rec("a", 3)}
	out := Dedup(in, "url")
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].URL)
	require.Equal(t, 3.0, out[0].Fields["price"])
	require.Equal(t, "b", out[1].URL)
}

func TestDedupKeepsRecordsWithoutKey(t *testing.T) {
	t.Parallel()

	in := []crawler.ValidatedRecord{
		{Fields: map[string]any{"sku": nil}},
		{Fields: map[string]any{"sku": "x"}},
		{Fields: map[string]any{}},
	}
	require.Len(t, Dedup(in, "sku"), 3)
}

func TestAddFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	b, err := New(Config{Size: 2, Table: "products", Store: store})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, rec("a", 1)))
	require.Empty(t, store.calls)
	require.NoError(t, b.Add(ctx, rec("b", 2)))
	require.Len(t, store.calls, 1)
	require.Equal(t, 0, b.Pending())

	require.NoError(t, b.Add(ctx, rec("c", 3)))
	require.NoError(t, b.Flush(ctx))
	require.Len(t, store.calls, 2)
	require.NoError(t, b.Flush(ctx))
	require.Len(t, store.calls, 2)

	require.Equal(t, Counters{Stored: 3, Flushes: 2}, b.Counters())
}

func TestFlushSendsOneRecordPerKey(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	b, err := New(Config{Table: "products", Store: store})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, rec("k", 1)))
	require.NoError(t, b.Add(ctx, rec("k", 2)))
	require.NoError(t, b.Flush(ctx))

	require.Len(t, store.calls, 1)
	require.Len(t, store.calls[0], 1)
	require.Equal(t, 2.0, store.calls[0][0].Fields["price"])
}

func TestFlushFailureClearsBatch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("duplicate column")}
	b, err := New(Config{Table: "products", Store: store})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, rec("a", 1)))
	require.NoError(t, b.Add(ctx, rec("b", 1)))
	err = b.Flush(ctx)
	require.ErrorIs(t, err, crawler.ErrPersistence)
	require.Equal(t, 0, b.Pending())
	require.Equal(t, Counters{Failed: 2, Flushes: 1}, b.Counters())
}

func TestFlushPublishesNotice(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	store := &fakeStore{}
	b, err := New(Config{Table: "products", Store: store, Publisher: pub, Topic: "flushes", RunID: "run-1"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, rec("a", 1)))
	require.NoError(t, b.Flush(ctx))

	msgs := pub.Messages("flushes")
	require.Len(t, msgs, 1)
	notice, ok := msgs[0].(Notice)
	require.True(t, ok)
	require.Equal(t, Notice{RunID: "run-1", Table: "products", Count: 1, Keys: []string{"a"}}, notice)

	store.err = errors.New("down")
	require.NoError(t, b.Add(ctx, rec("b", 1)))
	require.Error(t, b.Flush(ctx))
	require.Len(t, pub.Messages("flushes"), 1)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Table: "t"})
	require.Error(t, err)
	_, err = New(Config{Store: &fakeStore{}})
	require.Error(t, err)
}
