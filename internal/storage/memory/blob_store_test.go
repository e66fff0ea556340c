package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "lists/urls.txt", "text/plain", strings.NewReader("a\n"))
	require.NoError(t, err)
	require.Equal(t, "memory://lists/urls.txt", uri)

	rc, err := store.GetObject(ctx, "lists/urls.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "a\n", string(data))

	_, err = store.GetObject(ctx, "other")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
