// Package urllist persists the discovered URL list: UTF-8 text, one absolute
// URL per line, in discovery order.
package urllist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

const contentType = "text/plain; charset=utf-8"

// ErrMissing reports that no list exists at the location.
var ErrMissing = errors.New("url list not found")

// Location is a blob store plus the object path inside it.
type Location struct {
	Blobs crawler.BlobStore
	Path  string
	// close releases resources Open allocated.
	close func() error
}

// Close releases the underlying client, if any.
func (l Location) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// Open resolves location. gs://bucket/object uses GCS; anything else is a
// local file path.
func Open(ctx context.Context, location string) (Location, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Location{}, fmt.Errorf("url list location is required")
	}
	if strings.HasPrefix(location, "gs://") {
		bucket, object, err := gcs.ParseURI(location)
		if err != nil {
			return Location{}, err
		}
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return Location{}, fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: bucket})
		if err != nil {
			_ = client.Close()
			return Location{}, err
		}
		return Location{Blobs: blobs, Path: object, close: client.Close}, nil
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return Location{}, fmt.Errorf("resolve %s: %w", location, err)
	}
	blobs, err := local.New(local.Config{BaseDir: filepath.Dir(abs)})
	if err != nil {
		return Location{}, err
	}
	return Location{Blobs: blobs, Path: filepath.Base(abs)}, nil
}

// Write replaces the list with urls.
func Write(ctx context.Context, loc Location, urls []string) (string, error) {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	uri, err := loc.Blobs.PutObject(ctx, loc.Path, contentType, strings.NewReader(b.String()))
	if err != nil {
		return "", fmt.Errorf("write url list: %w", err)
	}
	return uri, nil
}

// Check returns an ErrMissing error when no list exists at loc. It opens
// the object without reading it.
func Check(ctx context.Context, loc Location) error {
	rc, err := open(ctx, loc)
	if err != nil {
		return err
	}
	return rc.Close()
}

func open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	rc, err := loc.Blobs.GetObject(ctx, loc.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrMissing, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	return rc, nil
}

// Read returns the URLs in file order. Blank lines and surrounding
// whitespace are skipped.
func Read(ctx context.Context, loc Location) ([]string, error) {
	rc, err := open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var urls []string
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}
