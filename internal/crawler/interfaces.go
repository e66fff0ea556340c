package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor turns one fetched page into zero or more raw records. It never
// returns an error; failures surface as an empty result.
type Extractor interface {
	Extract(ctx context.Context, page PageResult) []RawRecord
}

// RecordStore persists validated records with insert-or-update semantics.
type RecordStore interface {
	// Upsert writes records keyed by conflictKey and returns the number of rows
	// the store acknowledged.
	Upsert(ctx context.Context, table string, records []ValidatedRecord, conflictKey string) (int, error)
	// Select returns rows matching every equality filter. A limit <= 0 means no limit.
	Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error)
	Close() error
}

// BlobStore writes and reads whole objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
