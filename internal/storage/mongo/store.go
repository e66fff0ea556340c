// Package mongo stores validated records in MongoDB collections. Each table
// name maps to a collection and the conflict key to the replace filter.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// Config holds connection settings.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Store is a crawler.RecordStore over one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects, pings and selects cfg.Database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("store.dsn is required for mongo")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("store.database is required for mongo")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

// NewWithDatabase wraps an existing database handle. Close becomes a no-op.
func NewWithDatabase(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Close disconnects the client opened by Open.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Upsert implements crawler.RecordStore with one unordered bulk write of
// upserting replaces.
func (s *Store) Upsert(ctx context.Context, table string, records []crawler.ValidatedRecord, conflictKey string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := storage.CheckIdentifier("collection", table); err != nil {
		return 0, err
	}
	_, rows, err := storage.Rows(records, conflictKey)
	if err != nil {
		return 0, err
	}

	models := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{conflictKey: row[conflictKey]}).
			SetReplacement(bson.M(row)).
			SetUpsert(true))
	}
	res, err := s.db.Collection(table).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk upsert into %s: %w", table, err)
	}
	return int(res.MatchedCount + res.UpsertedCount), nil
}

// Select implements crawler.RecordStore. The _id field is not returned.
func (s *Store) Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error) {
	if err := storage.CheckIdentifier("collection", table); err != nil {
		return nil, err
	}
	filter := bson.M{}
	for k, v := range filters {
		if err := storage.CheckIdentifier("field", k); err != nil {
			return nil, err
		}
		filter[k] = v
	}
	opts := options.Find().SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(table).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", table, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s documents: %w", table, err)
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, map[string]any(doc))
	}
	return out, nil
}
