// Package store opens the record store named by configuration.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
	"github.com/JakeFAU/catalog-harvester/internal/storage/mongo"
	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
	"github.com/JakeFAU/catalog-harvester/internal/storage/sqldb"
)

// tableCreator is implemented by stores that can create their table.
type tableCreator interface {
	EnsureTable(ctx context.Context, table string, sc schema.Schema) error
}

// Open connects the store for cfg.Driver. When cfg.CreateTable is set and the
// store supports it, the table for sc is created if missing.
func Open(ctx context.Context, cfg config.StoreConfig, sc schema.Schema, logger *zap.Logger) (crawler.RecordStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		st  crawler.RecordStore
		err error
	)
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "memory":
		st = memory.NewRecordStore()
	case "postgres":
		st, err = postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	case "sqlite":
		st, err = sqldb.Open(ctx, sqldb.SQLite, cfg.DSN)
	case "mysql":
		st, err = sqldb.Open(ctx, sqldb.MySQL, cfg.DSN)
	case "mongo":
		st, err = mongo.Open(ctx, mongo.Config{URI: cfg.DSN, Database: cfg.Database})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if cfg.CreateTable {
		if creator, ok := st.(tableCreator); ok {
			if err := creator.EnsureTable(ctx, sc.Table, sc); err != nil {
				_ = st.Close()
				return nil, err
			}
			logger.Info("ensured table", zap.String("driver", driver), zap.String("table", sc.Table))
		}
	}
	return st, nil
}
