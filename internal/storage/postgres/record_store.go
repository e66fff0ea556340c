// Package postgres stores validated records in Postgres (including Supabase)
// with INSERT ... ON CONFLICT upserts.
package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// maxBindParams is the Postgres wire-protocol limit on parameters per statement.
const maxBindParams = 65535

// RecordStore writes records with one multi-row statement per flush, split
// into several statements when the flush would exceed maxBindParams.
type RecordStore struct {
	pool      Pool
	maxParams int
}

// New connects a pool from cfg.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, maxParams: maxBindParams}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool, maxParams: maxBindParams}, nil
}

// Close releases the pool.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureTable creates the table for sc when it does not exist yet.
func (s *RecordStore) EnsureTable(ctx context.Context, table string, sc schema.Schema) error {
	ddl, err := createTableSQL(table, sc)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Upsert implements crawler.RecordStore.
func (s *RecordStore) Upsert(ctx context.Context, table string, records []crawler.ValidatedRecord, conflictKey string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	cols, _, err := storage.Rows(records, conflictKey)
	if err != nil {
		return 0, err
	}
	per := max(s.maxParams/len(cols), 1)

	affected := 0
	for chunk := range slices.Chunk(records, per) {
		query, args, err := upsertSQL(table, chunk, conflictKey)
		if err != nil {
			return affected, err
		}
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return affected, fmt.Errorf("upsert into %s: %w", table, err)
		}
		affected += int(tag.RowsAffected())
	}
	return affected, nil
}

// Select implements crawler.RecordStore.
func (s *RecordStore) Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error) {
	if err := storage.CheckIdentifier("table", table); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", table)
	args := make([]any, 0, len(filters))
	for i, col := range storage.SortedKeys(filters) {
		if err := storage.CheckIdentifier("column", col); err != nil {
			return nil, err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, filters[col])
		fmt.Fprintf(&b, "%s = $%d", col, len(args))
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s rows: %w", table, err)
	}
	return out, nil
}

func upsertSQL(table string, records []crawler.ValidatedRecord, conflictKey string) (string, []any, error) {
	if err := storage.CheckIdentifier("table", table); err != nil {
		return "", nil, err
	}
	cols, rows, err := storage.Rows(records, conflictKey)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	args := make([]any, 0, len(cols)*len(rows))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, col := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			v, err := storage.SQLValue(row[col])
			if err != nil {
				return "", nil, fmt.Errorf("column %s: %w", col, err)
			}
			args = append(args, v)
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if col != conflictKey {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	if len(updates) == 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", conflictKey)
	} else {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", conflictKey, strings.Join(updates, ", "))
	}
	return b.String(), args, nil
}

func createTableSQL(table string, sc schema.Schema) (string, error) {
	if err := storage.CheckIdentifier("table", table); err != nil {
		return "", err
	}
	types := make(map[string]string, len(sc.Fields))
	for _, f := range sc.Fields {
		switch f.Type {
		case schema.TypeNumber:
			types[f.Name] = "DOUBLE PRECISION"
		case schema.TypeList:
			types[f.Name] = "JSONB"
		default:
			types[f.Name] = "TEXT"
		}
	}
	types["scraped_at"] = "TIMESTAMPTZ"
	if _, ok := types["url"]; !ok {
		types["url"] = "TEXT"
	}
	key := sc.ConflictKey
	if key == "" {
		key = "url"
	}

	defs := []string{"id BIGSERIAL PRIMARY KEY"}
	for _, col := range sc.Columns() {
		if err := storage.CheckIdentifier("column", col); err != nil {
			return "", err
		}
		def := col + " " + types[col]
		if col == key {
			def += " NOT NULL UNIQUE"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", ")), nil
}
