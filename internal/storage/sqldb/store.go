// Package sqldb stores validated records in SQLite or MySQL through sqlx.
package sqldb

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // registers the mysql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/schema"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// Dialect selects the upsert syntax.
type Dialect string

// Supported dialects.
const (
	SQLite Dialect = "sqlite"
	MySQL  Dialect = "mysql"
)

func (d Dialect) driver() (string, error) {
	switch d {
	case SQLite:
		return "sqlite3", nil
	case MySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", d)
	}
}

// Store is a crawler.RecordStore over a sqlx handle.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// Open connects with the driver for dialect and pings the database.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store.dsn is required for %s", dialect)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an existing handle.
func New(db *sqlx.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if _, err := dialect.driver(); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Close closes the handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureTable creates the table for sc when it does not exist yet.
func (s *Store) EnsureTable(ctx context.Context, table string, sc schema.Schema) error {
	if err := storage.CheckIdentifier("table", table); err != nil {
		return err
	}
	key := sc.ConflictKey
	if key == "" {
		key = "url"
	}
	defs := make([]string, 0, len(sc.Fields)+2)
	for _, col := range sc.Columns() {
		def := col + " " + s.columnType(sc, col)
		if col == key {
			def += " NOT NULL UNIQUE"
		}
		defs = append(defs, def)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (s *Store) columnType(sc schema.Schema, col string) string {
	if col == "scraped_at" {
		if s.dialect == MySQL {
			return "DATETIME"
		}
		return "TIMESTAMP"
	}
	for _, f := range sc.Fields {
		if f.Name != col {
			continue
		}
		switch f.Type {
		case schema.TypeNumber:
			return "DOUBLE"
		case schema.TypeList:
			if s.dialect == MySQL {
				return "JSON"
			}
		}
	}
	if s.dialect == MySQL {
		// MySQL cannot index TEXT without a prefix length.
		return "VARCHAR(768)"
	}
	return "TEXT"
}

// Upsert implements crawler.RecordStore.
func (s *Store) Upsert(ctx context.Context, table string, records []crawler.ValidatedRecord, conflictKey string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := storage.CheckIdentifier("table", table); err != nil {
		return 0, err
	}
	cols, rows, err := storage.Rows(records, conflictKey)
	if err != nil {
		return 0, err
	}

	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	groups := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for _, row := range rows {
		for _, col := range cols {
			v, err := storage.SQLValue(row[col])
			if err != nil {
				return 0, fmt.Errorf("column %s: %w", col, err)
			}
			args = append(args, v)
		}
		groups = append(groups, group)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		table, strings.Join(cols, ", "), strings.Join(groups, ", "), s.conflictClause(cols, conflictKey))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(rows), nil //nolint:nilerr // some drivers do not report affected rows
	}
	return int(n), nil
}

func (s *Store) conflictClause(cols []string, key string) string {
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == key {
			continue
		}
		if s.dialect == MySQL {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
		} else {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	if s.dialect == MySQL {
		if len(updates) == 0 {
			return fmt.Sprintf("ON DUPLICATE KEY UPDATE %s = %s", key, key)
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	}
	if len(updates) == 0 {
		return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", key)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", key, strings.Join(updates, ", "))
}

// Select implements crawler.RecordStore.
func (s *Store) Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error) {
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
		fmt.Fprintf(&b, "%s = ?", col)
		args = append(args, filters[col])
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		for k, v := range row {
			if raw, ok := v.([]byte); ok {
				row[k] = string(raw)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}
