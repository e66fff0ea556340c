package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cast"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

type table struct {
	order []string
	rows  map[string]map[string]any
}

// RecordStore is an in-memory crawler.RecordStore. Rows keep the order in
// which their key was first inserted.
type RecordStore struct {
	mu     sync.RWMutex
	tables map[string]*table
	calls  int
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{tables: make(map[string]*table)}
}

// Upsert implements crawler.RecordStore.
func (s *RecordStore) Upsert(_ context.Context, name string, records []crawler.ValidatedRecord, conflictKey string) (int, error) {
	if err := storage.CheckIdentifier("table", name); err != nil {
		return 0, err
	}
	_, rows, err := storage.Rows(records, conflictKey)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[string]map[string]any)}
		s.tables[name] = t
	}
	for _, row := range rows {
		key := cast.ToString(row[conflictKey])
		if key == "" {
			return 0, fmt.Errorf("record without %s", conflictKey)
		}
		if _, exists := t.rows[key]; !exists {
			t.order = append(t.order, key)
		}
		t.rows[key] = row
	}
	return len(rows), nil
}

// Select implements crawler.RecordStore. Filters compare by string form.
func (s *RecordStore) Select(_ context.Context, name string, filters map[string]any, limit int) ([]map[string]any, error) {
	if err := storage.CheckIdentifier("table", name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, nil
	}
	var out []map[string]any
	for _, key := range t.order {
		row := t.rows[key]
		if !matches(row, filters) {
			continue
		}
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Calls reports how many Upsert calls were made.
func (s *RecordStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Close implements crawler.RecordStore.
func (s *RecordStore) Close() error { return nil }

func matches(row map[string]any, filters map[string]any) bool {
	for col, want := range filters {
		got, ok := row[col]
		if !ok || cast.ToString(got) != cast.ToString(want) {
			return false
		}
	}
	return true
}
