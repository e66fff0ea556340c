// Package storage holds helpers shared by the record and blob store
// implementations in its subpackages.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// ErrNotFound is returned by blob stores when an object does not exist.
var ErrNotFound = errors.New("object not found")

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CheckIdentifier rejects table and column names that cannot be quoted safely.
func CheckIdentifier(kind, name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// Rows flattens records and returns the sorted union of their columns. The
// conflict key is always present and every column name is validated.
func Rows(records []crawler.ValidatedRecord, conflictKey string) ([]string, []map[string]any, error) {
	if err := CheckIdentifier("column", conflictKey); err != nil {
		return nil, nil, err
	}
	set := map[string]struct{}{conflictKey: {}}
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := rec.Row()
		if _, ok := row[conflictKey]; !ok {
			if v, ok := rec.Value(conflictKey); ok {
				row[conflictKey] = v
			}
		}
		for col := range row {
			if err := CheckIdentifier("column", col); err != nil {
				return nil, nil, err
			}
			set[col] = struct{}{}
		}
		rows = append(rows, row)
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols, rows, nil
}

// SQLValue converts a record value into something a database/sql driver
// accepts. Lists and objects become JSON text.
func SQLValue(v any) (any, error) {
	switch value := v.(type) {
	case nil, string, float64, float32, int, int64, int32, bool, []byte:
		return value, nil
	case time.Time:
		return value.UTC(), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		return string(data), nil
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
