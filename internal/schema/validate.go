package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Validate checks raw against s and coerces its values. Unknown fields are
// ignored and the source URL is always attached. Every error wraps
// crawler.ErrValidation.
func Validate(raw crawler.RawRecord, s Schema, now time.Time) (crawler.ValidatedRecord, error) {
	fields, err := validateFields(raw.Fields, s.Fields, "")
	if err != nil {
		return crawler.ValidatedRecord{}, err
	}
	if s.hasField("url") && fields["url"] == nil && raw.SourceURL != "" {
		fields["url"] = raw.SourceURL
	}
	rec := crawler.ValidatedRecord{
		URL:       raw.SourceURL,
		Fields:    fields,
		ScrapedAt: now.UTC(),
	}
	key := s.ConflictKey
	if key == "" {
		key = "url"
	}
	if v, ok := rec.Value(key); !ok || isEmpty(v) {
		return crawler.ValidatedRecord{}, fmt.Errorf("%w: conflict key %q missing", crawler.ErrValidation, key)
	}
	return rec, nil
}

func validateFields(values map[string]any, fields []Field, prefix string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		name := prefix + f.Name
		v, ok := lookup(values, f.Name)
		if !ok || isEmpty(v) {
			if f.Default != nil {
				v = f.Default
			} else if f.Required {
				return nil, fmt.Errorf("%w: required field %q missing", crawler.ErrValidation, name)
			} else {
				out[f.Name] = nil
				continue
			}
		}
		coerced, err := coerce(f, v, name)
		if err != nil {
			return nil, err
		}
		if f.Required && isEmpty(coerced) {
			return nil, fmt.Errorf("%w: required field %q is empty", crawler.ErrValidation, name)
		}
		out[f.Name] = coerced
	}
	return out, nil
}

func coerce(f Field, v any, name string) (any, error) {
	switch f.Type {
	case TypeNumber:
		n, err := NormalizeNumber(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", crawler.ErrValidation, name, err)
		}
		return n, nil
	case TypeList:
		return coerceList(f, v, name)
	default:
		if isComposite(v) {
			return nil, fmt.Errorf("%w: field %q: expected text, got %T", crawler.ErrValidation, name, v)
		}
		s, err := normalizeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", crawler.ErrValidation, name, err)
		}
		return s, nil
	}
}

func coerceList(f Field, v any, name string) (any, error) {
	items, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("%w: field %q: expected a list, got %T", crawler.ErrValidation, name, v)
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := toMap(item)
		if !ok {
			return nil, fmt.Errorf("%w: field %q[%d]: expected an object, got %T", crawler.ErrValidation, name, i, item)
		}
		nested, err := validateFields(m, f.Fields, fmt.Sprintf("%s[%d].", name, i))
		if err != nil {
			return nil, err
		}
		out = append(out, nested)
	}
	return out, nil
}

// lookup finds key exactly, then case-insensitively.
func lookup(values map[string]any, key string) (any, bool) {
	if v, ok := values[key]; ok {
		return v, true
	}
	for k, v := range values {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func isComposite(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Struct:
		_, isBytes := v.([]byte)
		return !isBytes
	}
	return false
}

func toSlice(v any) ([]any, bool) {
	switch value := v.(type) {
	case []any:
		return value, true
	case []map[string]any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = value[i]
		}
		return out, true
	}
	return nil, false
}

func toMap(v any) (map[string]any, bool) {
	switch value := v.(type) {
	case map[string]any:
		return value, true
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprint(k)] = item
		}
		return out, true
	}
	return nil, false
}
