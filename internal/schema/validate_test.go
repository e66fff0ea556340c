package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestValidateProduct(t *testing.T) {
	t.Parallel()

	raw := crawler.RawRecord{
		SourceURL: "https://shop.test/product/1",
		Fields: map[string]any{
			"name":    "  Red   Shoe ",
			"price":   "19.99 USD",
			"Unknown": "ignored",
		},
	}
	rec, err := Validate(raw, Product(), now)
	require.NoError(t, err)
	require.Equal(t, "https://shop.test/product/1", rec.URL)
	require.Equal(t, "Red Shoe", rec.Fields["name"])
	require.InDelta(t, 19.99, rec.Fields["price"], 1e-9)
	require.Nil(t, rec.Fields["description"])
	require.Equal(t, "https://shop.test/product/1", rec.Fields["url"])
	require.NotContains(t, rec.Fields, "Unknown")
	require.Equal(t, now, rec.ScrapedAt)
}

func TestValidateMissingRequired(t *testing.T) {
	t.Parallel()

	_, err := Validate(crawler.RawRecord{
		SourceURL: "https://shop.test/p",
		Fields:    map[string]any{"name": "   ", "price": 3},
	}, Product(), now)
	require.ErrorIs(t, err, crawler.ErrValidation)
	require.ErrorContains(t, err, `"name"`)
}

func TestValidateBadNumber(t *testing.T) {
	t.Parallel()

	_, err := Validate(crawler.RawRecord{
		SourceURL: "https://shop.test/p",
		Fields:    map[string]any{"name": "Shoe", "price": "call for price"},
	}, Product(), now)
	require.ErrorIs(t, err, crawler.ErrValidation)
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	s := Schema{
		Name:        "t",
		ConflictKey: "sku",
		Fields: []Field{
			{Name: "sku", Type: TypeString, Required: true},
			{Name: "stock", Type: TypeNumber, Default: 0},
			{Name: "currency", Type: TypeString, Default: "USD"},
		},
	}
	rec, err := Validate(crawler.RawRecord{SourceURL: "https://x", Fields: map[string]any{"SKU": "A-1"}}, s, now)
	require.NoError(t, err)
	require.Equal(t, "A-1", rec.Fields["sku"])
	require.Equal(t, float64(0), rec.Fields["stock"])
	require.Equal(t, "USD", rec.Fields["currency"])
}

func TestValidateConflictKeyRequired(t *testing.T) {
	t.Parallel()

	s := Schema{Name: "t", ConflictKey: "sku", Fields: []Field{{Name: "sku", Type: TypeString}}}
	_, err := Validate(crawler.RawRecord{SourceURL: "https://x", Fields: map[string]any{}}, s, now)
	require.ErrorIs(t, err, crawler.ErrValidation)
	require.ErrorContains(t, err, "conflict key")
}

func TestValidateEventCategories(t *testing.T) {
	t.Parallel()

	raw := crawler.RawRecord{
		SourceURL: "https://tickets.test/e/9",
		Fields: map[string]any{
			"event_name": "Jazz Night",
			"categories": []any{
				map[string]any{"category_name": "VIP", "category_price": "€ 120,00"},
				map[string]any{"category_name": "General", "category_price": 45},
			},
			"organizer_name": "Blue Note",
		},
	}
	rec, err := Validate(raw, Event(), now)
	require.NoError(t, err)
	cats, ok := rec.Fields["categories"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, cats, 2)
	require.Equal(t, "VIP", cats[0]["category_name"])
	require.InDelta(t, 120.0, cats[0]["category_price"], 1e-9)
	require.InDelta(t, 45.0, cats[1]["category_price"], 1e-9)
}

func TestValidateEventBadCategoryFailsRecord(t *testing.T) {
	t.Parallel()

	raw := crawler.RawRecord{
		SourceURL: "https://tickets.test/e/9",
		Fields: map[string]any{
			"event_name": "Jazz Night",
			"categories": []any{
				map[string]any{"category_name": "VIP", "category_price": "sold out"},
			},
		},
	}
	_, err := Validate(raw, Event(), now)
	require.ErrorIs(t, err, crawler.ErrValidation)
	require.ErrorContains(t, err, "categories[0].category_price")

	raw.Fields["categories"] = "VIP 120"
	_, err = Validate(raw, Event(), now)
	require.ErrorContains(t, err, "expected a list")

	raw.Fields["categories"] = []any{}
	_, err = Validate(raw, Event(), now)
	require.ErrorContains(t, err, "required field")
}

func TestValidateRejectsObjectForString(t *testing.T) {
	t.Parallel()

	_, err := Validate(crawler.RawRecord{
		SourceURL: "https://shop.test/p",
		Fields:    map[string]any{"name": map[string]any{"en": "Shoe"}, "price": 1},
	}, Product(), now)
	require.ErrorIs(t, err, crawler.ErrValidation)
}
