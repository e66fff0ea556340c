package schema

import (
	"fmt"
	"strings"
)

// Product is the product-like schema used for catalog pages.
func Product() Schema {
	return Schema{
		Name:        "product",
		Table:       "products",
		ConflictKey: "url",
		Fields: []Field{
			{
				Name:        "name",
				Type:        TypeString,
				Required:    true,
				Selector:    "h1",
				Description: "product name as shown on the page",
			},
			{
				Name:        "price",
				Type:        TypeNumber,
				Required:    true,
				Selector:    "[itemprop=price], .price",
				Path:        "offers.price",
				Description: "current price as a number, without currency symbols",
			},
			{
				Name:        "description",
				Type:        TypeString,
				Selector:    "[itemprop=description], .description",
				Description: "short product description",
			},
			{
				Name:        "image_url",
				Type:        TypeString,
				Selector:    "img",
				Attr:        "src",
				Path:        "image",
				Description: "absolute URL of the main product image",
			},
			{
				Name:        "url",
				Type:        TypeString,
				Description: "canonical product URL",
			},
		},
	}
}

// Event is the event-like schema with priced ticket categories.
func Event() Schema {
	return Schema{
		Name:        "event",
		Table:       "events",
		ConflictKey: "url",
		Fields: []Field{
			{
				Name:        "event_name",
				Type:        TypeString,
				Required:    true,
				Selector:    "h1",
				Path:        "name",
				Description: "name of the event",
			},
			{
				Name:        "categories",
				Type:        TypeList,
				Required:    true,
				Selector:    ".ticket-category",
				Path:        "offers",
				Description: "ticket categories with their prices",
				Fields: []Field{
					{Name: "category_name", Type: TypeString, Required: true, Selector: ".name", Path: "name"},
					{Name: "category_price", Type: TypeNumber, Required: true, Selector: ".price", Path: "price"},
				},
			},
			{
				Name:        "description",
				Type:        TypeString,
				Selector:    ".description",
				Description: "event description",
			},
			{
				Name:        "image_url",
				Type:        TypeString,
				Selector:    "img",
				Attr:        "src",
				Path:        "image",
				Description: "absolute URL of the event image",
			},
			{
				Name:        "organizer_name",
				Type:        TypeString,
				Selector:    ".organizer",
				Path:        "organizer.name",
				Description: "name of the organizer",
			},
			{
				Name:        "url",
				Type:        TypeString,
				Description: "canonical event URL",
			},
		},
	}
}

// Preset returns a built-in schema by name.
func Preset(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "product", "products":
		return Product(), nil
	case "event", "events":
		return Event(), nil
	default:
		return Schema{}, fmt.Errorf("unknown schema preset %q", name)
	}
}
