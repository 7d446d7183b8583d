package extractor

import (
	"testing"
)

func TestParseEmbeddedFastPath(t *testing.T) {
	blob := []byte(`{
		"props": {"pageProps": {"product": {"colourways": [
			{
				"id": "cw-1",
				"colour": "Black",
				"price": 89.99,
				"originalPrice": 119.99,
				"swatch": "https://img.example.com/black-swatch.jpg",
				"images": ["https://img.example.com/black-1.jpg", {"url": "https://img.example.com/black-2.jpg"}],
				"sizes": [
					{"size": "S", "sku": "SKU-S", "inStock": true},
					{"size": "M", "sku": "SKU-M", "inStock": false, "price": "79.99"}
				]
			},
			{
				"id": "cw-2",
				"colour": "White",
				"price": 89.99,
				"sizes": [
					{"size": "S", "sku": "SKU-WS", "stock": 3}
				]
			}
		]}}}
	}`)

	matrix, err := ParseEmbedded(blob)
	if err != nil {
		t.Fatalf("ParseEmbedded: %v", err)
	}
	if len(matrix) != 2 {
		t.Fatalf("got %d colourways, want 2", len(matrix))
	}

	black := matrix[0]
	if black.ColourLabel != "Black" || black.ColourSlug != "black" {
		t.Errorf("black colourway = %q/%q", black.ColourLabel, black.ColourSlug)
	}
	if black.BasePrice == nil || black.BasePrice.StringFixed(2) != "89.99" {
		t.Errorf("black base price = %v", black.BasePrice)
	}
	if black.DiscountPercentage == nil || black.DiscountPercentage.StringFixed(2) != "25.00" {
		t.Errorf("discount = %v, want 25.00", black.DiscountPercentage)
	}
	if black.SwatchURL == "" || len(black.Images) != 2 {
		t.Errorf("swatch/images not captured: %q / %d images", black.SwatchURL, len(black.Images))
	}
	if len(black.SizeVariants) != 2 {
		t.Fatalf("black has %d sizes, want 2", len(black.SizeVariants))
	}
	if !black.SizeVariants[0].StockAvailable || black.SizeVariants[1].StockAvailable {
		t.Error("stock flags did not survive")
	}
	if black.SizeVariants[1].Price == nil || black.SizeVariants[1].Price.StringFixed(2) != "79.99" {
		t.Errorf("size-level price override = %v", black.SizeVariants[1].Price)
	}

	white := matrix[1]
	if len(white.SizeVariants) != 1 || !white.SizeVariants[0].StockAvailable {
		t.Errorf("numeric stock quantity should read as available: %+v", white.SizeVariants)
	}
}

func TestParseEmbeddedGroupsFlatVariants(t *testing.T) {
	blob := []byte(`{"data": {"product": {"variants": [
		{"id": 1, "color": "Navy", "size": "S", "sku": "N-S", "available": true, "price": 30},
		{"id": 2, "color": "Navy", "size": "M", "sku": "N-M", "available": false, "price": 30},
		{"id": 3, "color": "Grey", "size": "S", "sku": "G-S", "available": true, "price": 32}
	]}}}`)

	matrix, err := ParseEmbedded(blob)
	if err != nil {
		t.Fatalf("ParseEmbedded: %v", err)
	}
	if len(matrix) != 2 {
		t.Fatalf("got %d colourways, want 2 (grouped by colour)", len(matrix))
	}
	if matrix[0].ColourLabel != "Navy" || len(matrix[0].SizeVariants) != 2 {
		t.Errorf("navy group = %q with %d sizes", matrix[0].ColourLabel, len(matrix[0].SizeVariants))
	}
	if matrix[1].ColourLabel != "Grey" || len(matrix[1].SizeVariants) != 1 {
		t.Errorf("grey group = %q with %d sizes", matrix[1].ColourLabel, len(matrix[1].SizeVariants))
	}
}

func TestParseEmbeddedShapeSearch(t *testing.T) {
	// The variant array sits under keys no fast path knows about.
	blob := []byte(`{"page": {"state": {"entities": {"styleOptions": [
		{"code": "X1", "shade": "Red", "sizes": [{"label": "10", "quantity": 2}]}
	]}}}}`)

	matrix, err := ParseEmbedded(blob)
	if err != nil {
		t.Fatalf("ParseEmbedded: %v", err)
	}
	if len(matrix) != 1 || matrix[0].ColourLabel != "Red" {
		t.Fatalf("shape search missed the variant array: %+v", matrix)
	}
	if len(matrix[0].SizeVariants) != 1 || matrix[0].SizeVariants[0].Size != "10" {
		t.Errorf("sizes = %+v", matrix[0].SizeVariants)
	}
}

func TestParseEmbeddedNoMatch(t *testing.T) {
	matrix, err := ParseEmbedded([]byte(`{"unrelated": [1, 2, 3]}`))
	if err != nil {
		t.Fatalf("ParseEmbedded: %v", err)
	}
	if matrix != nil {
		t.Errorf("expected no matrix, got %+v", matrix)
	}
}

func TestParseEmbeddedBadJSON(t *testing.T) {
	if _, err := ParseEmbedded([]byte(`{"truncated":`)); err == nil {
		t.Fatal("malformed JSON should error")
	}
}

func TestStockSignalForms(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
		want bool
	}{
		{"bool true", map[string]any{"inStock": true}, true},
		{"bool false", map[string]any{"inStock": false}, false},
		{"quantity", map[string]any{"quantity": float64(4)}, true},
		{"zero quantity", map[string]any{"stock": float64(0)}, false},
		{"string available", map[string]any{"available": "instock"}, true},
		{"string no", map[string]any{"available": "soldout"}, false},
		{"absent", map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stockSignal(tt.m); got != tt.want {
				t.Errorf("stockSignal(%v) = %v, want %v", tt.m, got, tt.want)
			}
		})
	}
}
