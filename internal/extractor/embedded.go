package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"catalogsync/pkg/types"
)

// maxSearchDepth bounds the recursive shape search over embedded state blobs.
const maxSearchDepth = 10

// fastPaths are the embedding paths seen on known page templates. They are
// tried before falling back to the shape search.
var fastPaths = [][]string{
	{"props", "pageProps", "product", "colourways"},
	{"props", "pageProps", "product", "colorways"},
	{"product", "colourways"},
	{"product", "colorways"},
	{"product", "variants"},
	{"data", "product", "variants"},
}

var colourKeys = []string{"colour", "color", "colourName", "colorName", "colour_name", "color_name", "shade"}
var sizeListKeys = []string{"sizes", "variants", "skus", "sizeVariants"}
var sizeKeys = []string{"size", "label", "sizeLabel", "size_label"}
var skuKeys = []string{"sku", "skuCode", "sku_code", "ean"}
var stockKeys = []string{"inStock", "in_stock", "available", "isAvailable", "stock", "stockLevel", "quantity"}
var priceKeys = []string{"price", "amount", "salePrice", "sale_price", "current"}
var originalPriceKeys = []string{"originalPrice", "original_price", "compareAtPrice", "compare_at_price", "wasPrice", "was_price", "rrp"}
var imageListKeys = []string{"images", "media", "gallery"}
var swatchKeys = []string{"swatch", "swatchUrl", "swatch_url", "swatchImage"}
var idKeys = []string{"id", "productId", "product_id", "colourwayId", "code"}

// ParseEmbedded decodes an embedded JSON state blob and extracts the variant
// matrix from wherever the page template buried it.
func ParseEmbedded(blob []byte) (types.VariantMatrix, error) {
	var root any
	if err := json.Unmarshal(blob, &root); err != nil {
		return nil, fmt.Errorf("decode embedded state: %w", err)
	}
	entries := findVariantEntries(root)
	if len(entries) == 0 {
		return nil, nil
	}
	return buildMatrix(entries), nil
}

// findVariantEntries locates the colourway/variant array: known fixed paths
// first, then a bounded-depth shape search, because the embedding path varies
// by page template.
func findVariantEntries(root any) []any {
	for _, path := range fastPaths {
		if arr, ok := lookupPath(root, path); ok && shapeMatches(arr) {
			return arr
		}
	}
	return searchShape(root, 0)
}

func lookupPath(node any, path []string) ([]any, bool) {
	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	arr, ok := node.([]any)
	return arr, ok
}

// searchShape walks the value tree looking for an array whose entries look
// like colourway or variant records.
func searchShape(node any, depth int) []any {
	if depth > maxSearchDepth {
		return nil
	}
	switch v := node.(type) {
	case []any:
		if shapeMatches(v) {
			return v
		}
		for _, child := range v {
			if found := searchShape(child, depth+1); found != nil {
				return found
			}
		}
	case map[string]any:
		for _, child := range v {
			if found := searchShape(child, depth+1); found != nil {
				return found
			}
		}
	}
	return nil
}

// shapeMatches accepts an array of objects that each carry an id-ish field, a
// colour-ish field, and either a nested size list or flat size+stock fields.
func shapeMatches(arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	for _, entry := range arr {
		m, ok := entry.(map[string]any)
		if !ok {
			return false
		}
		if firstString(m, colourKeys...) == "" {
			return false
		}
		if !hasAny(m, idKeys...) && !hasAny(m, skuKeys...) {
			return false
		}
		if nested := firstArray(m, sizeListKeys...); nested != nil {
			if !sizeEntriesMatch(nested) {
				return false
			}
			continue
		}
		// Flat variant record: needs a size and a stock signal of its own.
		if firstString(m, sizeKeys...) == "" || !hasAny(m, stockKeys...) {
			return false
		}
	}
	return true
}

func sizeEntriesMatch(arr []any) bool {
	for _, entry := range arr {
		m, ok := entry.(map[string]any)
		if !ok {
			return false
		}
		if firstString(m, sizeKeys...) == "" || !hasAny(m, stockKeys...) {
			return false
		}
	}
	return true
}

// buildMatrix converts raw entries into colourways. Pre-grouped entries map
// one to one; flat variants carrying their own colour field are grouped by
// colour value into synthetic colourway records.
func buildMatrix(entries []any) types.VariantMatrix {
	var matrix types.VariantMatrix
	index := make(map[string]int)

	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		label := strings.TrimSpace(firstString(m, colourKeys...))
		if label == "" {
			continue
		}

		key := strings.ToLower(label)
		pos, exists := index[key]
		if !exists {
			matrix = append(matrix, types.ColourwayVariant{
				ColourLabel: label,
				ColourSlug:  Slugify(label),
				SwatchURL:   firstString(m, swatchKeys...),
				BasePrice:   firstPrice(m, priceKeys...),
			})
			pos = len(matrix) - 1
			index[key] = pos
			if orig := firstPrice(m, originalPriceKeys...); orig != nil && matrix[pos].BasePrice != nil {
				matrix[pos].DiscountPercentage = Discount(*matrix[pos].BasePrice, *orig)
			}
			if disc := firstPrice(m, "discountPercentage", "discount_percentage", "discount"); disc != nil {
				matrix[pos].DiscountPercentage = disc
			}
			for _, img := range firstArray(m, imageListKeys...) {
				if u := imageURL(img); u != "" {
					matrix[pos].Images = append(matrix[pos].Images, types.ProductImage{URL: u})
				}
			}
		}

		if nested := firstArray(m, sizeListKeys...); nested != nil {
			for _, raw := range nested {
				if sv, ok := sizeVariant(raw); ok {
					matrix[pos].SizeVariants = append(matrix[pos].SizeVariants, sv)
				}
			}
			continue
		}
		// Flat variant: the entry itself is one size of its colour group.
		if sv, ok := sizeVariant(entry); ok {
			matrix[pos].SizeVariants = append(matrix[pos].SizeVariants, sv)
		}
	}
	return matrix
}

func sizeVariant(raw any) (types.SizeVariant, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return types.SizeVariant{}, false
	}
	size := strings.TrimSpace(firstString(m, sizeKeys...))
	if size == "" {
		return types.SizeVariant{}, false
	}
	return types.SizeVariant{
		Size:           size,
		SKU:            firstString(m, skuKeys...),
		StockAvailable: stockSignal(m),
		Price:          firstPrice(m, priceKeys...),
	}, true
}

// stockSignal interprets the stock field whatever its type: booleans,
// quantities, or availability strings.
func stockSignal(m map[string]any) bool {
	for _, key := range stockKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case bool:
			return s
		case float64:
			return s > 0
		case string:
			lower := strings.ToLower(strings.TrimSpace(s))
			return lower == "true" || lower == "instock" || lower == "in_stock" || lower == "available" || lower == "yes"
		}
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func firstArray(m map[string]any, keys ...string) []any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				return arr
			}
		}
	}
	return nil
}

func firstPrice(m map[string]any, keys ...string) *decimal.Decimal {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			d := decimal.NewFromFloat(n)
			return &d
		case string:
			if p := ParsePrice(n); p != nil {
				return p
			}
		}
	}
	return nil
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, key := range keys {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

func imageURL(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return firstString(v, "url", "src", "href")
	}
	return ""
}
