package extractor

import (
	"errors"
	"fmt"
	"strings"

	"catalogsync/pkg/types"
)

// ErrMissingRequired marks a product whose required fields could not be
// recovered from any source shape; the single product is skipped.
var ErrMissingRequired = errors.New("required field missing")

// Normalize enforces the canonical invariants before a product may reach the
// sync engine: a stable external id, unique colour labels (later duplicates
// merge into the first), no colourway without sizes, and images deduplicated
// by URL in first-seen order.
func Normalize(p *types.CanonicalProduct) error {
	if p == nil {
		return fmt.Errorf("%w: product is nil", ErrMissingRequired)
	}
	if strings.TrimSpace(p.ExternalID) == "" {
		return fmt.Errorf("%w: externalId for %s", ErrMissingRequired, p.SourceURL)
	}
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	if p.Slug == "" {
		p.Slug = Slugify(firstOf(p.Title, p.ExternalID))
	}

	if p.Matrix != nil {
		p.Matrix = mergeColourways(p.Matrix)
		if len(p.Matrix) == 0 {
			return fmt.Errorf("%w: variant matrix has no sized colourway for %s", ErrMissingRequired, p.SourceURL)
		}
		for i := range p.Matrix {
			if p.Matrix[i].ColourSlug == "" {
				p.Matrix[i].ColourSlug = Slugify(p.Matrix[i].ColourLabel)
			}
		}
	}

	dedupeImages(p)

	if p.Status == "" {
		p.Status = types.StatusPublished
		if p.Matrix != nil && !p.Matrix.InStock() {
			p.Status = types.StatusOutOfStock
		}
	}
	return nil
}

// mergeColourways folds duplicate colour labels into the first occurrence and
// drops colourways that end up with no size entries.
func mergeColourways(matrix types.VariantMatrix) types.VariantMatrix {
	index := make(map[string]int)
	merged := make(types.VariantMatrix, 0, len(matrix))

	for _, cw := range matrix {
		key := strings.ToLower(strings.TrimSpace(cw.ColourLabel))
		if key == "" {
			continue
		}
		pos, exists := index[key]
		if !exists {
			merged = append(merged, cw)
			index[key] = len(merged) - 1
			continue
		}
		first := &merged[pos]
		first.SizeVariants = append(first.SizeVariants, cw.SizeVariants...)
		first.Images = append(first.Images, cw.Images...)
		if first.BasePrice == nil {
			first.BasePrice = cw.BasePrice
		}
		if first.SwatchURL == "" {
			first.SwatchURL = cw.SwatchURL
		}
		if first.DiscountPercentage == nil {
			first.DiscountPercentage = cw.DiscountPercentage
		}
	}

	out := merged[:0]
	for _, cw := range merged {
		cw.SizeVariants = dedupeSizes(cw.SizeVariants)
		if len(cw.SizeVariants) == 0 {
			continue
		}
		out = append(out, cw)
	}
	return out
}

func dedupeSizes(sizes []types.SizeVariant) []types.SizeVariant {
	seen := make(map[string]struct{}, len(sizes))
	out := sizes[:0]
	for _, sv := range sizes {
		key := strings.ToLower(strings.TrimSpace(sv.Size))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sv)
	}
	return out
}

// dedupeImages removes duplicate image URLs across the whole product,
// keeping first-seen order; the first survivor is the primary image.
func dedupeImages(p *types.CanonicalProduct) {
	seen := make(map[string]struct{})
	keep := func(images []types.ProductImage) []types.ProductImage {
		out := images[:0]
		for _, img := range images {
			if img.URL == "" {
				continue
			}
			if _, ok := seen[img.URL]; ok {
				continue
			}
			seen[img.URL] = struct{}{}
			out = append(out, img)
		}
		return out
	}
	p.Images = keep(p.Images)
	for i := range p.Matrix {
		p.Matrix[i].Images = keep(p.Matrix[i].Images)
	}
}
