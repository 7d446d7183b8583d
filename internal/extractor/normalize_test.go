package extractor

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"catalogsync/pkg/types"
)

func TestNormalizeRequiresExternalID(t *testing.T) {
	err := Normalize(&types.CanonicalProduct{Title: "Nameless", SourceURL: "https://x"})
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("missing external id should yield ErrMissingRequired, got %v", err)
	}
}

func TestNormalizeMergesDuplicateColourways(t *testing.T) {
	price := decimal.NewFromInt(40)
	p := &types.CanonicalProduct{
		ExternalID: "P1",
		Title:      "Hoodie",
		Matrix: types.VariantMatrix{
			{
				ColourLabel:  "Black",
				SizeVariants: []types.SizeVariant{{Size: "S", StockAvailable: true}},
				Images:       []types.ProductImage{{URL: "https://img/black-1.jpg"}},
			},
			{
				ColourLabel:  "black",
				BasePrice:    &price,
				SizeVariants: []types.SizeVariant{{Size: "S"}, {Size: "M"}},
				Images:       []types.ProductImage{{URL: "https://img/black-1.jpg"}, {URL: "https://img/black-2.jpg"}},
			},
		},
	}
	if err := Normalize(p); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if len(p.Matrix) != 1 {
		t.Fatalf("duplicate labels should merge, got %d colourways", len(p.Matrix))
	}
	merged := p.Matrix[0]
	if merged.ColourLabel != "Black" {
		t.Errorf("first occurrence keeps its label, got %q", merged.ColourLabel)
	}
	if len(merged.SizeVariants) != 2 {
		t.Errorf("sizes should dedupe to S and M, got %+v", merged.SizeVariants)
	}
	if merged.BasePrice == nil || !merged.BasePrice.Equal(price) {
		t.Errorf("base price should fill in from the duplicate, got %v", merged.BasePrice)
	}
	if len(merged.Images) != 2 {
		t.Errorf("images should dedupe by URL, got %+v", merged.Images)
	}
	if merged.ColourSlug != "black" {
		t.Errorf("colour slug = %q", merged.ColourSlug)
	}
}

func TestNormalizeDropsSizelessColourways(t *testing.T) {
	p := &types.CanonicalProduct{
		ExternalID: "P2",
		Matrix: types.VariantMatrix{
			{ColourLabel: "Red", SizeVariants: []types.SizeVariant{{Size: "S"}}},
			{ColourLabel: "Blue"},
		},
	}
	if err := Normalize(p); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(p.Matrix) != 1 || p.Matrix[0].ColourLabel != "Red" {
		t.Errorf("sizeless colourway should drop: %+v", p.Matrix)
	}
}

func TestNormalizeFailsWhenNothingSized(t *testing.T) {
	p := &types.CanonicalProduct{
		ExternalID: "P3",
		Matrix:     types.VariantMatrix{{ColourLabel: "Blue"}},
	}
	if err := Normalize(p); !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("matrix with no sized colourway should fail, got %v", err)
	}
}

func TestNormalizeImageDedupAcrossProduct(t *testing.T) {
	p := &types.CanonicalProduct{
		ExternalID: "P4",
		Images: []types.ProductImage{
			{URL: "https://img/shared.jpg"},
			{URL: "https://img/unique.jpg"},
		},
		Matrix: types.VariantMatrix{
			{
				ColourLabel:  "Green",
				SizeVariants: []types.SizeVariant{{Size: "S"}},
				Images: []types.ProductImage{
					{URL: "https://img/shared.jpg"},
					{URL: "https://img/green.jpg"},
				},
			},
		},
	}
	if err := Normalize(p); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(p.Images) != 2 {
		t.Errorf("product images = %+v", p.Images)
	}
	if len(p.Matrix[0].Images) != 1 || p.Matrix[0].Images[0].URL != "https://img/green.jpg" {
		t.Errorf("colourway should keep only first-seen-unique images: %+v", p.Matrix[0].Images)
	}
}

func TestNormalizeStatus(t *testing.T) {
	inStock := &types.CanonicalProduct{
		ExternalID: "P5",
		Matrix: types.VariantMatrix{
			{ColourLabel: "Black", SizeVariants: []types.SizeVariant{{Size: "S", StockAvailable: true}}},
		},
	}
	if err := Normalize(inStock); err != nil {
		t.Fatal(err)
	}
	if inStock.Status != types.StatusPublished {
		t.Errorf("in-stock product status = %s", inStock.Status)
	}

	soldOut := &types.CanonicalProduct{
		ExternalID: "P6",
		Matrix: types.VariantMatrix{
			{ColourLabel: "Black", SizeVariants: []types.SizeVariant{{Size: "S"}}},
		},
	}
	if err := Normalize(soldOut); err != nil {
		t.Fatal(err)
	}
	if soldOut.Status != types.StatusOutOfStock {
		t.Errorf("sold-out product status = %s", soldOut.Status)
	}

	simple := &types.CanonicalProduct{ExternalID: "P7"}
	if err := Normalize(simple); err != nil {
		t.Fatal(err)
	}
	if simple.Status != types.StatusPublished {
		t.Errorf("simple product without matrix should publish, got %s", simple.Status)
	}
}
