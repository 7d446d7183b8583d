package types

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus reflects downstream availability of a product.
type ProductStatus string

const (
	StatusPublished  ProductStatus = "published"
	StatusOutOfStock ProductStatus = "out_of_stock"
)

// FetchResult captures the outcome of fetching a single URL.
// It is immutable once produced and consumed exactly once by the extractor.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Err        error
	Attempts   int
	FetchedAt  time.Time
}

// OK reports whether the fetch produced a usable 2xx body.
func (r *FetchResult) OK() bool {
	return r != nil && r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ProductImage is a remote image reference with an optional local copy.
type ProductImage struct {
	URL       string
	AltText   string
	LocalPath string
}

// SizeVariant is one size entry of a colourway.
type SizeVariant struct {
	Size           string
	SKU            string
	StockAvailable bool
	// Price, when set, overrides the colourway base price.
	Price *decimal.Decimal
}

// ColourwayVariant groups the sizes, imagery, and pricing of one colour option.
type ColourwayVariant struct {
	ColourLabel        string
	ColourSlug         string
	SwatchURL          string
	BasePrice          *decimal.Decimal
	Currency           string
	DiscountPercentage *decimal.Decimal
	Images             []ProductImage
	SizeVariants       []SizeVariant
}

// ResolvedPrice returns the effective price for a size entry:
// explicit size price first, then the colourway base price, then nil.
func (c *ColourwayVariant) ResolvedPrice(s SizeVariant) *decimal.Decimal {
	if s.Price != nil {
		return s.Price
	}
	return c.BasePrice
}

// InStock reports whether any size of the colourway is available.
func (c *ColourwayVariant) InStock() bool {
	for _, s := range c.SizeVariants {
		if s.StockAvailable {
			return true
		}
	}
	return false
}

// VariantMatrix is the ordered colourway x size structure of a variable product.
type VariantMatrix []ColourwayVariant

// InStock reports whether any size of any colourway is available.
func (m VariantMatrix) InStock() bool {
	for i := range m {
		if m[i].InStock() {
			return true
		}
	}
	return false
}

// SizeCount returns the total number of size entries across all colourways.
func (m VariantMatrix) SizeCount() int {
	n := 0
	for i := range m {
		n += len(m[i].SizeVariants)
	}
	return n
}

// CanonicalProduct is the normalized form every source shape converges to.
// Identity key downstream is (siteID, ExternalID).
type CanonicalProduct struct {
	SiteID      string
	ExternalID  string
	Title       string
	Description string
	Slug        string
	Price       *decimal.Decimal
	Currency    string
	Status      ProductStatus
	Images      []ProductImage
	// Matrix is nil for single-SKU products.
	Matrix    VariantMatrix
	Meta      map[string]string
	SourceURL string
}

// SetMeta stores an open metadata entry, allocating the map on first use.
func (p *CanonicalProduct) SetMeta(key, value string) {
	if value == "" {
		return
	}
	if p.Meta == nil {
		p.Meta = make(map[string]string)
	}
	p.Meta[key] = value
}

// SyncStatus records the outcome of the latest sync attempt.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// SyncMapping links a canonical product to its remote catalog counterpart.
// Created on the first sync attempt and updated on every attempt after that;
// it is never deleted automatically.
type SyncMapping struct {
	SiteID          string
	ExternalID      string
	RemoteProductID int64
	LastSyncStatus  SyncStatus
	LastSyncedAt    time.Time
	LastPayload     []byte
	LastError       string
}

// BaseProductKey strips the trailing path segment of a detail URL so that
// per-colourway listing duplicates collapse into one representative URL.
func BaseProductKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := strings.TrimSuffix(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx > 0 {
		path = path[:idx]
	}
	return u.Scheme + "://" + strings.ToLower(u.Host) + path
}
