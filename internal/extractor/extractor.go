package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalogsync/internal/fetcher"
	"catalogsync/pkg/types"
)

// Context carries per-site extraction parameters.
type Context struct {
	SiteID   string
	URL      string
	Currency string
	Category string
}

// Extractor turns fetched detail pages into canonical products. Every field
// extractor degrades to an empty value instead of failing, so one missing
// field never aborts a product; only the invariants checked by Normalize can.
type Extractor struct {
	logger *slog.Logger
}

// New builds an extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// stateBlobPattern matches server-rendered state assignments when no JSON
// script tag is present.
var stateBlobPattern = regexp.MustCompile(`window\.__(?:INITIAL_STATE|PRELOADED_STATE|NUXT)__\s*=\s*(\{.*?\})\s*;?\s*</script>`)

// Extract parses a fetched detail page. An embedded JSON state blob is
// preferred over DOM scraping when one is present; sideChannel, when
// non-empty, is the authoritative variant source (see the render bridge).
func (e *Extractor) Extract(res *types.FetchResult, sideChannel []byte, pctx Context) (*types.CanonicalProduct, error) {
	if res == nil || len(res.Body) == 0 {
		return nil, fmt.Errorf("empty page body for %s", pctx.URL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	p := &types.CanonicalProduct{
		SiteID:    pctx.SiteID,
		Currency:  pctx.Currency,
		SourceURL: pctx.URL,
	}
	e.extractFields(doc, p, pctx)

	matrix := e.extractMatrix(doc, sideChannel, pctx)
	if len(matrix) > 0 {
		p.Matrix = matrix
		if p.Currency == "" {
			for i := range matrix {
				if matrix[i].Currency != "" {
					p.Currency = matrix[i].Currency
					break
				}
			}
		}
	}

	if err := Normalize(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Extractor) extractFields(doc *goquery.Document, p *types.CanonicalProduct, pctx Context) {
	p.ExternalID = firstOf(
		firstAttr(doc, "data-product-id", "[data-product-id]"),
		firstAttr(doc, "content", `meta[itemprop="sku"]`, `meta[property="product:retailer_item_id"]`),
		firstText(doc, `[data-testid="product-sku"]`, ".product-sku"),
		idFromURL(pctx.URL),
	)

	p.Title = firstOf(
		firstText(doc, `h1[data-testid="product-title"]`, "h1.product-title", "h1.product-name"),
		firstAttr(doc, "content", `meta[property="og:title"]`),
		firstText(doc, "h1"),
	)

	p.Description = firstOf(
		firstText(doc, `[data-testid="product-description"]`, ".product-description", "#product-description"),
		firstAttr(doc, "content", `meta[property="og:description"]`, `meta[name="description"]`),
	)

	p.Slug = Slugify(firstOf(p.Title, p.ExternalID))

	sale := ParsePrice(firstOf(
		firstText(doc, `[data-testid="product-price"]`, ".price .current", ".product-price .now", ".price-sales"),
		firstAttr(doc, "content", `meta[property="product:price:amount"]`, `meta[itemprop="price"]`),
	))
	p.Price = sale

	// Strikethrough-style secondary price node doubles as the original price.
	original := ParsePrice(firstText(doc,
		`[data-testid="product-price-original"]`, ".price .original", ".price del", ".price s", ".price-standard"))
	if sale != nil && original != nil {
		if disc := Discount(*sale, *original); disc != nil {
			p.SetMeta("discount_percentage", disc.String())
		}
	}

	if p.Currency == "" {
		p.Currency = firstAttr(doc, "content",
			`meta[property="product:price:currency"]`, `meta[itemprop="priceCurrency"]`)
	}

	if brand := firstOf(
		firstText(doc, `[data-testid="product-brand"]`, ".product-brand"),
		firstAttr(doc, "content", `meta[property="product:brand"]`),
	); brand != "" {
		p.SetMeta("brand", brand)
	}
	if pctx.Category != "" {
		p.SetMeta("category", pctx.Category)
	}

	p.Images = galleryImages(doc, pctx.URL)
}

// extractMatrix resolves the variant matrix with source preference:
// side-channel blob, embedded JSON state, then DOM scraping.
func (e *Extractor) extractMatrix(doc *goquery.Document, sideChannel []byte, pctx Context) types.VariantMatrix {
	if len(sideChannel) > 0 {
		matrix, err := ParseEmbedded(sideChannel)
		if err != nil {
			e.logger.Warn("side-channel blob unreadable", "url", pctx.URL, "error", err)
		} else if len(matrix) > 0 {
			return matrix
		}
	}

	if blob := embeddedStateBlob(doc); len(blob) > 0 {
		matrix, err := ParseEmbedded(blob)
		if err != nil {
			e.logger.Debug("embedded state unreadable", "url", pctx.URL, "error", err)
		} else if len(matrix) > 0 {
			return matrix
		}
	}

	return domMatrix(doc)
}

// embeddedStateBlob locates a server-rendered JSON state blob in the page.
func embeddedStateBlob(doc *goquery.Document) []byte {
	for _, sel := range []string{`script#__NEXT_DATA__`, `script[type="application/json"][data-state]`} {
		if text := doc.Find(sel).First().Text(); strings.TrimSpace(text) != "" {
			return []byte(text)
		}
	}
	html, err := doc.Html()
	if err != nil {
		return nil
	}
	if m := stateBlobPattern.FindStringSubmatch(html); len(m) == 2 {
		return []byte(m[1])
	}
	return nil
}

// domMatrix scrapes colour swatches and size options straight from the DOM,
// the last-resort path for templates without embedded state.
func domMatrix(doc *goquery.Document) types.VariantMatrix {
	var matrix types.VariantMatrix

	doc.Find(`[data-testid="colour-option"], .colour-swatch, .swatch-list li`).Each(func(_ int, s *goquery.Selection) {
		label := firstOf(s.AttrOr("data-colour", ""), s.AttrOr("title", ""), strings.TrimSpace(s.Text()))
		if label == "" {
			return
		}
		cw := types.ColourwayVariant{
			ColourLabel: label,
			ColourSlug:  Slugify(label),
			SwatchURL:   s.Find("img").AttrOr("src", ""),
		}
		matrix = append(matrix, cw)
	})

	var sizes []types.SizeVariant
	doc.Find(`[data-testid="size-option"], select[name="size"] option, .size-list li`).Each(func(_ int, s *goquery.Selection) {
		size := firstOf(s.AttrOr("data-size", ""), strings.TrimSpace(s.Text()))
		if size == "" || strings.EqualFold(size, "select size") {
			return
		}
		_, disabled := s.Attr("disabled")
		unavailable := disabled || s.HasClass("unavailable") || s.HasClass("out-of-stock")
		sizes = append(sizes, types.SizeVariant{
			Size:           size,
			SKU:            s.AttrOr("data-sku", ""),
			StockAvailable: !unavailable,
			Price:          ParsePrice(s.AttrOr("data-price", "")),
		})
	})

	if len(sizes) == 0 {
		return nil
	}
	if len(matrix) == 0 {
		// Single-colour template: sizes stand alone under a default colourway.
		matrix = types.VariantMatrix{{ColourLabel: "Default", ColourSlug: "default"}}
	}
	// The DOM only reflects the currently selected colour, so the scraped
	// size list is attached to every colourway found on the page.
	for i := range matrix {
		matrix[i].SizeVariants = append(matrix[i].SizeVariants, sizes...)
	}
	return matrix
}

func galleryImages(doc *goquery.Document, pageURL string) []types.ProductImage {
	base, _ := url.Parse(pageURL)
	var images []types.ProductImage
	add := func(src, alt string) {
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		if base != nil {
			if resolved, err := base.Parse(src); err == nil {
				src = resolved.String()
			}
		}
		images = append(images, types.ProductImage{URL: src, AltText: alt})
	}

	doc.Find(`[data-testid="product-gallery"] img, .product-gallery img, .product-images img`).Each(func(_ int, s *goquery.Selection) {
		add(firstOf(s.AttrOr("data-src", ""), s.AttrOr("src", "")), s.AttrOr("alt", ""))
	})
	if len(images) == 0 {
		if og := firstAttr(doc, "content", `meta[property="og:image"]`); og != "" {
			add(og, "")
		}
	}
	return images
}

// EnrichColourImages fetches additional per-colour pages for colour-specific
// imagery. The fan-out runs at a reduced concurrency so one product's burst
// does not trip a site's anti-bot defenses.
func (e *Extractor) EnrichColourImages(ctx context.Context, engine *fetcher.Engine, p *types.CanonicalProduct, colourPages map[string]string, concurrency int) {
	if len(colourPages) == 0 || len(p.Matrix) == 0 {
		return
	}

	byURL := make(map[string]string, len(colourPages))
	urls := make([]string, 0, len(colourPages))
	for colour, page := range colourPages {
		byURL[page] = strings.ToLower(colour)
		urls = append(urls, page)
	}

	results := engine.FetchBatch(ctx, urls, concurrency)
	for page, res := range results {
		if res == nil || !res.OK() {
			e.logger.Warn("colour page fetch failed", "url", page, "error", fetchErrValue(res))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
		if err != nil {
			continue
		}
		colour := byURL[page]
		for i := range p.Matrix {
			if strings.ToLower(p.Matrix[i].ColourLabel) != colour {
				continue
			}
			p.Matrix[i].Images = append(p.Matrix[i].Images, galleryImages(doc, page)...)
			break
		}
	}
	dedupeImages(p)
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if val, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// idFromURL falls back to the last meaningful path segment as external id.
func idFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

func fetchErrValue(res *types.FetchResult) any {
	if res == nil {
		return "no result"
	}
	if res.Err != nil {
		return res.Err
	}
	return fmt.Sprintf("status %d", res.StatusCode)
}
