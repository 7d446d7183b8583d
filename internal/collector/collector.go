package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalogsync/internal/config"
	"catalogsync/internal/fetcher"
	"catalogsync/pkg/types"
)

// maxRounds is a hard stop against a listing endpoint that never exhausts.
const maxRounds = 200

// linkKeys are the JSON field names under which listing APIs expose
// detail-page URLs, across the site templates seen so far.
var linkKeys = map[string]struct{}{
	"url":         {},
	"link":        {},
	"href":        {},
	"product_url": {},
	"productUrl":  {},
	"pdp_url":     {},
}

// Renderer is the slice of the render bridge the collector needs.
type Renderer interface {
	Render(ctx context.Context, url, waitHint string) (string, error)
}

// Collector walks a site's listing endpoint and produces the deduplicated
// set of detail-page URLs.
type Collector struct {
	engine   *fetcher.Engine
	renderer Renderer
	logger   *slog.Logger
}

// New builds a collector. The renderer may be nil when no configured site
// uses rendered listings.
func New(engine *fetcher.Engine, renderer Renderer, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{engine: engine, renderer: renderer, logger: logger}
}

// Collect gathers detail URLs for one site. API-mode listings paginate in
// rounds of concurrency pages; rendered listings load the full set once.
// The result is deduplicated exactly and then by base product path.
func (c *Collector) Collect(ctx context.Context, site config.SiteConfig, concurrency int) ([]string, error) {
	var links []string
	var err error
	switch site.Mode {
	case "rendered":
		links, err = c.collectRendered(ctx, site)
	default:
		links, err = c.collectPaginated(ctx, site, concurrency)
	}
	if err != nil {
		return nil, err
	}
	return DedupeBaseProduct(DedupeExact(links)), nil
}

// collectPaginated issues concurrency listing pages per round and stops only
// once a round contributes zero new links with every page fetched cleanly.
// A zero-link round that contained fetch failures is retried once, so a burst
// of transient errors is not mistaken for listing exhaustion.
func (c *Collector) collectPaginated(ctx context.Context, site config.SiteConfig, concurrency int) ([]string, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	base, err := url.Parse(site.Listing)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	seen := make(map[string]struct{})
	var ordered []string
	offset := 0
	retriedRound := false

	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			return ordered, ctx.Err()
		}

		pages := make([]string, 0, concurrency)
		for i := 0; i < concurrency; i++ {
			pages = append(pages, pageURL(base, site.OffsetParam, offset+i*site.PageSize))
		}

		results := c.engine.FetchBatch(ctx, pages, concurrency)

		newLinks := 0
		failures := 0
		for _, page := range pages {
			res := results[page]
			if res == nil || res.Err != nil || !res.OK() {
				failures++
				c.logger.Warn("listing page failed", "site", site.ID, "page", page,
					"error", fetchErr(res))
				continue
			}
			for _, link := range c.extractListingLinks(res, base, site.LinkSelector) {
				if _, ok := seen[link]; ok {
					continue
				}
				seen[link] = struct{}{}
				ordered = append(ordered, link)
				newLinks++
			}
		}

		c.logger.Debug("listing round complete", "site", site.ID, "round", round,
			"new_links", newLinks, "failures", failures)

		if newLinks == 0 {
			if failures > 0 && !retriedRound {
				retriedRound = true
				continue
			}
			break
		}
		retriedRound = false
		offset += concurrency * site.PageSize
	}

	return ordered, nil
}

// collectRendered renders the listing once with a load-all item count and
// lets the browser worker lazy-scroll until the full set is present.
func (c *Collector) collectRendered(ctx context.Context, site config.SiteConfig) ([]string, error) {
	if c.renderer == nil {
		return nil, fmt.Errorf("site %s needs a renderer for rendered listings", site.ID)
	}
	base, err := url.Parse(site.Listing)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	target := pageURL(base, site.CountParam, site.PageSize)

	html, err := c.renderer.Render(ctx, target, site.LinkSelector)
	if err != nil {
		return nil, fmt.Errorf("render listing: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	return htmlLinks(doc, base, site.LinkSelector), nil
}

// extractListingLinks handles both JSON API payloads and HTML listing bodies.
func (c *Collector) extractListingLinks(res *types.FetchResult, base *url.URL, selector string) []string {
	body := bytes.TrimSpace(res.Body)
	if len(body) == 0 {
		return nil
	}
	if body[0] == '{' || body[0] == '[' {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			return jsonLinks(decoded, base)
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		c.logger.Debug("listing body not parseable", "url", res.URL, "error", err)
		return nil
	}
	return htmlLinks(doc, base, selector)
}

// jsonLinks walks a decoded listing payload and gathers detail URLs from the
// known link field names, wherever they are nested.
func jsonLinks(node any, base *url.URL) []string {
	var out []string
	var walk func(node any, depth int)
	walk = func(node any, depth int) {
		if depth > 12 {
			return
		}
		switch v := node.(type) {
		case map[string]any:
			for key, child := range v {
				if s, ok := child.(string); ok {
					if _, linkKey := linkKeys[key]; linkKey {
						if resolved := resolveLink(base, s); resolved != "" {
							out = append(out, resolved)
						}
						continue
					}
				}
				walk(child, depth+1)
			}
		case []any:
			for _, child := range v {
				walk(child, depth+1)
			}
		}
	}
	walk(node, 0)
	return out
}

func htmlLinks(doc *goquery.Document, base *url.URL, selector string) []string {
	if strings.TrimSpace(selector) == "" {
		selector = "a[href]"
	}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			href, ok = s.Find("a[href]").Attr("href")
		}
		if !ok {
			return
		}
		if resolved := resolveLink(base, href); resolved != "" {
			out = append(out, resolved)
		}
	})
	return out
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func pageURL(base *url.URL, param string, value int) string {
	u := *base
	q := u.Query()
	q.Set(param, strconv.Itoa(value))
	u.RawQuery = q.Encode()
	return u.String()
}

func fetchErr(res *types.FetchResult) any {
	if res == nil {
		return "no result"
	}
	if res.Err != nil {
		return res.Err
	}
	return fmt.Sprintf("status %d", res.StatusCode)
}
