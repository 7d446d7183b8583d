package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"catalogsync/internal/storage"
	"catalogsync/pkg/types"
)

// Attribute names used for the variant taxonomy in the remote catalog.
const (
	colourAttributeName = "Colour"
	sizeAttributeName   = "Size"
)

// Engine performs the idempotent upsert of canonical products into the
// remote catalog. Whether a product is created or updated is decided by the
// stored mapping's remote id, which keeps repeated runs from duplicating
// products.
type Engine struct {
	client   *Client
	resolver *AttributeResolver
	mappings storage.MappingStore
	media    storage.MediaStore

	// colourMedia caches uploaded media ids by lower-cased colour label so
	// every size of one colour shares a single upload. Concurrent product
	// syncs may still upload the same artwork twice; the double-check below
	// makes that a benign race, not a correctness problem.
	colourMedia *cache.Cache
	categories  *cache.Cache

	logger *slog.Logger
}

// NewEngine builds a sync engine. media may be nil when image upload is off.
func NewEngine(client *Client, resolver *AttributeResolver, mappings storage.MappingStore, media storage.MediaStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:      client,
		resolver:    resolver,
		mappings:    mappings,
		media:       media,
		colourMedia: cache.New(cache.NoExpiration, 0),
		categories:  cache.New(cache.NoExpiration, 0),
		logger:      logger,
	}
}

// SyncResult reports what one product sync did.
type SyncResult struct {
	Mapping           *types.SyncMapping
	Created           bool
	VariationsWritten int
	VariationsFailed  int
}

// Sync upserts one product and reconciles its variations. Any catalog error
// during the product upsert aborts this product only; a failure on a single
// variation is counted and its siblings continue.
func (e *Engine) Sync(ctx context.Context, p *types.CanonicalProduct) (*SyncResult, error) {
	prior, err := e.mappings.Get(ctx, p.SiteID, p.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	mapping := prior
	if mapping == nil {
		mapping = &types.SyncMapping{SiteID: p.SiteID, ExternalID: p.ExternalID}
	}
	isNew := mapping.RemoteProductID == 0

	var colourAttr, sizeAttr int64
	if len(p.Matrix) > 0 {
		colourAttr, err = e.resolver.ResolveAttribute(ctx, colourAttributeName)
		if err == nil {
			sizeAttr, err = e.resolver.ResolveAttribute(ctx, sizeAttributeName)
		}
		if err == nil {
			err = e.resolveTerms(ctx, p, colourAttr, sizeAttr)
		}
		if err != nil {
			return e.fail(ctx, mapping, nil, err)
		}
	}

	payload, err := e.buildPayload(ctx, p, colourAttr, sizeAttr)
	if err != nil {
		return e.fail(ctx, mapping, nil, err)
	}
	snapshot, _ := json.Marshal(payload)

	var remote *RemoteProduct
	if isNew {
		e.logger.Info("creating product", "site", p.SiteID, "external_id", p.ExternalID)
		remote, err = e.client.CreateProduct(ctx, payload)
	} else {
		e.logger.Info("updating product", "site", p.SiteID, "external_id", p.ExternalID,
			"remote_id", mapping.RemoteProductID)
		remote, err = e.client.UpdateProduct(ctx, mapping.RemoteProductID, payload)
		if IsNotFound(err) {
			// The remote product was deleted out of band; the stale
			// mapping must not strand the product, so recreate it.
			e.logger.Warn("remote product gone, recreating", "site", p.SiteID,
				"external_id", p.ExternalID, "remote_id", mapping.RemoteProductID)
			isNew = true
			remote, err = e.client.CreateProduct(ctx, payload)
		}
	}
	if err != nil {
		return e.fail(ctx, mapping, snapshot, err)
	}
	mapping.RemoteProductID = remote.ID

	result := &SyncResult{Mapping: mapping, Created: isNew}
	if len(p.Matrix) > 0 {
		written, failed := e.reconcileVariations(ctx, remote.ID, p, colourAttr, sizeAttr)
		result.VariationsWritten = written
		result.VariationsFailed = failed
	}

	mapping.LastSyncStatus = types.SyncSuccess
	mapping.LastSyncedAt = time.Now()
	mapping.LastPayload = snapshot
	mapping.LastError = ""
	if err := e.mappings.Put(ctx, mapping); err != nil {
		return nil, fmt.Errorf("store mapping: %w", err)
	}
	return result, nil
}

func (e *Engine) fail(ctx context.Context, mapping *types.SyncMapping, snapshot []byte, cause error) (*SyncResult, error) {
	mapping.LastSyncStatus = types.SyncFailed
	mapping.LastSyncedAt = time.Now()
	if snapshot != nil {
		mapping.LastPayload = snapshot
	}
	mapping.LastError = cause.Error()
	if err := e.mappings.Put(ctx, mapping); err != nil {
		e.logger.Error("store failed mapping", "external_id", mapping.ExternalID, "error", err)
	}
	return &SyncResult{Mapping: mapping}, cause
}

// resolveTerms ensures every distinct colour and size of the matrix exists as
// a remote term before the product payload references them.
func (e *Engine) resolveTerms(ctx context.Context, p *types.CanonicalProduct, colourAttr, sizeAttr int64) error {
	seenSizes := make(map[string]struct{})
	for _, cw := range p.Matrix {
		if _, err := e.resolver.ResolveTerm(ctx, colourAttr, cw.ColourLabel); err != nil {
			return err
		}
		for _, sv := range cw.SizeVariants {
			key := strings.ToLower(sv.Size)
			if _, ok := seenSizes[key]; ok {
				continue
			}
			seenSizes[key] = struct{}{}
			if _, err := e.resolver.ResolveTerm(ctx, sizeAttr, sv.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) buildPayload(ctx context.Context, p *types.CanonicalProduct, colourAttr, sizeAttr int64) (map[string]any, error) {
	payload := map[string]any{
		"name":        p.Title,
		"slug":        p.Slug,
		"description": p.Description,
		"sku":         p.ExternalID,
		"status":      "publish",
	}

	if p.Status == types.StatusOutOfStock {
		payload["stock_status"] = "outofstock"
	} else {
		payload["stock_status"] = "instock"
	}

	if len(p.Matrix) == 0 {
		payload["type"] = "simple"
		if p.Price != nil {
			payload["regular_price"] = p.Price.String()
		}
	} else {
		payload["type"] = "variable"
		colours := make([]string, 0, len(p.Matrix))
		sizeSet := make(map[string]struct{})
		var sizes []string
		for _, cw := range p.Matrix {
			colours = append(colours, cw.ColourLabel)
			for _, sv := range cw.SizeVariants {
				key := strings.ToLower(sv.Size)
				if _, ok := sizeSet[key]; ok {
					continue
				}
				sizeSet[key] = struct{}{}
				sizes = append(sizes, sv.Size)
			}
		}
		payload["attributes"] = []map[string]any{
			{"id": colourAttr, "variation": true, "visible": true, "options": colours},
			{"id": sizeAttr, "variation": true, "visible": true, "options": sizes},
		}
	}

	if len(p.Images) > 0 {
		images := make([]map[string]any, 0, len(p.Images))
		for _, img := range p.Images {
			images = append(images, map[string]any{"src": img.URL, "alt": img.AltText})
		}
		payload["images"] = images
	}

	if category := p.Meta["category"]; category != "" {
		catID, err := e.resolveCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		payload["categories"] = []map[string]any{{"id": catID}}
	}

	if len(p.Meta) > 0 {
		meta := make([]map[string]any, 0, len(p.Meta))
		for k, v := range p.Meta {
			meta = append(meta, map[string]any{"key": k, "value": v})
		}
		payload["meta_data"] = meta
	}
	return payload, nil
}

// reconcileVariations keys existing remote variations by (colour, size) and
// updates matches in place, creating what is missing. Variations that exist
// remotely but not canonically are deliberately left untouched: the engine
// never deletes remote data.
func (e *Engine) reconcileVariations(ctx context.Context, productID int64, p *types.CanonicalProduct, colourAttr, sizeAttr int64) (written, failed int) {
	existing, err := e.client.ListVariations(ctx, productID)
	if err != nil {
		e.logger.Error("list variations", "remote_id", productID, "error", err)
		return 0, p.Matrix.SizeCount()
	}
	byPair := make(map[string]RemoteVariation, len(existing))
	for _, v := range existing {
		byPair[variationKey(v, colourAttr, sizeAttr)] = v
	}

	for _, cw := range p.Matrix {
		mediaID := e.colourMediaID(ctx, cw)
		for _, sv := range cw.SizeVariants {
			payload := map[string]any{
				"attributes": []map[string]any{
					{"id": colourAttr, "option": cw.ColourLabel},
					{"id": sizeAttr, "option": sv.Size},
				},
			}
			if sv.SKU != "" {
				payload["sku"] = sv.SKU
			}
			if price := cw.ResolvedPrice(sv); price != nil {
				payload["regular_price"] = price.String()
			}
			if sv.StockAvailable {
				payload["stock_status"] = "instock"
			} else {
				payload["stock_status"] = "outofstock"
			}
			if mediaID != 0 {
				payload["image"] = map[string]any{"id": mediaID}
			}

			key := pairKey(cw.ColourLabel, sv.Size)
			var opErr error
			if match, ok := byPair[key]; ok {
				_, opErr = e.client.UpdateVariation(ctx, productID, match.ID, payload)
			} else {
				_, opErr = e.client.CreateVariation(ctx, productID, payload)
			}
			if opErr != nil {
				failed++
				e.logger.Warn("variation sync failed", "external_id", p.ExternalID,
					"colour", cw.ColourLabel, "size", sv.Size, "error", opErr)
				continue
			}
			written++
		}
	}
	return written, failed
}

// colourMediaID uploads the first local image of a colourway once and reuses
// the media id for every size sharing that colour.
func (e *Engine) colourMediaID(ctx context.Context, cw types.ColourwayVariant) int64 {
	if e.media == nil {
		return 0
	}
	key := strings.ToLower(strings.TrimSpace(cw.ColourLabel))
	if id, ok := e.colourMedia.Get(key); ok {
		return id.(int64)
	}

	var local types.ProductImage
	for _, img := range cw.Images {
		if img.LocalPath != "" {
			local = img
			break
		}
	}
	if local.LocalPath == "" {
		return 0
	}

	data, err := e.media.Read(local.LocalPath)
	if err != nil {
		e.logger.Warn("read colour image", "colour", cw.ColourLabel, "error", err)
		return 0
	}

	// Another goroutine may have finished the upload while we read the file.
	if id, ok := e.colourMedia.Get(key); ok {
		return id.(int64)
	}
	uploaded, err := e.client.UploadMedia(ctx, path.Base(local.LocalPath), data)
	if err != nil {
		e.logger.Warn("upload colour image", "colour", cw.ColourLabel, "error", err)
		return 0
	}
	e.colourMedia.Set(key, uploaded.ID, cache.NoExpiration)
	return uploaded.ID
}

func (e *Engine) resolveCategory(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := e.categories.Get(key); ok {
		return id.(int64), nil
	}

	find := func() (int64, error) {
		cats, err := e.client.ListCategories(ctx)
		if err != nil {
			return 0, fmt.Errorf("list categories: %w", err)
		}
		for _, c := range cats {
			if strings.EqualFold(c.Name, name) {
				return c.ID, nil
			}
		}
		return 0, nil
	}

	if id, err := find(); err != nil {
		return 0, err
	} else if id != 0 {
		e.categories.Set(key, id, cache.NoExpiration)
		return id, nil
	}
	created, err := e.client.CreateCategory(ctx, name)
	if err == nil {
		e.categories.Set(key, created.ID, cache.NoExpiration)
		return created.ID, nil
	}
	if id, findErr := find(); findErr == nil && id != 0 {
		e.categories.Set(key, id, cache.NoExpiration)
		return id, nil
	}
	return 0, fmt.Errorf("create category %q: %w", name, err)
}

func variationKey(v RemoteVariation, colourAttr, sizeAttr int64) string {
	var colour, size string
	for _, attr := range v.Attributes {
		switch {
		case attr.ID == colourAttr || strings.EqualFold(attr.Name, colourAttributeName):
			colour = attr.Option
		case attr.ID == sizeAttr || strings.EqualFold(attr.Name, sizeAttributeName):
			size = attr.Option
		}
	}
	return pairKey(colour, size)
}

func pairKey(colour, size string) string {
	return strings.ToLower(strings.TrimSpace(colour)) + "|" + strings.ToLower(strings.TrimSpace(size))
}
