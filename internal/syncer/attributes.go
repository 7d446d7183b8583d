package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"

	"catalogsync/internal/extractor"
)

// AttributeResolver maps attribute and term names onto remote taxonomy ids,
// creating missing entries on demand. The caches live for the process and are
// only an optimization: the remote catalog stays the source of truth, so a
// stale or racing cache entry is always recoverable by re-listing.
type AttributeResolver struct {
	client *Client
	attrs  *cache.Cache
	terms  *cache.Cache
	logger *slog.Logger
}

// NewAttributeResolver builds a resolver with empty caches.
func NewAttributeResolver(client *Client, logger *slog.Logger) *AttributeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttributeResolver{
		client: client,
		attrs:  cache.New(cache.NoExpiration, 0),
		terms:  cache.New(cache.NoExpiration, 0),
		logger: logger,
	}
}

// ResolveAttribute returns the remote id for an attribute name, creating the
// attribute if the catalog does not have it yet. The remote catalog enforces
// slug uniqueness and concurrent syncs can race, so lookups run
// cache -> by-slug -> by-name -> by-slug-again -> create -> by-slug-recheck
// before the resolver gives up.
func (r *AttributeResolver) ResolveAttribute(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, fmt.Errorf("attribute name is empty")
	}
	if id, ok := r.attrs.Get(key); ok {
		return id.(int64), nil
	}

	slug := extractor.Slugify(name)

	if id, err := r.findAttribute(ctx, slug, name); err != nil {
		return 0, err
	} else if id != 0 {
		r.attrs.Set(key, id, cache.NoExpiration)
		return id, nil
	}

	created, err := r.client.CreateAttribute(ctx, name, slug)
	if err == nil {
		r.logger.Info("created attribute", "name", name, "id", created.ID)
		r.attrs.Set(key, created.ID, cache.NoExpiration)
		return created.ID, nil
	}

	// A failed create usually means another process won the race; one more
	// lookup by slug settles it.
	if id, findErr := r.findAttribute(ctx, slug, name); findErr == nil && id != 0 {
		r.attrs.Set(key, id, cache.NoExpiration)
		return id, nil
	}
	return 0, fmt.Errorf("create attribute %q: %w", name, err)
}

func (r *AttributeResolver) findAttribute(ctx context.Context, slug, name string) (int64, error) {
	// Two passes over the listing: slug match, then name match, then slug
	// once more against a listing refreshed in between.
	for attempt := 0; attempt < 2; attempt++ {
		attrs, err := r.client.ListAttributes(ctx)
		if err != nil {
			return 0, fmt.Errorf("list attributes: %w", err)
		}
		for _, a := range attrs {
			if strings.EqualFold(a.Slug, slug) || strings.EqualFold(strings.TrimPrefix(a.Slug, "pa_"), slug) {
				return a.ID, nil
			}
		}
		if attempt == 0 {
			for _, a := range attrs {
				if strings.EqualFold(a.Name, name) {
					return a.ID, nil
				}
			}
		}
	}
	return 0, nil
}

// ResolveTerm returns the remote term id for (attribute, value), creating the
// term if needed, with the same check-before-create protocol as attributes.
func (r *AttributeResolver) ResolveTerm(ctx context.Context, attributeID int64, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("term value is empty")
	}
	key := strconv.FormatInt(attributeID, 10) + "|" + strings.ToLower(value)
	if id, ok := r.terms.Get(key); ok {
		return id.(int64), nil
	}

	slug := extractor.Slugify(value)

	if id, err := r.findTerm(ctx, attributeID, slug, value); err != nil {
		return 0, err
	} else if id != 0 {
		r.terms.Set(key, id, cache.NoExpiration)
		return id, nil
	}

	created, err := r.client.CreateTerm(ctx, attributeID, value, slug)
	if err == nil {
		r.logger.Debug("created term", "attribute", attributeID, "value", value, "id", created.ID)
		r.terms.Set(key, created.ID, cache.NoExpiration)
		return created.ID, nil
	}

	if id, findErr := r.findTerm(ctx, attributeID, slug, value); findErr == nil && id != 0 {
		r.terms.Set(key, id, cache.NoExpiration)
		return id, nil
	}
	return 0, fmt.Errorf("create term %q: %w", value, err)
}

func (r *AttributeResolver) findTerm(ctx context.Context, attributeID int64, slug, value string) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		terms, err := r.client.ListTerms(ctx, attributeID)
		if err != nil {
			return 0, fmt.Errorf("list terms: %w", err)
		}
		for _, t := range terms {
			if strings.EqualFold(t.Slug, slug) {
				return t.ID, nil
			}
		}
		if attempt == 0 {
			for _, t := range terms {
				if strings.EqualFold(t.Name, value) {
					return t.ID, nil
				}
			}
		}
	}
	return 0, nil
}
