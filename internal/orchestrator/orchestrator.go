// Package orchestrator drives the full harvest pipeline for a site: collect
// product links, fetch and render detail pages, extract and normalize
// products, localize copy, mirror images, and sync the result into the
// remote catalog. Progress is surfaced through job records.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"catalogsync/internal/collector"
	"catalogsync/internal/config"
	"catalogsync/internal/extractor"
	"catalogsync/internal/fetcher"
	"catalogsync/internal/renderbridge"
	"catalogsync/internal/storage"
	"catalogsync/internal/syncer"
	"catalogsync/internal/translate"
	"catalogsync/pkg/types"
)

// JobStore persists job records. The SQL store satisfies it; runs without a
// database use NoopJobStore.
type JobStore interface {
	SaveJob(ctx context.Context, job *types.JobRecord) error
}

// NoopJobStore discards job records.
type NoopJobStore struct{}

func (NoopJobStore) SaveJob(context.Context, *types.JobRecord) error { return nil }

// Orchestrator wires the pipeline stages together and runs them per site.
type Orchestrator struct {
	cfg        *config.Config
	collector  *collector.Collector
	engine     *fetcher.Engine
	bridge     *renderbridge.Bridge
	extractor  *extractor.Extractor
	translator translate.Translator
	syncer     *syncer.Engine
	media      storage.MediaStore
	jobs       JobStore
	logger     *slog.Logger

	// dumped guards the one-shot raw-response dump used when tuning
	// selectors against a new site.
	dumped atomic.Bool
}

// Options carries the collaborators for New. Bridge, Media, and Jobs are
// optional; a nil Jobs store falls back to NoopJobStore.
type Options struct {
	Config     *config.Config
	Collector  *collector.Collector
	Engine     *fetcher.Engine
	Bridge     *renderbridge.Bridge
	Extractor  *extractor.Extractor
	Translator translate.Translator
	Syncer     *syncer.Engine
	Media      storage.MediaStore
	Jobs       JobStore
	Logger     *slog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.Jobs == nil {
		opts.Jobs = NoopJobStore{}
	}
	if opts.Translator == nil {
		opts.Translator = translate.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        opts.Config,
		collector:  opts.Collector,
		engine:     opts.Engine,
		bridge:     opts.Bridge,
		extractor:  opts.Extractor,
		translator: opts.Translator,
		syncer:     opts.Syncer,
		media:      opts.Media,
		jobs:       opts.Jobs,
		logger:     opts.Logger,
	}
}

// Run processes every configured site in order. It returns the first
// site-level failure but always finishes the remaining sites first.
func (o *Orchestrator) Run(ctx context.Context) error {
	var firstErr error
	for _, site := range o.cfg.Sites {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, err := o.RunSite(ctx, site)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("site %s: %w", site.ID, err)
		}
		o.logger.Info("site finished", "site", site.ID, "status", job.Status,
			"found", job.TotalFound, "created", job.TotalCreated,
			"updated", job.TotalUpdated, "failed", job.TotalFailed)
	}
	return firstErr
}

// RunSite executes the pipeline for one site and returns its job record.
// Item-level failures are counted on the record; only collection failure or
// context cancellation fails the job as a whole.
func (o *Orchestrator) RunSite(ctx context.Context, site config.SiteConfig) (*types.JobRecord, error) {
	job := &types.JobRecord{
		ID:        uuid.NewString(),
		SiteID:    site.ID,
		Status:    types.JobRunning,
		StartedAt: time.Now(),
	}
	o.saveJob(ctx, job)

	links, err := o.collector.Collect(ctx, site, o.cfg.Fetch.Concurrency)
	if err != nil {
		return o.finishJob(ctx, job, err)
	}
	if max := o.cfg.Job.MaxItems; max > 0 && len(links) > max {
		links = links[:max]
	}
	job.TotalFound = int64(len(links))
	o.saveJob(ctx, job)
	o.logger.Info("collection complete", "site", site.ID, "products", len(links))

	var created, updated, failed atomic.Int64
	batchSize := o.cfg.Job.BatchSize
	for start := 0; start < len(links); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + batchSize
		if end > len(links) {
			end = len(links)
		}
		batch := links[start:end]
		o.logger.Debug("processing batch", "site", site.ID,
			"from", start, "to", end, "of", len(links))

		o.processBatch(ctx, site, batch, &created, &updated, &failed)

		if end < len(links) && o.cfg.Job.BatchSleep.Duration > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.cfg.Job.BatchSleep.Duration):
			}
		}
	}

	job.TotalCreated = created.Load()
	job.TotalUpdated = updated.Load()
	job.TotalFailed = failed.Load()
	return o.finishJob(ctx, job, ctx.Err())
}

// processBatch fetches one chunk of detail pages and runs extraction,
// translation, image mirroring, and sync for each.
func (o *Orchestrator) processBatch(ctx context.Context, site config.SiteConfig, urls []string, created, updated, failed *atomic.Int64) {
	type page struct {
		res         *types.FetchResult
		sideChannel []byte
	}
	pages := make([]page, 0, len(urls))

	switch {
	case site.Interactions && o.bridge != nil:
		for _, u := range urls {
			html, side, err := o.bridge.RenderWithInteractions(ctx, u)
			res := &types.FetchResult{URL: u, FinalURL: u, FetchedAt: time.Now()}
			if err != nil {
				res.Err = err
			} else {
				res.StatusCode = 200
				res.Body = []byte(html)
			}
			pages = append(pages, page{res: res, sideChannel: side})
		}
	case site.DetailRender:
		results := o.engine.FetchBatchRendered(ctx, urls, o.cfg.Fetch.Concurrency)
		for _, u := range urls {
			pages = append(pages, page{res: results[u]})
		}
	default:
		results := o.engine.FetchBatch(ctx, urls, o.cfg.Fetch.Concurrency)
		for _, u := range urls {
			pages = append(pages, page{res: results[u]})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Fetch.Concurrency)
	for _, pg := range pages {
		pg := pg
		g.Go(func() error {
			if err := o.processItem(gctx, site, pg.res, pg.sideChannel, created, updated); err != nil {
				failed.Add(1)
				o.logger.Warn("product failed", "site", site.ID, "url", pg.res.URL, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

func (o *Orchestrator) processItem(ctx context.Context, site config.SiteConfig, res *types.FetchResult, sideChannel []byte, created, updated *atomic.Int64) error {
	if res == nil {
		return fmt.Errorf("no fetch result")
	}
	if !res.OK() {
		return fmt.Errorf("fetch: status %d: %v", res.StatusCode, res.Err)
	}
	o.maybeDump(res)

	p, err := o.extractor.Extract(res, sideChannel, extractor.Context{
		SiteID:   site.ID,
		URL:      res.FinalURL,
		Currency: site.Currency,
		Category: site.Category,
	})
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	if site.ColourPages && len(p.Matrix) > 0 {
		o.extractor.EnrichColourImages(ctx, o.engine, p, colourPageURLs(p),
			o.cfg.Fetch.ImageConcurrency)
	}

	o.localize(ctx, p)

	if o.media != nil {
		o.mirrorImages(ctx, p)
	}

	result, err := o.syncer.Sync(ctx, p)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if result.Created {
		created.Add(1)
	} else {
		updated.Add(1)
	}
	if result.VariationsFailed > 0 {
		o.logger.Warn("variations partially synced", "site", site.ID,
			"external_id", p.ExternalID, "failed", result.VariationsFailed)
	}
	return nil
}

// localize translates the description and title in place. A translation
// failure keeps the source text.
func (o *Orchestrator) localize(ctx context.Context, p *types.CanonicalProduct) {
	if _, ok := o.translator.(translate.Noop); ok {
		return
	}
	if out, err := o.translator.Translate(ctx, p.Title); err == nil {
		p.Title = out
	} else {
		o.logger.Warn("translate title", "external_id", p.ExternalID, "error", err)
	}
	if out, err := o.translator.Translate(ctx, p.Description); err == nil {
		p.Description = out
	} else {
		o.logger.Warn("translate description", "external_id", p.ExternalID, "error", err)
	}
}

// mirrorImages downloads product and colourway images into the media store
// and records their local paths. Download failures leave the image with its
// remote URL only.
func (o *Orchestrator) mirrorImages(ctx context.Context, p *types.CanonicalProduct) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Fetch.ImageConcurrency)

	fetchInto := func(img *types.ProductImage) {
		g.Go(func() error {
			res := o.engine.FetchOne(gctx, fetcher.Request{URL: img.URL})
			if !res.OK() {
				o.logger.Debug("image fetch failed", "url", img.URL, "status", res.StatusCode)
				return nil
			}
			if max := o.cfg.Media.MaxSizeBytes; max > 0 && int64(len(res.Body)) > max {
				o.logger.Debug("image too large", "url", img.URL, "bytes", len(res.Body))
				return nil
			}
			path, err := o.media.Store(gctx, res.Body, "", img.URL)
			if err != nil {
				o.logger.Warn("store image", "url", img.URL, "error", err)
				return nil
			}
			img.LocalPath = path
			return nil
		})
	}

	for i := range p.Images {
		fetchInto(&p.Images[i])
	}
	for ci := range p.Matrix {
		images := p.Matrix[ci].Images
		if max := o.cfg.Media.MaxPerColour; max > 0 && len(images) > max {
			images = images[:max]
		}
		for ii := range images {
			fetchInto(&images[ii])
		}
	}
	g.Wait()
}

// maybeDump writes the first successful response body to the configured dump
// path, once per process.
func (o *Orchestrator) maybeDump(res *types.FetchResult) {
	path := o.cfg.Job.DebugDump
	if path == "" || o.dumped.Swap(true) {
		return
	}
	if err := os.WriteFile(path, res.Body, 0o644); err != nil {
		o.logger.Warn("debug dump failed", "path", path, "error", err)
		return
	}
	o.logger.Info("debug dump written", "path", path, "url", res.URL)
}

func (o *Orchestrator) finishJob(ctx context.Context, job *types.JobRecord, cause error) (*types.JobRecord, error) {
	job.FinishedAt = time.Now()
	if cause != nil {
		job.Status = types.JobFailed
		job.SetError(cause.Error())
	} else {
		job.Status = types.JobSuccess
	}
	o.saveJob(ctx, job)
	return job, cause
}

// colourPageURLs derives one detail URL per colourway by swapping the
// trailing path segment of the source URL for the colour slug. The page
// already fetched and colourways that came with their own imagery are
// skipped.
func colourPageURLs(p *types.CanonicalProduct) map[string]string {
	base := types.BaseProductKey(p.SourceURL)
	pages := make(map[string]string, len(p.Matrix))
	for _, cw := range p.Matrix {
		if cw.ColourSlug == "" || len(cw.Images) > 0 {
			continue
		}
		page := base + "/" + cw.ColourSlug
		if page == p.SourceURL {
			continue
		}
		pages[cw.ColourLabel] = page
	}
	return pages
}

func (o *Orchestrator) saveJob(ctx context.Context, job *types.JobRecord) {
	// Job persistence is best effort: losing a status row must not abort
	// the harvest itself.
	if err := o.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		o.logger.Error("save job", "job", job.ID, "error", err)
	}
}
