package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"catalogsync/internal/collector"
	"catalogsync/internal/config"
	"catalogsync/internal/extractor"
	"catalogsync/internal/fetcher"
	"catalogsync/internal/orchestrator"
	"catalogsync/internal/renderbridge"
	"catalogsync/internal/robots"
	"catalogsync/internal/storage"
	"catalogsync/internal/syncer"
	"catalogsync/internal/translate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := build(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	logger.Info("starting sync run", "sites", len(cfg.Sites))
	if err := orch.Run(ctx); err != nil {
		logger.Error("run finished with errors", "error", err)
		os.Exit(1)
	}
	logger.Info("run complete")
}

// build assembles the pipeline from configuration. The returned cleanup
// closes owned resources.
func build(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, func(), error) {
	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build fetcher: %w", err)
	}

	limiter := fetcher.NewHostLimiter(cfg.Fetch.PerHostDelay.Duration, fetcher.RateLimiterSettings{
		Requests: cfg.Fetch.RateLimitPerHost.Requests,
		Window:   cfg.Fetch.RateLimitPerHost.Window.Duration,
	})
	agent := robots.NewAgent(cfg.Robots, httpFetcher.Client())

	var (
		renderer fetcher.Renderer
		bridge   *renderbridge.Bridge
		pages    collector.Renderer
		cleanups []func()
	)
	switch cfg.Rendering.Engine {
	case "bridge":
		runner, err := renderbridge.NewExecRunner(cfg.Rendering.BridgePath, cfg.Rendering.GracePeriod.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("render bridge: %w", err)
		}
		bridge = renderbridge.New(runner, cfg.Rendering, logger)
		renderer = renderbridge.PageRenderer{Bridge: bridge}
		pages = bridge
	case "chromedp":
		cr := fetcher.NewChromedpRenderer(fetcher.RenderOptions{
			Timeout:            cfg.Rendering.Timeout.Duration,
			WaitForSelector:    cfg.Rendering.WaitForSelector,
			MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
			DisableHeadless:    cfg.Rendering.DisableHeadless,
			ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
		})
		renderer = cr
		pages = chromedpPages{renderer: cr}
	}

	engine := fetcher.NewEngine(cfg.Fetch, fetcher.NewComposite(httpFetcher, renderer), limiter, agent, logger)
	coll := collector.New(engine, pages, logger)
	ext := extractor.New(logger)

	client := syncer.NewClient(cfg.Catalog)
	resolver := syncer.NewAttributeResolver(client, logger)

	var (
		mappings storage.MappingStore
		jobs     orchestrator.JobStore
	)
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlStore, err := storage.NewSQLStore(cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("open mapping store: %w", err)
		}
		cleanups = append(cleanups, func() { sqlStore.Close() })
		mappings = sqlStore
		jobs = sqlStore
	} else {
		mappings = storage.NewMemoryMappingStore()
	}

	var media storage.MediaStore
	if cfg.Media.Enabled {
		fileStore, err := storage.NewFileMediaStore(cfg.Media.Directory)
		if err != nil {
			return nil, nil, fmt.Errorf("open media store: %w", err)
		}
		media = fileStore
	}

	sync := syncer.NewEngine(client, resolver, mappings, media, logger)

	orch := orchestrator.New(orchestrator.Options{
		Config:     cfg,
		Collector:  coll,
		Engine:     engine,
		Bridge:     bridge,
		Extractor:  ext,
		Translator: translate.New(cfg.Translate),
		Syncer:     sync,
		Media:      media,
		Jobs:       jobs,
		Logger:     logger,
	})

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return orch, cleanup, nil
}

// chromedpPages adapts the in-process renderer to the listing collector.
type chromedpPages struct {
	renderer *fetcher.ChromedpRenderer
}

func (c chromedpPages) Render(ctx0 context.Context, url, waitHint string) (string, error) {
	res, err := c.renderer.Render(ctx0, fetcher.Request{URL: url, WaitHint: waitHint})
	if err != nil {
		return "", err
	}
	return string(res.Body), nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
