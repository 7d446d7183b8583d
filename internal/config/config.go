package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything needed to run the harvest-and-sync pipeline.
type Config struct {
	Sites     []SiteConfig    `yaml:"sites"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Rendering RenderingConfig `yaml:"rendering"`
	Robots    RobotsConfig    `yaml:"robots"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	DB        SQLConfig       `yaml:"db"`
	Media     MediaConfig     `yaml:"media"`
	Translate TranslateConfig `yaml:"translate"`
	Job       JobConfig       `yaml:"job"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig declares one source site to harvest.
type SiteConfig struct {
	ID      string `yaml:"id"`
	Listing string `yaml:"listing"`
	// Mode selects how the listing paginates: "api" for offset-paginated JSON
	// endpoints, "rendered" for HTML pages that lazy-load the full set.
	Mode string `yaml:"mode"`
	// PageSize is the item count per listing page (api mode) or the
	// load-all target count (rendered mode).
	PageSize int `yaml:"page_size"`
	// OffsetParam names the pagination query parameter for api mode.
	OffsetParam string `yaml:"offset_param"`
	// CountParam names the item-count query parameter for rendered mode.
	CountParam string `yaml:"count_param"`
	// LinkSelector extracts detail links from rendered listings.
	LinkSelector string `yaml:"link_selector"`
	// DetailRender forces detail pages through the render bridge.
	DetailRender bool `yaml:"detail_render"`
	// Interactions routes detail pages through the interaction flow that
	// clicks colour swatches and reports per-variant data out of band.
	Interactions bool `yaml:"interactions"`
	// ColourPages fetches per-colour detail pages for colour-specific
	// imagery. Colour page URLs are derived by swapping the trailing path
	// segment of the detail URL for the colourway slug, so this only fits
	// sites whose detail URLs end in the colour segment.
	ColourPages bool   `yaml:"colour_pages"`
	Currency    string `yaml:"currency"`
	Category    string `yaml:"category"`
}

// FetchConfig controls the HTTP fetch engine.
type FetchConfig struct {
	Concurrency      int               `yaml:"concurrency"`
	ImageConcurrency int               `yaml:"image_concurrency"`
	MaxRetries       int               `yaml:"max_retries"`
	BackoffBase      Duration          `yaml:"backoff_base"`
	RateLimitWait    Duration          `yaml:"rate_limit_wait"`
	WaveSleep        Duration          `yaml:"wave_sleep"`
	RequestTimeout   Duration          `yaml:"request_timeout"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	ProxyURL         string            `yaml:"proxy_url"`
	Headers          map[string]string `yaml:"headers"`
	PerHostDelay     Duration          `yaml:"per_host_delay"`
	RateLimitPerHost RateLimitConfig   `yaml:"rate_limit_per_host"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// RenderingConfig controls headless-browser rendering.
type RenderingConfig struct {
	// Engine selects the renderer: "bridge" for the subprocess worker,
	// "chromedp" for in-process sessions, "none" to disable.
	Engine string `yaml:"engine"`
	// BridgePath locates the subprocess worker executable (bridge engine).
	BridgePath         string   `yaml:"bridge_path"`
	Timeout            Duration `yaml:"timeout"`
	GracePeriod        Duration `yaml:"grace_period"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
	MaxRetries         int      `yaml:"max_retries"`
	ChallengeBackoff   Duration `yaml:"challenge_backoff"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// CatalogConfig points at the remote commerce catalog REST API.
type CatalogConfig struct {
	BaseURL        string   `yaml:"base_url"`
	ConsumerKey    string   `yaml:"consumer_key"`
	ConsumerSecret string   `yaml:"consumer_secret"`
	RequestTimeout Duration `yaml:"request_timeout"`
	PageSize       int      `yaml:"page_size"`
}

// SQLConfig describes the optional relational store for sync mappings and jobs.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// MediaConfig controls local image storage.
type MediaConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Directory    string `yaml:"directory"`
	MaxPerColour int    `yaml:"max_per_colour"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

// TranslateConfig points at the text-translation collaborator.
type TranslateConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
	Source   string   `yaml:"source"`
	Target   string   `yaml:"target"`
}

// JobConfig bounds a single orchestrated run.
type JobConfig struct {
	MaxItems   int      `yaml:"max_items"`
	BatchSize  int      `yaml:"batch_size"`
	BatchSleep Duration `yaml:"batch_sleep"`
	DebugDump  string   `yaml:"debug_dump"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			Concurrency:      12,
			ImageConcurrency: 4,
			MaxRetries:       5,
			BackoffBase:      DurationFrom(2 * time.Second),
			RateLimitWait:    DurationFrom(10 * time.Second),
			WaveSleep:        DurationFrom(500 * time.Millisecond),
			RequestTimeout:   DurationFrom(20 * time.Second),
			MaxBodyBytes:     6 * 1024 * 1024,
			Headers:          map[string]string{},
			PerHostDelay:     DurationFrom(250 * time.Millisecond),
		},
		Rendering: RenderingConfig{
			Engine:             "none",
			Timeout:            DurationFrom(45 * time.Second),
			GracePeriod:        DurationFrom(5 * time.Second),
			ConcurrentSessions: 2,
			MaxRetries:         5,
			ChallengeBackoff:   DurationFrom(8 * time.Second),
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: "catalogsync-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Catalog: CatalogConfig{
			RequestTimeout: DurationFrom(30 * time.Second),
			PageSize:       100,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Media: MediaConfig{
			Enabled:      false,
			MaxPerColour: 8,
			MaxSizeBytes: 4 * 1024 * 1024,
		},
		Translate: TranslateConfig{
			Timeout: DurationFrom(15 * time.Second),
			Source:  "auto",
			Target:  "en",
		},
		Job: JobConfig{
			MaxItems:   0,
			BatchSize:  24,
			BatchSleep: DurationFrom(2 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the pipeline configuration.
func (c Config) Validate() error {
	if len(c.Sites) == 0 {
		return errors.New("at least one site must be configured")
	}
	for i, site := range c.Sites {
		if site.ID == "" {
			return fmt.Errorf("site %d has empty id", i)
		}
		if site.Listing == "" {
			return fmt.Errorf("site %s has empty listing url", site.ID)
		}
		switch site.Mode {
		case "api", "rendered":
		default:
			return fmt.Errorf("site %s has unsupported mode %q", site.ID, site.Mode)
		}
		if site.PageSize <= 0 {
			return fmt.Errorf("site %s page_size must be > 0 (got %d)", site.ID, site.PageSize)
		}
		if site.Mode == "rendered" && strings.TrimSpace(site.LinkSelector) == "" {
			return fmt.Errorf("site %s needs link_selector in rendered mode", site.ID)
		}
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0 (got %d)", c.Fetch.Concurrency)
	}
	if c.Fetch.ImageConcurrency <= 0 {
		return fmt.Errorf("fetch.image_concurrency must be > 0 (got %d)", c.Fetch.ImageConcurrency)
	}
	if c.Fetch.ImageConcurrency > c.Fetch.Concurrency {
		return errors.New("fetch.image_concurrency must not exceed fetch.concurrency")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0 (got %d)", c.Fetch.MaxRetries)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	switch c.Rendering.Engine {
	case "none", "chromedp", "bridge":
	default:
		return fmt.Errorf("unsupported rendering engine %q", c.Rendering.Engine)
	}
	if c.Rendering.Engine == "bridge" && strings.TrimSpace(c.Rendering.BridgePath) == "" {
		return errors.New("rendering.bridge_path must be set for the bridge engine")
	}
	if needsRendering(c.Sites) && c.Rendering.Engine == "none" {
		return errors.New("a configured site requires rendering but rendering.engine is none")
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url must be set")
	}
	if c.Catalog.ConsumerKey == "" || c.Catalog.ConsumerSecret == "" {
		return errors.New("catalog credentials must be set")
	}
	if c.Catalog.PageSize <= 0 {
		return fmt.Errorf("catalog.page_size must be > 0 (got %d)", c.Catalog.PageSize)
	}
	if strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if c.Media.Enabled {
		if strings.TrimSpace(c.Media.Directory) == "" {
			return errors.New("media.directory must be set when media.enabled is true")
		}
		if c.Media.MaxSizeBytes <= 0 {
			return fmt.Errorf("media.max_size_bytes must be > 0 (got %d)", c.Media.MaxSizeBytes)
		}
	}
	if c.Translate.Enabled && strings.TrimSpace(c.Translate.Endpoint) == "" {
		return errors.New("translate.endpoint must be set when translate.enabled is true")
	}
	if c.Job.MaxItems < 0 {
		return fmt.Errorf("job.max_items must be >= 0 (got %d)", c.Job.MaxItems)
	}
	if c.Job.BatchSize <= 0 {
		return fmt.Errorf("job.batch_size must be > 0 (got %d)", c.Job.BatchSize)
	}
	return nil
}

func needsRendering(sites []SiteConfig) bool {
	for _, s := range sites {
		if s.Mode == "rendered" || s.DetailRender || s.Interactions {
			return true
		}
	}
	return false
}

func (c *Config) normalise() {
	for i := range c.Sites {
		c.Sites[i].ID = strings.TrimSpace(c.Sites[i].ID)
		c.Sites[i].Listing = strings.TrimSpace(c.Sites[i].Listing)
		c.Sites[i].Mode = strings.ToLower(strings.TrimSpace(c.Sites[i].Mode))
		if c.Sites[i].Mode == "" {
			c.Sites[i].Mode = "api"
		}
		if c.Sites[i].OffsetParam == "" {
			c.Sites[i].OffsetParam = "offset"
		}
		if c.Sites[i].CountParam == "" {
			c.Sites[i].CountParam = "count"
		}
	}
	c.Rendering.Engine = strings.ToLower(strings.TrimSpace(c.Rendering.Engine))
	c.Rendering.BridgePath = strings.TrimSpace(c.Rendering.BridgePath)
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Media.Directory = strings.TrimSpace(c.Media.Directory)
	c.Translate.Endpoint = strings.TrimSpace(c.Translate.Endpoint)

	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
