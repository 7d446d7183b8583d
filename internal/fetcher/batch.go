package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"catalogsync/internal/config"
	"catalogsync/internal/robots"
	"catalogsync/pkg/types"
)

// ErrRetriesExhausted marks a URL that stayed transient through every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrRobotsDisallowed marks a URL rejected by robots rules before fetching.
var ErrRobotsDisallowed = errors.New("disallowed by robots")

// Retryable reports whether an HTTP status is worth another attempt.
// Everything else in the 4xx/5xx range is treated as permanent.
func Retryable(status int) bool {
	switch status {
	case 429, 502, 503, 504:
		return true
	}
	return status >= 520 && status <= 524
}

// rateLimited statuses get an extra fixed wait on top of the backoff curve.
func rateLimited(status int) bool {
	return status == 429 || status == 503
}

// Engine dispatches batches of URLs in bounded-concurrency waves with
// sequential per-URL retries.
type Engine struct {
	cfg     config.FetchConfig
	fetcher Fetcher
	limiter *HostLimiter
	robots  *robots.Agent
	logger  *slog.Logger

	// sleep and jitter are swapped out by tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewEngine builds a fetch engine. The robots agent is optional.
func NewEngine(cfg config.FetchConfig, f Fetcher, limiter *HostLimiter, agent *robots.Agent, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: f,
		limiter: limiter,
		robots:  agent,
		logger:  logger,
		sleep:   sleepCtx,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.jitter = func() time.Duration {
		e.randMu.Lock()
		defer e.randMu.Unlock()
		return time.Second + time.Duration(e.rand.Int63n(int64(2*time.Second)))
	}
	return e
}

// FetchBatch resolves every URL, in waves of at most concurrency in flight.
// A wave completes when each of its requests succeeds, fails permanently, or
// exhausts its retries; the returned map always carries one result per URL.
func (e *Engine) FetchBatch(ctx context.Context, urls []string, concurrency int) map[string]*types.FetchResult {
	return e.fetchBatch(ctx, urls, concurrency, false)
}

// FetchBatchRendered is FetchBatch with every request routed through the renderer.
func (e *Engine) FetchBatchRendered(ctx context.Context, urls []string, concurrency int) map[string]*types.FetchResult {
	return e.fetchBatch(ctx, urls, concurrency, true)
}

func (e *Engine) fetchBatch(ctx context.Context, urls []string, concurrency int, render bool) map[string]*types.FetchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make(map[string]*types.FetchResult, len(urls))
	var mu sync.Mutex

	for start := 0; start < len(urls); start += concurrency {
		if ctx.Err() != nil {
			break
		}
		end := start + concurrency
		if end > len(urls) {
			end = len(urls)
		}
		wave := urls[start:end]

		g, waveCtx := errgroup.WithContext(ctx)
		for _, target := range wave {
			target := target
			g.Go(func() error {
				res := e.fetchWithRetry(waveCtx, Request{URL: target, Render: render})
				mu.Lock()
				results[target] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end < len(urls) && e.cfg.WaveSleep.Duration > 0 {
			if err := e.sleep(ctx, e.cfg.WaveSleep.Duration); err != nil {
				break
			}
		}
	}

	for _, target := range urls {
		if _, ok := results[target]; !ok {
			results[target] = &types.FetchResult{URL: target, Err: ctx.Err()}
		}
	}
	return results
}

// FetchOne resolves a single URL with the full retry policy.
func (e *Engine) FetchOne(ctx context.Context, req Request) *types.FetchResult {
	return e.fetchWithRetry(ctx, req)
}

// fetchWithRetry runs strictly sequential attempts for one URL; each attempt
// observes the outcome of the previous one to compute its backoff.
func (e *Engine) fetchWithRetry(ctx context.Context, req Request) *types.FetchResult {
	host := hostOf(req.URL)

	if e.robots != nil && !e.robots.AllowedURL(ctx, req.URL) {
		e.logger.Debug("blocked by robots", "url", req.URL)
		return &types.FetchResult{URL: req.URL, Err: ErrRobotsDisallowed}
	}

	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, host); err != nil {
				return &types.FetchResult{URL: req.URL, Err: err, Attempts: attempt - 1}
			}
		}

		res, err := e.fetcher.Fetch(ctx, req)
		switch {
		case err != nil:
			lastErr = err
			e.logger.Warn("fetch attempt failed", "url", req.URL, "attempt", attempt, "error", err)
		case Retryable(res.StatusCode):
			lastErr = fmt.Errorf("http status %d", res.StatusCode)
			e.logger.Warn("retryable status", "url", req.URL, "attempt", attempt, "status", res.StatusCode)
		default:
			res.Attempts = attempt
			if res.StatusCode >= 400 {
				res.Err = fmt.Errorf("http status %d", res.StatusCode)
			}
			return res
		}

		if attempt == maxRetries {
			break
		}
		if err := e.sleep(ctx, e.backoff(attempt, res)); err != nil {
			return &types.FetchResult{URL: req.URL, Err: err, Attempts: attempt}
		}
	}

	return &types.FetchResult{
		URL:      req.URL,
		Err:      fmt.Errorf("%w for %s: %v", ErrRetriesExhausted, req.URL, lastErr),
		Attempts: maxRetries,
	}
}

// backoff grows exponentially with the attempt number plus 1..3s of jitter;
// rate-limited responses add a fixed extra wait.
func (e *Engine) backoff(attempt int, res *types.FetchResult) time.Duration {
	base := e.cfg.BackoffBase.Duration
	if base <= 0 {
		base = 2 * time.Second
	}
	baseSec := base.Seconds()
	wait := time.Duration(math.Pow(baseSec, float64(attempt)) * float64(time.Second))
	if wait > 2*time.Minute {
		wait = 2 * time.Minute
	}
	wait += e.jitter()
	if res != nil && rateLimited(res.StatusCode) {
		wait += e.cfg.RateLimitWait.Duration
	}
	return wait
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
