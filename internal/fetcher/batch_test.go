package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"catalogsync/internal/config"
	"catalogsync/pkg/types"
)

// scriptedFetcher returns canned statuses per URL, one per attempt, repeating
// the last entry once the script runs out.
type scriptedFetcher struct {
	mu       sync.Mutex
	statuses map[string][]int
	calls    map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{statuses: make(map[string][]int), calls: make(map[string]int)}
}

func (f *scriptedFetcher) script(url string, statuses ...int) {
	f.statuses[url] = statuses
}

func (f *scriptedFetcher) Fetch(_ context.Context, req Request) (*types.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.statuses[req.URL]
	idx := f.calls[req.URL]
	f.calls[req.URL]++
	if idx >= len(script) {
		idx = len(script) - 1
	}
	if idx < 0 {
		return nil, errors.New("no script for " + req.URL)
	}
	return &types.FetchResult{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: script[idx],
		Body:       []byte("body"),
		FetchedAt:  time.Now(),
	}, nil
}

func (f *scriptedFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func testEngine(t *testing.T, f Fetcher, maxRetries int) (*Engine, *[]time.Duration) {
	t.Helper()
	cfg := config.FetchConfig{
		MaxRetries:    maxRetries,
		BackoffBase:   config.DurationFrom(2 * time.Second),
		RateLimitWait: config.DurationFrom(10 * time.Second),
	}
	e := NewEngine(cfg, f, nil, nil, nil)

	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*sleeps = append(*sleeps, d)
		mu.Unlock()
		return nil
	}
	e.jitter = func() time.Duration { return time.Second }
	return e, sleeps
}

func TestFetchOneSucceedsAfterRetry(t *testing.T) {
	f := newScriptedFetcher()
	f.script("https://x/p", 503, 200)
	e, sleeps := testEngine(t, f, 5)

	res := e.FetchOne(context.Background(), Request{URL: "https://x/p"})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	// One backoff between the two attempts: 2^1 s + 1s jitter + 10s rate-limit
	// extra (503 is treated as rate limiting).
	if len(*sleeps) != 1 || (*sleeps)[0] != 13*time.Second {
		t.Errorf("sleeps = %v, want [13s]", *sleeps)
	}
}

func TestFetchOneExhaustsRetries(t *testing.T) {
	f := newScriptedFetcher()
	f.script("https://x/p", 503)
	e, sleeps := testEngine(t, f, 5)

	res := e.FetchOne(context.Background(), Request{URL: "https://x/p"})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, ErrRetriesExhausted) {
		t.Errorf("Err = %v, want ErrRetriesExhausted", res.Err)
	}
	if res.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", res.Attempts)
	}
	if got := f.callCount("https://x/p"); got != 5 {
		t.Errorf("fetcher called %d times, want exactly MaxRetries", got)
	}
	if len(*sleeps) != 4 {
		t.Errorf("%d sleeps, want 4 (no sleep after the final attempt)", len(*sleeps))
	}
}

func TestFetchOnePermanentFailureNoRetry(t *testing.T) {
	f := newScriptedFetcher()
	f.script("https://x/p", 404)
	e, sleeps := testEngine(t, f, 5)

	res := e.FetchOne(context.Background(), Request{URL: "https://x/p"})
	if res.OK() {
		t.Fatal("404 is not OK")
	}
	if res.Err == nil {
		t.Error("a 4xx result should carry an error")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (404 is permanent)", res.Attempts)
	}
	if got := f.callCount("https://x/p"); got != 1 {
		t.Errorf("fetcher called %d times, want 1", got)
	}
	if len(*sleeps) != 0 {
		t.Errorf("no backoff expected for a permanent failure, got %v", *sleeps)
	}
}

func TestRetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 502, 503, 504, 520, 521, 522, 523, 524} {
		if !Retryable(status) {
			t.Errorf("status %d should be retryable", status)
		}
	}
	for _, status := range []int{200, 301, 400, 401, 403, 404, 410, 500, 501, 525} {
		if Retryable(status) {
			t.Errorf("status %d should be permanent", status)
		}
	}
}

func TestFetchBatchCoversEveryURL(t *testing.T) {
	f := newScriptedFetcher()
	urls := []string{"https://x/1", "https://x/2", "https://x/3", "https://x/4", "https://x/5"}
	f.script("https://x/1", 200)
	f.script("https://x/2", 404)
	f.script("https://x/3", 503, 200)
	f.script("https://x/4", 200)
	f.script("https://x/5", 503)
	e, _ := testEngine(t, f, 2)

	results := e.FetchBatch(context.Background(), urls, 2)
	if len(results) != len(urls) {
		t.Fatalf("got %d results, want one per URL", len(results))
	}
	for _, u := range urls {
		if results[u] == nil {
			t.Errorf("missing result for %s", u)
		}
	}
	if !results["https://x/1"].OK() || !results["https://x/3"].OK() || !results["https://x/4"].OK() {
		t.Error("expected 1, 3, and 4 to succeed")
	}
	if results["https://x/2"].OK() || results["https://x/5"].OK() {
		t.Error("expected 2 and 5 to fail")
	}
	if !errors.Is(results["https://x/5"].Err, ErrRetriesExhausted) {
		t.Errorf("url 5 should exhaust retries, got %v", results["https://x/5"].Err)
	}
}

func TestFetchBatchWaveSleep(t *testing.T) {
	f := newScriptedFetcher()
	urls := []string{"https://x/1", "https://x/2", "https://x/3"}
	for _, u := range urls {
		f.script(u, 200)
	}
	e, sleeps := testEngine(t, f, 1)
	e.cfg.WaveSleep = config.DurationFrom(time.Second)

	e.FetchBatch(context.Background(), urls, 2)
	// Two waves (2 + 1 URLs) with one inter-wave sleep; none after the last.
	if len(*sleeps) != 1 || (*sleeps)[0] != time.Second {
		t.Errorf("sleeps = %v, want one wave sleep of 1s", *sleeps)
	}
}
