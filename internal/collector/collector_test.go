package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/fetcher"
)

func testFetchEngine(t *testing.T) *fetcher.Engine {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	cfg := config.FetchConfig{
		MaxRetries:  1,
		BackoffBase: config.DurationFrom(time.Millisecond),
	}
	return fetcher.NewEngine(cfg, f, nil, nil, nil)
}

type listingItem struct {
	URL string `json:"url"`
}

// listingServer serves an offset-paginated JSON catalog of total items, with
// one colourway duplicate pair mixed in.
func listingServer(t *testing.T, total, pageSize int) (*httptest.Server, *sync.Map) {
	t.Helper()
	var requests sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		count, _ := requests.LoadOrStore(offset, new(int))
		*(count.(*int))++

		var items []listingItem
		for i := offset; i < offset+pageSize && i < total; i++ {
			colour := "black"
			if i == 1 {
				// Second item is a colourway duplicate of the first.
				items = append(items, listingItem{URL: "/products/p0/white"})
				continue
			}
			items = append(items, listingItem{URL: fmt.Sprintf("/products/p%d/%s", i, colour)})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"products": items})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestCollectPaginated(t *testing.T) {
	const total, pageSize = 34, 12
	srv, _ := listingServer(t, total, pageSize)

	c := New(testFetchEngine(t), nil, nil)
	site := config.SiteConfig{
		ID:          "shop",
		Listing:     srv.URL + "/api/products",
		Mode:        "api",
		PageSize:    pageSize,
		OffsetParam: "offset",
	}

	links, err := c.Collect(context.Background(), site, 2)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// 34 raw items, one of which is a colourway duplicate of p0.
	if len(links) != total-1 {
		t.Fatalf("got %d links, want %d", len(links), total-1)
	}
	seen := make(map[string]struct{})
	for _, link := range links {
		if _, dup := seen[link]; dup {
			t.Errorf("duplicate link %s", link)
		}
		seen[link] = struct{}{}
	}
	if links[0] != srv.URL+"/products/p0/black" {
		t.Errorf("first link = %s, want the first-seen colourway of p0", links[0])
	}
}

func TestCollectRetriesFailedRoundOnce(t *testing.T) {
	const pageSize = 10
	var mu sync.Mutex
	hits := make(map[int]int)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		mu.Lock()
		hits[offset]++
		mu.Unlock()

		if offset >= pageSize {
			// Everything past the first page fails permanently.
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]listingItem{{URL: "/products/only/black"}})
	}))
	t.Cleanup(srv.Close)

	c := New(testFetchEngine(t), nil, nil)
	site := config.SiteConfig{
		ID:          "shop",
		Listing:     srv.URL + "/api/products",
		Mode:        "api",
		PageSize:    pageSize,
		OffsetParam: "offset",
	}

	links, err := c.Collect(context.Background(), site, 1)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}

	mu.Lock()
	defer mu.Unlock()
	// The failing round (offset 10) runs once, then exactly one retry round
	// before the collector accepts exhaustion.
	if hits[pageSize] != 2 {
		t.Errorf("offset %d fetched %d times, want 2 (round + one retry)", pageSize, hits[pageSize])
	}
}

func TestCollectRenderedListing(t *testing.T) {
	rendered := `<html><body>
		<a class="card" href="/products/a/black">A</a>
		<a class="card" href="/products/b/navy">B</a>
		<a class="card" href="/products/a/white">A again</a>
		<a href="/help">not a product</a>
	</body></html>`

	var gotURL, gotWait string
	renderer := renderFunc(func(_ context.Context, url, waitHint string) (string, error) {
		gotURL, gotWait = url, waitHint
		return rendered, nil
	})

	c := New(testFetchEngine(t), renderer, nil)
	site := config.SiteConfig{
		ID:           "shop",
		Listing:      "https://shop.example.com/new-in",
		Mode:         "rendered",
		PageSize:     250,
		CountParam:   "count",
		LinkSelector: "a.card",
	}

	links, err := c.Collect(context.Background(), site, 4)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if gotWait != "a.card" {
		t.Errorf("wait hint = %q, want the link selector", gotWait)
	}
	if gotURL != "https://shop.example.com/new-in?count=250" {
		t.Errorf("render URL = %q", gotURL)
	}
	want := []string{
		"https://shop.example.com/products/a/black",
		"https://shop.example.com/products/b/navy",
	}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %s, want %s", i, links[i], want[i])
		}
	}
}

type renderFunc func(ctx context.Context, url, waitHint string) (string, error)

func (f renderFunc) Render(ctx context.Context, url, waitHint string) (string, error) {
	return f(ctx, url, waitHint)
}

func TestCollectRenderedWithoutRenderer(t *testing.T) {
	c := New(testFetchEngine(t), nil, nil)
	_, err := c.Collect(context.Background(), config.SiteConfig{ID: "s", Listing: "https://x", Mode: "rendered", PageSize: 10, CountParam: "count"}, 1)
	if err == nil {
		t.Fatal("rendered mode without a renderer should error")
	}
}

func TestDedupeExact(t *testing.T) {
	in := []string{"a", "b", "a", "c", "b"}
	got := DedupeExact(in)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDedupeBaseProductIdempotent(t *testing.T) {
	in := []string{
		"https://shop.example.com/products/tee/black",
		"https://shop.example.com/products/tee/white",
		"https://shop.example.com/products/hoodie/grey",
	}
	once := DedupeBaseProduct(in)
	if len(once) != 2 {
		t.Fatalf("after one pass: %v", once)
	}
	twice := DedupeBaseProduct(once)
	if len(twice) != len(once) {
		t.Fatalf("second pass changed the result: %v vs %v", twice, once)
	}
	for i := range once {
		if twice[i] != once[i] {
			t.Errorf("idempotence broken at %d: %s vs %s", i, twice[i], once[i])
		}
	}
}
