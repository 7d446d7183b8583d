package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/fetcher"
	"catalogsync/pkg/types"
)

func colourPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	gallery := func(images ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body><div class="product-gallery">`)
			for _, img := range images {
				fmt.Fprintf(w, `<img src=%q alt="">`, img)
			}
			fmt.Fprint(w, `</div></body></html>`)
		}
	}
	mux.HandleFunc("/coat/red", gallery("/img/red-1.jpg", "/img/shared.jpg"))
	mux.HandleFunc("/coat/blue", gallery("/img/blue-1.jpg", "/img/shared.jpg"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func enrichTestEngine(t *testing.T) *fetcher.Engine {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.FetchConfig{MaxRetries: 1}
	return fetcher.NewEngine(cfg, f, nil, nil, nil)
}

func TestEnrichColourImages(t *testing.T) {
	srv := colourPageServer(t)
	e := New(nil)

	p := &types.CanonicalProduct{
		SiteID:     "shop",
		ExternalID: "CT-1",
		SourceURL:  srv.URL + "/coat/red",
		Matrix: types.VariantMatrix{
			{ColourLabel: "Red", ColourSlug: "red", SizeVariants: []types.SizeVariant{{Size: "M", StockAvailable: true}}},
			{ColourLabel: "Blue", ColourSlug: "blue", SizeVariants: []types.SizeVariant{{Size: "M", StockAvailable: true}}},
			{ColourLabel: "Green", ColourSlug: "green", SizeVariants: []types.SizeVariant{{Size: "M", StockAvailable: true}}},
		},
	}

	pages := map[string]string{
		"Red":   srv.URL + "/coat/red",
		"Blue":  srv.URL + "/coat/blue",
		"Green": srv.URL + "/coat/green", // 404s, must not disturb the others
	}
	e.EnrichColourImages(context.Background(), enrichTestEngine(t), p, pages, 2)

	urls := func(images []types.ProductImage) []string {
		out := make([]string, 0, len(images))
		for _, img := range images {
			out = append(out, img.URL)
		}
		return out
	}

	red := urls(p.Matrix[0].Images)
	if len(red) != 2 || red[0] != srv.URL+"/img/red-1.jpg" {
		t.Errorf("red images = %v", red)
	}
	blue := urls(p.Matrix[1].Images)
	if len(blue) != 1 || blue[0] != srv.URL+"/img/blue-1.jpg" {
		t.Errorf("blue images = %v, shared.jpg should stay with the first colour seen", blue)
	}
	if len(p.Matrix[2].Images) != 0 {
		t.Errorf("green images = %v, want none after the failed page", p.Matrix[2].Images)
	}
}

func TestEnrichColourImagesNoPagesIsNoop(t *testing.T) {
	e := New(nil)
	p := &types.CanonicalProduct{
		Matrix: types.VariantMatrix{{ColourLabel: "Red", ColourSlug: "red"}},
	}
	e.EnrichColourImages(context.Background(), enrichTestEngine(t), p, nil, 2)
	if len(p.Matrix[0].Images) != 0 {
		t.Errorf("images = %v", p.Matrix[0].Images)
	}
}
