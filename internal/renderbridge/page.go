package renderbridge

import (
	"context"
	"time"

	"catalogsync/internal/fetcher"
	"catalogsync/pkg/types"
)

// PageRenderer adapts the bridge to the fetch engine's Renderer interface so
// bridge-rendered pages flow through the same composite fetch path.
type PageRenderer struct {
	Bridge *Bridge
}

// Render satisfies fetcher.Renderer.
func (p PageRenderer) Render(ctx context.Context, req fetcher.Request) (*types.FetchResult, error) {
	html, err := p.Bridge.Render(ctx, req.URL, req.WaitHint)
	if err != nil {
		return nil, err
	}
	return &types.FetchResult{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: 200,
		Body:       []byte(html),
		FetchedAt:  time.Now(),
	}, nil
}
