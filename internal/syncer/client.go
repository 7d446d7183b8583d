package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"catalogsync/internal/config"
)

// APIError is a non-2xx response from the remote catalog. It aborts the
// current product's sync only, never the batch.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api status %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// RemoteProduct mirrors the catalog's product resource.
type RemoteProduct struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Type   string `json:"type"`
	Status string `json:"status"`
	SKU    string `json:"sku"`
}

// RemoteAttribute mirrors a global product attribute.
type RemoteAttribute struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// RemoteTerm mirrors one term of an attribute.
type RemoteTerm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// RemoteCategory mirrors a product category.
type RemoteCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// VariationAttribute selects one attribute option on a variation.
type VariationAttribute struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Option string `json:"option"`
}

// RemoteVariation mirrors one variation of a variable product.
type RemoteVariation struct {
	ID         int64                `json:"id"`
	SKU        string               `json:"sku"`
	Attributes []VariationAttribute `json:"attributes"`
}

// RemoteMedia mirrors an uploaded media object.
type RemoteMedia struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

// Client talks to a WooCommerce-style commerce catalog REST API using a
// Basic-Auth credential pair and page/per_page pagination.
type Client struct {
	baseURL  string
	key      string
	secret   string
	http     *http.Client
	pageSize int
}

// NewClient builds a catalog client from configuration.
func NewClient(cfg config.CatalogConfig) *Client {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		key:      cfg.ConsumerKey,
		secret:   cfg.ConsumerSecret,
		http:     &http.Client{Timeout: timeout},
		pageSize: pageSize,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read catalog response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode catalog response: %w", err)
		}
	}
	return nil
}

// listAll pages through a collection endpoint until a short page is returned.
func (c *Client) listAll(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.pageSize))

		var batch []json.RawMessage
		if err := c.do(ctx, http.MethodGet, path, q, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			return all, nil
		}
	}
}

func decodeAll[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode catalog item: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CreateProduct POSTs a new product.
func (c *Client) CreateProduct(ctx context.Context, payload map[string]any) (*RemoteProduct, error) {
	var product RemoteProduct
	if err := c.do(ctx, http.MethodPost, "/products", nil, payload, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct PUTs an existing product keyed by its remote id.
func (c *Client) UpdateProduct(ctx context.Context, id int64, payload map[string]any) (*RemoteProduct, error) {
	var product RemoteProduct
	path := "/products/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodPut, path, nil, payload, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// ListAttributes returns every global attribute.
func (c *Client) ListAttributes(ctx context.Context) ([]RemoteAttribute, error) {
	raw, err := c.listAll(ctx, "/products/attributes", nil)
	if err != nil {
		return nil, err
	}
	return decodeAll[RemoteAttribute](raw)
}

// CreateAttribute creates a global attribute.
func (c *Client) CreateAttribute(ctx context.Context, name, slug string) (*RemoteAttribute, error) {
	var attr RemoteAttribute
	payload := map[string]any{"name": name, "slug": slug, "type": "select"}
	if err := c.do(ctx, http.MethodPost, "/products/attributes", nil, payload, &attr); err != nil {
		return nil, err
	}
	return &attr, nil
}

// ListTerms returns every term of an attribute.
func (c *Client) ListTerms(ctx context.Context, attributeID int64) ([]RemoteTerm, error) {
	path := "/products/attributes/" + strconv.FormatInt(attributeID, 10) + "/terms"
	raw, err := c.listAll(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeAll[RemoteTerm](raw)
}

// CreateTerm creates a term under an attribute.
func (c *Client) CreateTerm(ctx context.Context, attributeID int64, name, slug string) (*RemoteTerm, error) {
	var term RemoteTerm
	path := "/products/attributes/" + strconv.FormatInt(attributeID, 10) + "/terms"
	payload := map[string]any{"name": name, "slug": slug}
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &term); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListCategories returns every product category.
func (c *Client) ListCategories(ctx context.Context) ([]RemoteCategory, error) {
	raw, err := c.listAll(ctx, "/products/categories", nil)
	if err != nil {
		return nil, err
	}
	return decodeAll[RemoteCategory](raw)
}

// CreateCategory creates a product category.
func (c *Client) CreateCategory(ctx context.Context, name string) (*RemoteCategory, error) {
	var cat RemoteCategory
	if err := c.do(ctx, http.MethodPost, "/products/categories", nil, map[string]any{"name": name}, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// ListVariations returns every variation of a variable product.
func (c *Client) ListVariations(ctx context.Context, productID int64) ([]RemoteVariation, error) {
	path := "/products/" + strconv.FormatInt(productID, 10) + "/variations"
	raw, err := c.listAll(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeAll[RemoteVariation](raw)
}

// CreateVariation POSTs a new variation under a product.
func (c *Client) CreateVariation(ctx context.Context, productID int64, payload map[string]any) (*RemoteVariation, error) {
	var variation RemoteVariation
	path := "/products/" + strconv.FormatInt(productID, 10) + "/variations"
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &variation); err != nil {
		return nil, err
	}
	return &variation, nil
}

// UpdateVariation PUTs an existing variation.
func (c *Client) UpdateVariation(ctx context.Context, productID, variationID int64, payload map[string]any) (*RemoteVariation, error) {
	var variation RemoteVariation
	path := "/products/" + strconv.FormatInt(productID, 10) + "/variations/" + strconv.FormatInt(variationID, 10)
	if err := c.do(ctx, http.MethodPut, path, nil, payload, &variation); err != nil {
		return nil, err
	}
	return &variation, nil
}

// UploadMedia posts raw image bytes to the media endpoint.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte) (*RemoteMedia, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build media upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build media upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build media upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read media response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var media RemoteMedia
	if err := json.Unmarshal(body, &media); err != nil {
		return nil, fmt.Errorf("decode media response: %w", err)
	}
	return &media, nil
}
