// Package translate converts extracted product copy between languages via a
// pluggable backend. Translation failures are never fatal to a sync run; the
// caller keeps the source text.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"catalogsync/internal/config"
)

// Translator turns source-language text into the configured target language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Noop returns the input unchanged. Used when translation is disabled.
type Noop struct{}

func (Noop) Translate(_ context.Context, text string) (string, error) {
	return text, nil
}

// HTTPTranslator posts text to a translation endpoint and reads the
// translated string back. The request and response shapes follow the common
// self-hosted translate services (LibreTranslate compatible).
type HTTPTranslator struct {
	endpoint string
	apiKey   string
	source   string
	target   string
	client   *http.Client
}

// New builds a translator from config. A missing endpoint yields a Noop.
func New(cfg config.TranslateConfig) Translator {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return Noop{}
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	source := cfg.Source
	if source == "" {
		source = "auto"
	}
	target := cfg.Target
	if target == "" {
		target = "en"
	}
	return &HTTPTranslator{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		source:   source,
		target:   target,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTranslator) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	body, err := json.Marshal(map[string]string{
		"q":       text,
		"source":  t.source,
		"target":  t.target,
		"format":  "text",
		"api_key": t.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("encode translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read translate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("translate response missing text")
	}
	return out.TranslatedText, nil
}
