// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// maxErrorBodySize limits how much of an error response is read for diagnostics.
const maxErrorBodySize = 64 * 1024

// readBodyForError reads at most maxErrorBodySize bytes of r.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// HTTPConfig configures an HTTPStore.
type HTTPConfig struct {
	BaseURL string
	Token   string

	// Timeout bounds each HTTP round trip. Callers usually also pass a
	// context deadline.
	Timeout time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int

	// MaxRetries bounds retries on HTTP 429.
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// HTTPStore talks to a remote document service over JSON:
//
//	GET    {base}/v1/collections/{collection}/documents/{key}
//	PUT    {base}/v1/collections/{collection}/documents/{key}
//	DELETE {base}/v1/collections/{collection}/documents/{key}
//	GET    {base}/v1/collections/{collection}/documents?{field}={json value}
type HTTPStore struct {
	baseURL        string
	token          string
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// queryResponse is the body of a collection query.
type queryResponse struct {
	Documents []Document `json:"documents"`
}

// NewHTTPStore validates cfg and builds a client.
func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPStore{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		client:         &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(limit, burst),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}, nil
}

func (h *HTTPStore) documentURL(c Collection, key string) string {
	return fmt.Sprintf("%s/v1/collections/%s/documents/%s", h.baseURL, url.PathEscape(string(c)), url.PathEscape(key))
}

// do performs one logical request, retrying on HTTP 429 with exponential
// backoff (or the server's Retry-After). The caller closes the body.
func (h *HTTPStore) do(ctx context.Context, op, method, reqURL string, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, TransportError(op, err)
		}

		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if h.token != "" {
			req.Header.Set("Authorization", "Bearer "+h.token)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, TransportError(op, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_ = resp.Body.Close()

		if attempt >= h.maxRetries {
			return nil, TransportError(op, fmt.Errorf("rate limited after %d retries (HTTP 429)", attempt))
		}
		delay := h.retryBaseDelay * time.Duration(1<<uint(attempt))
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				delay = time.Duration(secs) * time.Second
			}
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, TransportError(op, ctx.Err())
		}
	}
}

// statusError maps a non-success response to ErrNotFound or a transport error.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	body := readBodyForError(resp.Body)
	return TransportError(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
}

// Get implements Store.
func (h *HTTPStore) Get(ctx context.Context, c Collection, key string) (Document, error) {
	if err := validate(c, key); err != nil {
		return nil, err
	}
	resp, err := h.do(ctx, "get", http.MethodGet, h.documentURL(c, key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get", resp)
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, TransportError("get", fmt.Errorf("decode document: %w", err))
	}
	return doc, nil
}

// Put implements Store.
func (h *HTTPStore) Put(ctx context.Context, c Collection, key string, doc Document) error {
	if err := validate(c, key); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	resp, err := h.do(ctx, "put", http.MethodPut, h.documentURL(c, key), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return statusError("put", resp)
	}
	return nil
}

// Delete implements Store.
func (h *HTTPStore) Delete(ctx context.Context, c Collection, key string) error {
	if err := validate(c, key); err != nil {
		return err
	}
	resp, err := h.do(ctx, "delete", http.MethodDelete, h.documentURL(c, key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("delete", resp)
	}
	return nil
}

// Query implements Store.
func (h *HTTPStore) Query(ctx context.Context, c Collection, filters ...Filter) ([]Document, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	params := url.Values{}
	for _, f := range filters {
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", f.Field, err)
		}
		params.Add(f.Field, string(v))
	}
	reqURL := fmt.Sprintf("%s/v1/collections/%s/documents", h.baseURL, url.PathEscape(string(c)))
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := h.do(ctx, "query", http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A missing collection is an empty result, not an error.
		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, statusError("query", resp)
	}
	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, TransportError("query", fmt.Errorf("decode documents: %w", err))
	}
	return out.Documents, nil
}
