// Package gateway is the client side of the snapshot persistence contract:
// fetch an entity's metadata and canonical snapshot, persist new snapshots,
// and mirror the title as a plain field for listing and search.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Entity is the document metadata served by the backend. YjsUpdate is the
// base64-encoded canonical snapshot; FallbackContent is the legacy HTML
// body for documents without collaborative history. Either may be empty.
type Entity struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	YjsUpdate       string `json:"yjsUpdate,omitempty"`
	FallbackContent string `json:"fallbackContent,omitempty"`
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the backend REST API. Requests carry no client-side
// timeout: a hung save just delays that cycle, and the periodic save is the
// structural retry. Callers bound fetches with their context when needed.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a gateway client for the given backend base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

// NewWithHTTPClient creates a gateway client using the provided HTTP client.
func NewWithHTTPClient(baseURL string, httpc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

// FetchEntity loads an entity's title, canonical snapshot, and fallback
// content from GET /{collection}/{id}.
func (c *Client) FetchEntity(ctx context.Context, collection, id string) (Entity, error) {
	var entity Entity
	if err := c.do(ctx, http.MethodGet, c.url(collection, id), nil, &entity); err != nil {
		return Entity{}, fmt.Errorf("fetch %s/%s: %w", collection, id, err)
	}
	return entity, nil
}

// SaveSnapshot persists the canonical snapshot via
// PATCH /{collection}/{id}/yjs-update. Idempotent on the backend.
func (c *Client) SaveSnapshot(ctx context.Context, collection, id string, update []byte) error {
	body := map[string]string{"yjsUpdate": base64.StdEncoding.EncodeToString(update)}
	if err := c.do(ctx, http.MethodPatch, c.url(collection, id)+"/yjs-update", body, nil); err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", collection, id, err)
	}
	return nil
}

// SaveTitle persists the plain-text title mirror via
// PATCH /{collection}/{id}.
func (c *Client) SaveTitle(ctx context.Context, collection, id, title string) error {
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPatch, c.url(collection, id), body, nil); err != nil {
		return fmt.Errorf("save title %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *Client) url(collection, id string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, collection, id)
}

func (c *Client) do(ctx context.Context, method, url string, body, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
