// Package catalog fetches server-side catalog resources over the HTTP API:
// the assistants available to converse with and the starter prompts shown
// before the first message.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nuvola-ai/converse-go/pkg/types"
)

const defaultHTTPTimeout = 15 * time.Second

// TokenSource supplies the bearer token for catalog requests. Implemented by
// the auth manager.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the catalog API client.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewClient builds a catalog client for the given API base URL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Assistants lists the assistants available to this account.
func (c *Client) Assistants(ctx context.Context) ([]types.Assistant, error) {
	var resp struct {
		Assistants []types.Assistant `json:"assistants"`
	}
	if err := c.get(ctx, "/v1/catalog/assistants", &resp); err != nil {
		return nil, err
	}
	return resp.Assistants, nil
}

// Prompts lists the starter prompts for new sessions.
func (c *Client) Prompts(ctx context.Context) ([]types.Prompt, error) {
	var resp struct {
		Prompts []types.Prompt `json:"prompts"`
	}
	if err := c.get(ctx, "/v1/catalog/prompts", &resp); err != nil {
		return nil, err
	}
	return resp.Prompts, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("server URL not set")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog auth: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return respBody, nil
}
