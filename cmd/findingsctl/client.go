package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inspectio/finding-overrides/pkg/authn"
)

// apiPrefix is where the server mounts the findings API.
const apiPrefix = "/api/findings/v1"

type findingsClient struct {
	baseURL string
	actor   string
	role    string
	token   string
	http    *http.Client
}

func newClient(opts *options) *findingsClient {
	return &findingsClient{
		baseURL: strings.TrimSuffix(opts.serverURL, "/"),
		actor:   opts.actor,
		role:    opts.role,
		token:   opts.token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *findingsClient) get(ctx context.Context, path string, query url.Values, v any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, v)
}

func (c *findingsClient) post(ctx context.Context, path string, body, v any) error {
	return c.do(ctx, http.MethodPost, path, body, v)
}

func (c *findingsClient) delete(ctx context.Context, path string, v any) error {
	return c.do(ctx, http.MethodDelete, path, nil, v)
}

// do sends a request under the API prefix and decodes a 2xx JSON response
// into v. Error bodies of the form {"error": "..."} are surfaced verbatim.
func (c *findingsClient) do(ctx context.Context, method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(authn.PrincipalHeader, c.actor)
	}
	if c.role != "" {
		req.Header.Set(authn.RoleHeader, c.role)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func findingPath(id string, rest ...string) string {
	parts := append([]string{"/findings", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}
