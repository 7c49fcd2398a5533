// Package catalogapi provides an HTTP client for the automation catalog service.
package catalogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/domain/catalog"
	catalogport "github.com/Strob0t/OpsPilot/internal/port/catalog"
	"github.com/Strob0t/OpsPilot/internal/resilience"
)

const searchPath = "/catalog/search"

// Client queries the catalog's search endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ catalogport.Lookup = (*Client)(nil)

// NewClient creates a catalog client. Outbound calls carry trace context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otel.Transport(nil),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Lookup returns ranked candidates for q, best first.
func (c *Client) Lookup(ctx context.Context, q catalog.Query) ([]catalog.Candidate, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	data, err := c.doRequest(ctx, http.MethodPost, searchPath, body)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	var result struct {
		Candidates []catalog.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}
	if q.Limit > 0 && len(result.Candidates) > q.Limit {
		result.Candidates = result.Candidates[:q.Limit]
	}
	return result.Candidates, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("catalog API error %d: %s", resp.StatusCode, data)
		case resp.StatusCode >= 400:
			return resilience.Permanent(fmt.Errorf("catalog API error %d: %s", resp.StatusCode, data))
		}
		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Call(ctx, call); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := call(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
