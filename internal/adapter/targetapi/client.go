// Package targetapi fetches target snapshots from the fleet agent API.
package targetapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/target"
	targetport "github.com/Strob0t/OpsPilot/internal/port/target"
	"github.com/Strob0t/OpsPilot/internal/resilience"
)

// Client implements target.Provider over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ targetport.Provider = (*Client)(nil)

// NewClient creates a target snapshot client.
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

// Snapshot returns the current state of targetID. An unknown target yields
// an error wrapping domain.ErrNotFound.
func (c *Client) Snapshot(ctx context.Context, targetID string) (*target.Snapshot, error) {
	if targetID == "" {
		return nil, fmt.Errorf("target id: %w", domain.ErrValidation)
	}

	var snap target.Snapshot
	call := func(ctx context.Context) error {
		path := "/targets/" + url.PathEscape(targetID) + "/snapshot"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

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
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(fmt.Errorf("target %s: %w", targetID, domain.ErrNotFound))
		case resp.StatusCode >= 500:
			return fmt.Errorf("target API error %d: %s", resp.StatusCode, data)
		case resp.StatusCode >= 400:
			return resilience.Permanent(fmt.Errorf("target API error %d: %s", resp.StatusCode, data))
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return resilience.Permanent(fmt.Errorf("unmarshal snapshot: %w", err))
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("target snapshot: %w", err)
	}
	if snap.TargetID == "" {
		snap.TargetID = targetID
	}
	return &snap, nil
}
