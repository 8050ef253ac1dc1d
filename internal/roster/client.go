// Package roster talks to the remote fleet API's bulk roster endpoint.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fleet-sync/internal/fleet"
)

// Client fetches device identity records from the authenticated roster
// endpoint. It is consumed once per sync cycle.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a roster client for the given endpoint URL.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs the authenticated GET and decodes the device identity
// records. It implements fleet.RosterFetcher.
func (c *Client) Fetch(ctx context.Context, token string) ([]fleet.RosterDevice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create roster request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster response: %w", err)
	}

	var records []fleet.RosterDevice
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster response: %w", err)
	}
	return records, nil
}
