package validity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ETAClient calls the logistics collaborator over HTTP to estimate a
// delivery timestamp for a destination.  The request carries a
// bounded timeout; it is one of only two network calls the engine
// ever blocks on, and it is never made while holding a ledger lock.
type ETAClient struct {
	baseURL string
	client  *http.Client
}

// NewETAClient returns an ETAClient for the given base URL with the
// given request timeout.
func NewETAClient(baseURL string, timeout time.Duration) *ETAClient {
	return &ETAClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Estimate asks the logistics service for the estimated delivery time
// to destination.  Any transport or decode failure is returned as an
// error; the evaluator maps it to the eta_unavailable rejection.
func (c *ETAClient) Estimate(ctx context.Context, destination string) (time.Time, error) {
	u := fmt.Sprintf("%s/v1/eta?destination=%s", c.baseURL, url.QueryEscape(destination))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("eta: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("eta: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("eta: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		EstimatedDelivery time.Time `json:"estimated_delivery"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("eta: decode response: %w", err)
	}
	return body.EstimatedDelivery.UTC(), nil
}

// RestockClient asks the farm service when an item will next be
// restocked.  Errors are tolerated by the evaluator, which simply
// omits the suggestion.
type RestockClient struct {
	baseURL string
	client  *http.Client
}

// NewRestockClient returns a RestockClient for the given base URL.
func NewRestockClient(baseURL string, timeout time.Duration) *RestockClient {
	return &RestockClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NextRestock returns the next planned restock date for the item.
func (c *RestockClient) NextRestock(ctx context.Context, itemID uint64) (time.Time, error) {
	u := fmt.Sprintf("%s/v1/restock/%d", c.baseURL, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("restock: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("restock: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("restock: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		NextRestock time.Time `json:"next_restock"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("restock: decode response: %w", err)
	}
	return body.NextRestock.UTC(), nil
}
