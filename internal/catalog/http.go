// Package catalog provides the HTTP implementation of the catalog fetchers.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/carriermax/orderflow/internal/auth"
)

// HTTPCatalog fetches catalog entities from the carrier's catalog service.
type HTTPCatalog struct {
	baseURL    string
	tenant     string
	tokens     *auth.Provider
	httpClient *http.Client
}

// NewHTTPCatalog creates a catalog client rooted at baseURL.
func NewHTTPCatalog(baseURL, tenant string, tokens *auth.Provider) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL:    baseURL,
		tenant:     tenant,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// PlanByID looks up one plan.
func (c *HTTPCatalog) PlanByID(ctx context.Context, id string) (*Plan, error) {
	var plan Plan
	if err := c.getJSON(ctx, "/catalog/plans/"+url.PathEscape(id), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// DeviceByID looks up one device.
func (c *HTTPCatalog) DeviceByID(ctx context.Context, id string) (*Device, error) {
	var device Device
	if err := c.getJSON(ctx, "/catalog/devices/"+url.PathEscape(id), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// OffersForDevice lists protection offers applicable to a device.
func (c *HTTPCatalog) OffersForDevice(ctx context.Context, deviceID string) ([]Offer, error) {
	var offers []Offer
	if err := c.getJSON(ctx, "/catalog/devices/"+url.PathEscape(deviceID)+"/offers", &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

func (c *HTTPCatalog) getJSON(ctx context.Context, path string, out interface{}) error {
	token, err := c.tokens.Token(ctx, c.tenant)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("HTTPCatalog request failed", "error", err, "path", path)
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read catalog response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("HTTPCatalog non-OK response", "status", resp.StatusCode, "path", path)
		return fmt.Errorf("catalog returned status %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode catalog response for %s: %w", path, err)
	}
	return nil
}
