// Package purchase provides the HTTP client for the carrier's transaction
// surface: Quote, Purchase, and Status.
package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/carriermax/orderflow/internal/auth"
	"github.com/carriermax/orderflow/internal/models"
)

// OrderLine is one line of a carrier quote or purchase request. PlanName
// must be the canonical catalog display name; the carrier keys on it.
type OrderLine struct {
	LineNumber int            `json:"lineNumber"`
	PlanName   string         `json:"planName"`
	SimType    models.SimType `json:"simType"`
	ICCID      string         `json:"iccId,omitempty"`
}

// QuoteRequest asks the carrier to price an order. CollectionAmount is
// always zero at quote time.
type QuoteRequest struct {
	ClientAccountID  string                 `json:"clientAccountId"`
	CollectionAmount float64                `json:"collectionAmount"`
	Lines            []OrderLine            `json:"lines"`
	Shipping         models.ShippingAddress `json:"shippingAddress"`
}

// ChargeTotal is a priced charge block in a quote response.
type ChargeTotal struct {
	Total    float64 `json:"total"`
	Currency string  `json:"currency,omitempty"`
}

// QuoteResponse is the carrier's reply to a quote.
type QuoteResponse struct {
	QuoteID       string       `json:"quoteId,omitempty"`
	OneTimeCharge *ChargeTotal `json:"oneTimeCharge"`
}

// PurchaseRequest commits a previously quoted order. ClientAccountID must be
// the exact id used for the quote, and CollectionAmount the quote's total.
type PurchaseRequest struct {
	ClientAccountID  string                 `json:"clientAccountId"`
	QuoteID          string                 `json:"quoteId,omitempty"`
	CollectionAmount float64                `json:"collectionAmount"`
	Lines            []OrderLine            `json:"lines"`
	Shipping         models.ShippingAddress `json:"shippingAddress"`
}

// PurchaseResponse is the carrier's reply to a purchase.
type PurchaseResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status,omitempty"`
}

// StatusResponse is one poll of a purchase transaction.
type StatusResponse struct {
	OrderStatus      string `json:"orderStatus,omitempty"`
	PaymentStatus    string `json:"paymentStatus,omitempty"`
	PaymentURL       string `json:"paymentUrl,omitempty"`
	PaymentURLExpiry string `json:"paymentUrlExpiresAt,omitempty"`
}

// CarrierClient is the three-call transaction surface the orchestrator
// drives. Implementations handle transport-level concerns only; retry and
// backoff policy lives in the orchestrator.
type CarrierClient interface {
	Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error)
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error)
	Status(ctx context.Context, transactionID string) (*StatusResponse, error)
}

// HTTPCarrierClient talks to the carrier's order API. Every call checks
// token freshness through the auth provider first, so requests never go out
// with a token about to expire.
type HTTPCarrierClient struct {
	baseURL    string
	tenant     string
	tokens     *auth.Provider
	httpClient *http.Client
}

// NewHTTPCarrierClient creates a carrier client rooted at baseURL.
func NewHTTPCarrierClient(baseURL, tenant string, tokens *auth.Provider) *HTTPCarrierClient {
	return &HTTPCarrierClient{
		baseURL:    baseURL,
		tenant:     tenant,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Quote prices an order with the carrier.
func (c *HTTPCarrierClient) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	var out QuoteResponse
	status, body, err := c.postJSON(ctx, "/orders/quote", req, &out)
	if err != nil {
		return nil, &QuoteError{StatusCode: status, Body: body, Err: err}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &QuoteError{StatusCode: status, Body: body}
	}
	return &out, nil
}

// Purchase commits a quoted order.
func (c *HTTPCarrierClient) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error) {
	var out PurchaseResponse
	status, body, err := c.postJSON(ctx, "/orders/purchase", req, &out)
	if err != nil {
		return nil, &PurchaseError{StatusCode: status, Body: body, Err: err}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &PurchaseError{StatusCode: status, Body: body}
	}
	return &out, nil
}

// Status polls a purchase transaction. A 404 maps to NotFoundError, which
// the orchestrator treats as fatal.
func (c *HTTPCarrierClient) Status(ctx context.Context, transactionID string) (*StatusResponse, error) {
	token, err := c.tokens.Token(ctx, c.tenant)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/orders/status/"+url.PathEscape(transactionID), nil)
	if err != nil {
		return nil, &StatusError{Err: fmt.Errorf("failed to build status request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("HTTPCarrierClient status request failed", "error", err, "transactionID", transactionID)
		return nil, &StatusError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{TransactionID: transactionID}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out StatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode status response: %w", err)}
	}
	return &out, nil
}

// postJSON posts a JSON body and decodes a JSON reply. Returns the HTTP
// status, the raw body for diagnostics, and any transport/encoding error.
func (c *HTTPCarrierClient) postJSON(ctx context.Context, path string, in, out interface{}) (int, string, error) {
	token, err := c.tokens.Token(ctx, c.tenant)
	if err != nil {
		return 0, "", err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("HTTPCarrierClient request failed", "error", err, "path", path)
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, string(body), fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, string(body), nil
}
