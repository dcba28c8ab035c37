// Package catalog provides read-only lookups for plans, devices, and offers.
//
// The purchase orchestrator uses it to enrich a plan with its canonical
// display name before building the purchase payload: the carrier purchase
// API keys on the exact catalog-provided display name, with any embedded
// data-quantity annotation stripped.
package catalog

import (
	"context"
	"regexp"
	"strings"
)

// Plan is one rate plan from the catalog.
type Plan struct {
	ID          string  `json:"id"`
	ServiceCode string  `json:"service_code,omitempty"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	DataQuota   string  `json:"data_quota,omitempty"`
}

// Device is one handset from the catalog.
type Device struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	Brand       string  `json:"brand,omitempty"`
}

// Offer is a protection or add-on offer tied to a device or plan.
type Offer struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	OfferType   string  `json:"offer_type,omitempty"`
}

// PlanFetcher looks up plans by id or service code.
type PlanFetcher interface {
	PlanByID(ctx context.Context, id string) (*Plan, error)
}

// DeviceFetcher looks up devices by id.
type DeviceFetcher interface {
	DeviceByID(ctx context.Context, id string) (*Device, error)
}

// OfferFetcher lists offers applicable to a plan or device.
type OfferFetcher interface {
	OffersForDevice(ctx context.Context, deviceID string) ([]Offer, error)
}

// dataQuotaAnnotation matches embedded data-quantity annotations like
// "(50GB)" or "(10 GB)" in plan display names.
var dataQuotaAnnotation = regexp.MustCompile(`\s*\(\s*\d+\s*[GMT]B\s*\)`)

// CanonicalPlanName strips data-quantity annotations from a plan display
// name, yielding the identifier the purchase API expects.
// "Freedom Plus (50GB)" becomes "Freedom Plus".
func CanonicalPlanName(displayName string) string {
	return strings.TrimSpace(dataQuotaAnnotation.ReplaceAllString(displayName, ""))
}
