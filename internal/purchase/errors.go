// Package purchase drives the carrier's quote/purchase/status workflow.
//
// This file defines the error taxonomy. Validation and external-call
// failures are typed so callers can tell "this failed" from "this is still
// in flight"; FlowError wraps any fatal error with the orchestration state
// at the time of failure.
package purchase

import (
	"fmt"
	"strings"

	"github.com/carriermax/orderflow/internal/models"
)

// ValidationError reports bad or missing checkout input. Never retried; all
// violations are listed, not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout validation failed: %s", strings.Join(e.Violations, "; "))
}

// QuoteError is a failed carrier quote call.
type QuoteError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *QuoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quote call failed: %v", e.Err)
	}
	return fmt.Sprintf("quote call returned status %d: %s", e.StatusCode, e.Body)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// PurchaseError is a failed carrier purchase call.
type PurchaseError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *PurchaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("purchase call failed: %v", e.Err)
	}
	return fmt.Sprintf("purchase call returned status %d: %s", e.StatusCode, e.Body)
}

func (e *PurchaseError) Unwrap() error { return e.Err }

// StatusError is a failed carrier status call.
type StatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status call failed: %v", e.Err)
	}
	return fmt.Sprintf("status call returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NotFoundError means the carrier does not know the transaction id. Fatal;
// polling an unknown transaction cannot succeed later.
type NotFoundError struct {
	TransactionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %q not found", e.TransactionID)
}

// FlowError wraps a fatal error with the orchestration state when it
// occurred, for caller-visible "failed at step X" messaging.
type FlowError struct {
	State models.TransactionState
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("purchase failed at %s: %v", e.State, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }
