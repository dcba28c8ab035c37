// Package models defines purchase transaction structures for orderflow.
package models

// TransactionState is one step of the quote/purchase/status workflow.
type TransactionState string

const (
	TxInitial        TransactionState = "INITIAL"
	TxValidating     TransactionState = "VALIDATING"
	TxQuoting        TransactionState = "QUOTING"
	TxQuoted         TransactionState = "QUOTED"
	TxPurchasing     TransactionState = "PURCHASING"
	TxPurchased      TransactionState = "PURCHASED"
	TxPolling        TransactionState = "POLLING"
	TxCompleted      TransactionState = "COMPLETED"
	TxFailed         TransactionState = "FAILED"
	TxPollingTimeout TransactionState = "POLLING_TIMEOUT"
)

// Terminal reports whether no further automatic transitions occur from s.
func (s TransactionState) Terminal() bool {
	switch s {
	case TxCompleted, TxFailed, TxPollingTimeout:
		return true
	default:
		return false
	}
}

// PurchaseTransaction tracks one checkout attempt against the carrier. It is
// ephemeral: created when an attempt starts and discarded when it ends. A
// later attempt can re-enter status polling from the TransactionID alone.
type PurchaseTransaction struct {
	State            TransactionState `json:"state"`
	ClientAccountID  string           `json:"client_account_id,omitempty"`
	TransactionID    string           `json:"transaction_id,omitempty"`
	QuoteTotal       float64          `json:"quote_total,omitempty"`
	PaymentStatus    string           `json:"payment_status,omitempty"`
	OrderStatus      string           `json:"order_status,omitempty"`
	PaymentURL       string           `json:"payment_url,omitempty"`
	PaymentURLExpiry string           `json:"payment_url_expiry,omitempty"`
	PollAttempts     int              `json:"poll_attempts"`
}

// ShippingAddress is the delivery address required for every purchase. All
// eight fields must be non-empty to pass validation.
type ShippingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// MissingFields returns the names of all empty address fields.
func (a ShippingAddress) MissingFields() []string {
	var missing []string
	fields := []struct {
		name  string
		value string
	}{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
		{"phone", a.Phone},
		{"email", a.Email},
	}
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// CheckoutLine is one line of the assembled checkout payload.
type CheckoutLine struct {
	LineNumber int     `json:"line_number"`
	PlanID     string  `json:"plan_id"`
	PlanName   string  `json:"plan_name,omitempty"`
	DeviceID   string  `json:"device_id,omitempty"`
	SimType    SimType `json:"sim_type"`
	SimICCID   string  `json:"sim_icc_id,omitempty"`
}

// CheckoutPayload is the finalized order handed to the purchase orchestrator.
type CheckoutPayload struct {
	SessionID string          `json:"session_id"`
	Tenant    string          `json:"tenant,omitempty"`
	Lines     []CheckoutLine  `json:"lines"`
	Shipping  ShippingAddress `json:"shipping"`
}

// PurchaseResult is what a checkout or status call reports back to the
// caller. It always retains enough context (TransactionID, ClientAccountID,
// last known state) for a later status call to pick up the thread.
type PurchaseResult struct {
	State            TransactionState `json:"state"`
	TransactionID    string           `json:"transaction_id,omitempty"`
	ClientAccountID  string           `json:"client_account_id,omitempty"`
	PaymentStatus    string           `json:"payment_status,omitempty"`
	OrderStatus      string           `json:"order_status,omitempty"`
	PaymentURL       string           `json:"payment_url,omitempty"`
	PaymentURLExpiry string           `json:"payment_url_expiry,omitempty"`
	Total            float64          `json:"total,omitempty"`
	PollAttempts     int              `json:"poll_attempts"`
	Message          string           `json:"message,omitempty"`
}
