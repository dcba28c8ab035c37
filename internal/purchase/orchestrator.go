// Package purchase provides the orchestrator that turns a finalized
// checkout payload into a paid order through the carrier's three-call
// workflow: Quote, Purchase, then Status polling.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carriermax/orderflow/internal/catalog"
	"github.com/carriermax/orderflow/internal/models"
)

// Polling defaults applied when CheckoutOptions leaves a field zero.
const (
	DefaultMaxPollAttempts  = 10
	DefaultPollInterval     = 5 * time.Second
	DefaultInitialPollDelay = 2 * time.Second
	DefaultMaxBackoffDelay  = 60 * time.Second
)

// Carrier status values with terminal meaning.
const (
	orderStatusDone       = "DONE"
	orderStatusFailed     = "FAILED"
	paymentStatusSuccess  = "SUCCESS"
	paymentStatusApproved = "APPROVED"
	paymentStatusFailed   = "FAILED"
)

// CheckoutOptions tunes one checkout attempt.
type CheckoutOptions struct {
	SkipPolling      bool
	MaxPollAttempts  int
	PollInterval     time.Duration
	InitialPollDelay time.Duration
	MaxBackoffDelay  time.Duration
}

func (o CheckoutOptions) withDefaults() CheckoutOptions {
	if o.MaxPollAttempts <= 0 {
		o.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.InitialPollDelay <= 0 {
		o.InitialPollDelay = DefaultInitialPollDelay
	}
	if o.MaxBackoffDelay <= 0 {
		o.MaxBackoffDelay = DefaultMaxBackoffDelay
	}
	return o
}

// Orchestrator drives a checkout attempt to a terminal state. It raises
// typed errors for anything fatal but returns POLLING_TIMEOUT as a partial
// result: the purchase exists, the caller just has to check back.
type Orchestrator struct {
	client CarrierClient
	plans  catalog.PlanFetcher
}

// NewOrchestrator creates an Orchestrator. plans may be nil, in which case
// the payload's own plan names are used without catalog enrichment.
func NewOrchestrator(client CarrierClient, plans catalog.PlanFetcher) *Orchestrator {
	slog.Debug("Creating purchase Orchestrator", "hasPlanFetcher", plans != nil)
	return &Orchestrator{client: client, plans: plans}
}

// Checkout runs one full attempt: validate, quote, purchase, then poll. One
// clientAccountId is generated for the attempt and shared by the quote and
// purchase calls; reusing it is what keeps a retried purchase from creating
// an orphaned quote on the carrier side. Two attempts never share one.
func (o *Orchestrator) Checkout(ctx context.Context, payload models.CheckoutPayload, opts CheckoutOptions) (*models.PurchaseResult, error) {
	opts = opts.withDefaults()
	tx := &models.PurchaseTransaction{State: models.TxInitial}
	slog.Info("Orchestrator.Checkout starting", "sessionID", payload.SessionID, "lines", len(payload.Lines))

	tx.State = models.TxValidating
	if violations := validatePayload(payload); len(violations) > 0 {
		slog.Warn("Orchestrator.Checkout validation failed", "sessionID", payload.SessionID, "violations", violations)
		return nil, &FlowError{State: tx.State, Err: &ValidationError{Violations: violations}}
	}

	lines, err := o.buildOrderLines(ctx, payload)
	if err != nil {
		return nil, &FlowError{State: tx.State, Err: err}
	}
	shipping := payload.Shipping
	shipping.State = models.NormalizeStateCode(shipping.State)

	tx.State = models.TxQuoting
	tx.ClientAccountID = uuid.NewString()
	quote, err := o.client.Quote(ctx, QuoteRequest{
		ClientAccountID:  tx.ClientAccountID,
		CollectionAmount: 0,
		Lines:            lines,
		Shipping:         shipping,
	})
	if err != nil {
		slog.Error("Orchestrator.Checkout quote failed", "error", err, "clientAccountID", tx.ClientAccountID)
		return nil, &FlowError{State: tx.State, Err: err}
	}
	if quote.OneTimeCharge == nil {
		return nil, &FlowError{State: tx.State, Err: &QuoteError{Err: fmt.Errorf("quote response missing one-time charge total")}}
	}
	tx.QuoteTotal = quote.OneTimeCharge.Total
	tx.State = models.TxQuoted
	slog.Info("Orchestrator.Checkout quoted", "clientAccountID", tx.ClientAccountID, "total", tx.QuoteTotal)

	tx.State = models.TxPurchasing
	presp, err := o.client.Purchase(ctx, PurchaseRequest{
		ClientAccountID:  tx.ClientAccountID,
		QuoteID:          quote.QuoteID,
		CollectionAmount: tx.QuoteTotal,
		Lines:            lines,
		Shipping:         shipping,
	})
	if err != nil {
		slog.Error("Orchestrator.Checkout purchase failed", "error", err, "clientAccountID", tx.ClientAccountID)
		return nil, &FlowError{State: tx.State, Err: err}
	}
	if presp.TransactionID == "" {
		// Even a 200 without a transaction id is fatal: every status poll
		// needs it.
		return nil, &FlowError{State: tx.State, Err: &PurchaseError{Err: fmt.Errorf("purchase response missing transactionId")}}
	}
	tx.TransactionID = presp.TransactionID
	tx.State = models.TxPurchased
	slog.Info("Orchestrator.Checkout purchased", "transactionID", tx.TransactionID, "clientAccountID", tx.ClientAccountID)

	if opts.SkipPolling {
		tx.State = models.TxCompleted
		return resultFrom(tx, "purchase created; polling skipped"), nil
	}

	tx.State = models.TxPolling
	return o.poll(ctx, tx, opts)
}

// CheckStatus re-enters the workflow from a transaction id alone, for a
// purchase created earlier (possibly by a previous process). One status
// call, interpreted with the same terminal rules as the polling loop.
func (o *Orchestrator) CheckStatus(ctx context.Context, transactionID string) (*models.PurchaseResult, error) {
	if transactionID == "" {
		return nil, &FlowError{State: models.TxPolling, Err: &ValidationError{Violations: []string{"transaction id required"}}}
	}
	tx := &models.PurchaseTransaction{State: models.TxPolling, TransactionID: transactionID}
	slog.Debug("Orchestrator.CheckStatus invoked", "transactionID", transactionID)

	st, err := o.client.Status(ctx, transactionID)
	if err != nil {
		slog.Error("Orchestrator.CheckStatus failed", "error", err, "transactionID", transactionID)
		return nil, &FlowError{State: tx.State, Err: err}
	}
	tx.PollAttempts = 1
	if done, result := evaluateStatus(tx, st); done {
		return result, nil
	}
	return resultFrom(tx, "purchase still processing; check again later"), nil
}

// poll waits the initial delay, then polls status up to the attempt budget.
// A transport error other than not-found backs off exponentially and keeps
// going on the same budget; not-found aborts. The caller's context cancels
// the loop between polls without touching the carrier-side transaction.
func (o *Orchestrator) poll(ctx context.Context, tx *models.PurchaseTransaction, opts CheckoutOptions) (*models.PurchaseResult, error) {
	if !sleepCtx(ctx, opts.InitialPollDelay) {
		return cancelledResult(tx), nil
	}

	for attempt := 0; attempt < opts.MaxPollAttempts; attempt++ {
		tx.PollAttempts = attempt + 1
		st, err := o.client.Status(ctx, tx.TransactionID)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				slog.Error("Orchestrator.poll transaction not found, aborting", "transactionID", tx.TransactionID)
				return nil, &FlowError{State: tx.State, Err: err}
			}
			if ctx.Err() != nil {
				return cancelledResult(tx), nil
			}
			backoff := opts.PollInterval * (1 << attempt)
			if backoff > opts.MaxBackoffDelay {
				backoff = opts.MaxBackoffDelay
			}
			slog.Warn("Orchestrator.poll transient status error, backing off",
				"error", err, "transactionID", tx.TransactionID, "attempt", tx.PollAttempts, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return cancelledResult(tx), nil
			}
			continue
		}

		if done, result := evaluateStatus(tx, st); done {
			slog.Info("Orchestrator.poll reached terminal state",
				"transactionID", tx.TransactionID, "state", result.State, "attempts", tx.PollAttempts)
			return result, nil
		}
		slog.Debug("Orchestrator.poll not terminal yet",
			"transactionID", tx.TransactionID, "attempt", tx.PollAttempts,
			"orderStatus", tx.OrderStatus, "paymentStatus", tx.PaymentStatus)
		if attempt < opts.MaxPollAttempts-1 {
			if !sleepCtx(ctx, opts.PollInterval) {
				return cancelledResult(tx), nil
			}
		}
	}

	// Attempt budget exhausted without a terminal status. The purchase was
	// created, so this is a partial success, not a failure.
	tx.State = models.TxPollingTimeout
	slog.Warn("Orchestrator.poll exhausted attempts", "transactionID", tx.TransactionID, "attempts", tx.PollAttempts)
	return resultFrom(tx, "purchase created but status is not final yet; check status again later"), nil
}

// evaluateStatus folds one status response into the transaction and reports
// whether a terminal result was reached. A payment URL short-circuits to
// COMPLETED immediately, even before payment reaches a terminal status: the
// URL is the artifact the caller needs, and more polling would only delay it.
func evaluateStatus(tx *models.PurchaseTransaction, st *StatusResponse) (bool, *models.PurchaseResult) {
	tx.OrderStatus = st.OrderStatus
	tx.PaymentStatus = st.PaymentStatus
	if st.PaymentURL != "" {
		tx.PaymentURL = st.PaymentURL
		tx.PaymentURLExpiry = st.PaymentURLExpiry
		tx.State = models.TxCompleted
		return true, resultFrom(tx, "payment link ready")
	}
	if st.OrderStatus == orderStatusDone || st.PaymentStatus == paymentStatusSuccess || st.PaymentStatus == paymentStatusApproved {
		tx.State = models.TxCompleted
		return true, resultFrom(tx, "purchase completed")
	}
	if st.OrderStatus == orderStatusFailed || st.PaymentStatus == paymentStatusFailed {
		tx.State = models.TxFailed
		return true, resultFrom(tx, "carrier reported the purchase as failed")
	}
	return false, nil
}

// validatePayload checks the structural rules for a checkout payload and
// returns every violation. This orchestrator only sells plan-only line
// items: a device on any line is a hard validation failure, not silently
// dropped.
func validatePayload(payload models.CheckoutPayload) []string {
	var violations []string
	for _, field := range payload.Shipping.MissingFields() {
		violations = append(violations, "shipping."+field+" is required")
	}
	if len(payload.Lines) == 0 {
		violations = append(violations, "cart has no lines")
	}
	for _, line := range payload.Lines {
		if line.PlanID == "" && line.PlanName == "" {
			violations = append(violations, fmt.Sprintf("line %d: plan is required", line.LineNumber))
		}
		if line.SimType == "" {
			violations = append(violations, fmt.Sprintf("line %d: sim type is required", line.LineNumber))
		}
		if line.DeviceID != "" {
			violations = append(violations, fmt.Sprintf("line %d: devices cannot be included in a plan-only purchase", line.LineNumber))
		}
	}
	return violations
}

// buildOrderLines enriches each payload line with the canonical catalog
// display name for its plan, stripping any data-quantity annotation.
func (o *Orchestrator) buildOrderLines(ctx context.Context, payload models.CheckoutPayload) ([]OrderLine, error) {
	lines := make([]OrderLine, 0, len(payload.Lines))
	for _, cl := range payload.Lines {
		name := cl.PlanName
		if o.plans != nil && cl.PlanID != "" {
			plan, err := o.plans.PlanByID(ctx, cl.PlanID)
			if err != nil {
				if name == "" {
					return nil, fmt.Errorf("failed to resolve plan %q for line %d: %w", cl.PlanID, cl.LineNumber, err)
				}
				slog.Warn("Orchestrator.buildOrderLines catalog lookup failed, using payload plan name",
					"error", err, "planID", cl.PlanID, "line", cl.LineNumber)
			} else {
				name = plan.DisplayName
			}
		}
		if name == "" {
			return nil, fmt.Errorf("no plan name available for line %d", cl.LineNumber)
		}
		lines = append(lines, OrderLine{
			LineNumber: cl.LineNumber,
			PlanName:   catalog.CanonicalPlanName(name),
			SimType:    cl.SimType,
			ICCID:      cl.SimICCID,
		})
	}
	return lines, nil
}

// resultFrom snapshots the transaction into a caller-facing result.
func resultFrom(tx *models.PurchaseTransaction, message string) *models.PurchaseResult {
	return &models.PurchaseResult{
		State:            tx.State,
		TransactionID:    tx.TransactionID,
		ClientAccountID:  tx.ClientAccountID,
		PaymentStatus:    tx.PaymentStatus,
		OrderStatus:      tx.OrderStatus,
		PaymentURL:       tx.PaymentURL,
		PaymentURLExpiry: tx.PaymentURLExpiry,
		Total:            tx.QuoteTotal,
		PollAttempts:     tx.PollAttempts,
		Message:          message,
	}
}

// cancelledResult reports the last known transaction state after the caller
// cancelled mid-poll. No compensating cancel call exists on the carrier
// side; a later status check can resume from the transaction id.
func cancelledResult(tx *models.PurchaseTransaction) *models.PurchaseResult {
	return resultFrom(tx, "polling cancelled before a terminal state; check status with the transaction id")
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns false
// on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
