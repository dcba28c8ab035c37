package purchase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/carriermax/orderflow/internal/catalog"
	"github.com/carriermax/orderflow/internal/models"
)

// statusStep is one scripted reply from the mock carrier's status endpoint.
type statusStep struct {
	resp *StatusResponse
	err  error
}

// mockCarrier scripts the three-call carrier surface and records every
// request for assertions.
type mockCarrier struct {
	quoteReqs    []QuoteRequest
	purchaseReqs []PurchaseRequest
	statusCalls  int

	quoteResp    *QuoteResponse
	quoteErr     error
	purchaseResp *PurchaseResponse
	purchaseErr  error
	statusSteps  []statusStep
}

func (m *mockCarrier) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	m.quoteReqs = append(m.quoteReqs, req)
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	return m.quoteResp, nil
}

func (m *mockCarrier) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error) {
	m.purchaseReqs = append(m.purchaseReqs, req)
	if m.purchaseErr != nil {
		return nil, m.purchaseErr
	}
	return m.purchaseResp, nil
}

func (m *mockCarrier) Status(ctx context.Context, transactionID string) (*StatusResponse, error) {
	step := m.statusSteps[len(m.statusSteps)-1]
	if m.statusCalls < len(m.statusSteps) {
		step = m.statusSteps[m.statusCalls]
	}
	m.statusCalls++
	return step.resp, step.err
}

// mockPlanFetcher scripts catalog plan lookups.
type mockPlanFetcher struct {
	plans map[string]*catalog.Plan
	err   error
}

func (m *mockPlanFetcher) PlanByID(ctx context.Context, id string) (*catalog.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	plan, ok := m.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %q not in catalog", id)
	}
	return plan, nil
}

func validPayload() models.CheckoutPayload {
	return models.CheckoutPayload{
		SessionID: "s1",
		Lines: []models.CheckoutLine{
			{LineNumber: 1, PlanID: "plan-40", PlanName: "Freedom Plus (50GB)", SimType: models.SimTypeESIM},
			{LineNumber: 2, PlanID: "plan-25", PlanName: "Starter (10GB)", SimType: models.SimTypePhysical},
		},
		Shipping: models.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Street: "1 Main St", City: "Austin",
			State: "Texas", ZipCode: "78701", Phone: "5551234567", Email: "ada@example.com",
		},
	}
}

func newMockCarrier() *mockCarrier {
	return &mockCarrier{
		quoteResp:    &QuoteResponse{QuoteID: "q-1", OneTimeCharge: &ChargeTotal{Total: 65}},
		purchaseResp: &PurchaseResponse{TransactionID: "tx-1"},
		statusSteps:  []statusStep{{resp: &StatusResponse{OrderStatus: "DONE"}}},
	}
}

func fastOpts() CheckoutOptions {
	return CheckoutOptions{
		MaxPollAttempts:  3,
		PollInterval:     time.Millisecond,
		InitialPollDelay: time.Millisecond,
		MaxBackoffDelay:  5 * time.Millisecond,
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	carrier := newMockCarrier()
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if result.State != models.TxCompleted {
		t.Errorf("Expected COMPLETED, got %s", result.State)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("Expected transaction tx-1, got %q", result.TransactionID)
	}
	if result.Total != 65 {
		t.Errorf("Expected total 65, got %v", result.Total)
	}
	if result.PollAttempts != 1 {
		t.Errorf("Expected 1 poll attempt, got %d", result.PollAttempts)
	}
	if len(carrier.quoteReqs) != 1 || len(carrier.purchaseReqs) != 1 {
		t.Fatalf("Expected one quote and one purchase, got %d/%d", len(carrier.quoteReqs), len(carrier.purchaseReqs))
	}
	if carrier.purchaseReqs[0].CollectionAmount != 65 {
		t.Errorf("Expected purchase to collect the quoted total, got %v", carrier.purchaseReqs[0].CollectionAmount)
	}
	if carrier.quoteReqs[0].CollectionAmount != 0 {
		t.Errorf("Expected quote collection amount 0, got %v", carrier.quoteReqs[0].CollectionAmount)
	}
	if carrier.quoteReqs[0].Shipping.State != "TX" {
		t.Errorf("Expected state normalized to TX, got %q", carrier.quoteReqs[0].Shipping.State)
	}
}

func TestClientAccountIDReusedWithinAttempt(t *testing.T) {
	carrier := newMockCarrier()
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}

	quoteID := carrier.quoteReqs[0].ClientAccountID
	purchaseID := carrier.purchaseReqs[0].ClientAccountID
	if quoteID == "" {
		t.Fatal("Expected a generated clientAccountId")
	}
	if quoteID != purchaseID {
		t.Errorf("Expected quote and purchase to share a clientAccountId, got %q and %q", quoteID, purchaseID)
	}
	if result.ClientAccountID != quoteID {
		t.Errorf("Expected result to carry the clientAccountId %q, got %q", quoteID, result.ClientAccountID)
	}
}

func TestClientAccountIDDistinctAcrossAttempts(t *testing.T) {
	carrier := newMockCarrier()
	orch := NewOrchestrator(carrier, nil)
	ctx := context.Background()

	if _, err := orch.Checkout(ctx, validPayload(), fastOpts()); err != nil {
		t.Fatalf("first Checkout failed: %v", err)
	}
	if _, err := orch.Checkout(ctx, validPayload(), fastOpts()); err != nil {
		t.Fatalf("second Checkout failed: %v", err)
	}
	if carrier.quoteReqs[0].ClientAccountID == carrier.quoteReqs[1].ClientAccountID {
		t.Error("Expected each attempt to generate its own clientAccountId")
	}
}

func TestPaymentURLShortCircuits(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{resp: &StatusResponse{OrderStatus: "PROCESSING", PaymentURL: "https://pay.example.com/tx-1", PaymentURLExpiry: "2026-09-01T00:00:00Z"}},
	}
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if result.State != models.TxCompleted {
		t.Errorf("Expected COMPLETED on payment URL, got %s", result.State)
	}
	if result.PaymentURL != "https://pay.example.com/tx-1" {
		t.Errorf("Expected payment URL in result, got %q", result.PaymentURL)
	}
	if result.PollAttempts != 1 {
		t.Errorf("Expected exactly 1 poll before short-circuit, got %d", result.PollAttempts)
	}
	if carrier.statusCalls != 1 {
		t.Errorf("Expected exactly 1 status call, got %d", carrier.statusCalls)
	}
}

func TestPollingTimeoutIsPartialSuccess(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{resp: &StatusResponse{OrderStatus: "PROCESSING", PaymentStatus: "PENDING"}},
	}
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err != nil {
		t.Fatalf("Expected no error on polling timeout, got %v", err)
	}
	if result.State != models.TxPollingTimeout {
		t.Errorf("Expected POLLING_TIMEOUT, got %s", result.State)
	}
	if result.PollAttempts != 3 {
		t.Errorf("Expected 3 poll attempts, got %d", result.PollAttempts)
	}
	if result.TransactionID == "" {
		t.Error("Expected transaction id retained for a later status check")
	}
}

func TestValidationListsAllViolations(t *testing.T) {
	payload := models.CheckoutPayload{
		SessionID: "s1",
		Lines: []models.CheckoutLine{
			{LineNumber: 1}, // no plan, no sim
		},
		Shipping: models.ShippingAddress{FirstName: "Ada"},
	}
	orch := NewOrchestrator(newMockCarrier(), nil)

	_, err := orch.Checkout(context.Background(), payload, fastOpts())
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected *ValidationError, got %T: %v", err, err)
	}
	// 7 missing shipping fields + missing plan + missing sim type.
	if len(vErr.Violations) != 9 {
		t.Errorf("Expected 9 violations, got %d: %v", len(vErr.Violations), vErr.Violations)
	}
	var fErr *FlowError
	if !errors.As(err, &fErr) || fErr.State != models.TxValidating {
		t.Errorf("Expected FlowError at VALIDATING, got %v", err)
	}
}

func TestValidationRejectsDevices(t *testing.T) {
	payload := validPayload()
	payload.Lines[0].DeviceID = "dev-1"
	orch := NewOrchestrator(newMockCarrier(), nil)

	_, err := orch.Checkout(context.Background(), payload, fastOpts())
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected *ValidationError for device on line, got %v", err)
	}
	if len(vErr.Violations) != 1 {
		t.Errorf("Expected 1 violation, got %v", vErr.Violations)
	}
}

func TestQuoteMissingChargeTotalFatal(t *testing.T) {
	carrier := newMockCarrier()
	carrier.quoteResp = &QuoteResponse{QuoteID: "q-1"}
	orch := NewOrchestrator(carrier, nil)

	_, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	var fErr *FlowError
	if !errors.As(err, &fErr) || fErr.State != models.TxQuoting {
		t.Errorf("Expected FlowError at QUOTING, got %v", err)
	}
}

func TestPurchaseMissingTransactionIDFatal(t *testing.T) {
	carrier := newMockCarrier()
	carrier.purchaseResp = &PurchaseResponse{Status: "OK"}
	orch := NewOrchestrator(carrier, nil)

	_, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err == nil {
		t.Fatal("Expected error for missing transactionId")
	}
	var fErr *FlowError
	if !errors.As(err, &fErr) || fErr.State != models.TxPurchasing {
		t.Errorf("Expected FlowError at PURCHASING, got %v", err)
	}
	if carrier.statusCalls != 0 {
		t.Errorf("Expected no status polls after a fatal purchase, got %d", carrier.statusCalls)
	}
}

func TestNotFoundDuringPollFatal(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{err: &NotFoundError{TransactionID: "tx-1"}},
	}
	orch := NewOrchestrator(carrier, nil)

	_, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err == nil {
		t.Fatal("Expected error when the transaction vanishes")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFoundError in the chain, got %v", err)
	}
	if carrier.statusCalls != 1 {
		t.Errorf("Expected polling to abort after not-found, got %d calls", carrier.statusCalls)
	}
}

func TestTransientStatusErrorBacksOffAndRecovers(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{err: &StatusError{StatusCode: 503, Body: "unavailable"}},
		{err: &StatusError{StatusCode: 503, Body: "unavailable"}},
		{resp: &StatusResponse{PaymentStatus: "SUCCESS"}},
	}
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if result.State != models.TxCompleted {
		t.Errorf("Expected COMPLETED after recovery, got %s", result.State)
	}
	if result.PollAttempts != 3 {
		t.Errorf("Expected transient errors to consume attempts, got %d", result.PollAttempts)
	}
}

func TestFailedStatusReturnsResultNotError(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{resp: &StatusResponse{OrderStatus: "FAILED", PaymentStatus: "FAILED"}},
	}
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.Checkout(context.Background(), validPayload(), fastOpts())
	if err != nil {
		t.Fatalf("Expected FAILED as a result, not an error, got %v", err)
	}
	if result.State != models.TxFailed {
		t.Errorf("Expected FAILED, got %s", result.State)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("Expected transaction id retained on failure, got %q", result.TransactionID)
	}
}

func TestSkipPollingCompletesImmediately(t *testing.T) {
	carrier := newMockCarrier()
	orch := NewOrchestrator(carrier, nil)
	opts := fastOpts()
	opts.SkipPolling = true

	result, err := orch.Checkout(context.Background(), validPayload(), opts)
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if result.State != models.TxCompleted {
		t.Errorf("Expected COMPLETED with polling skipped, got %s", result.State)
	}
	if carrier.statusCalls != 0 {
		t.Errorf("Expected no status calls, got %d", carrier.statusCalls)
	}
}

func TestCancellationReturnsLastKnownState(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{resp: &StatusResponse{OrderStatus: "PROCESSING"}},
	}
	orch := NewOrchestrator(carrier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	opts := fastOpts()
	opts.MaxPollAttempts = 100
	opts.PollInterval = 50 * time.Millisecond

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := orch.Checkout(ctx, validPayload(), opts)
	if err != nil {
		t.Fatalf("Expected cancellation to yield a result, got %v", err)
	}
	if result.State.Terminal() {
		t.Errorf("Expected a non-terminal state after cancellation, got %s", result.State)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("Expected transaction id retained after cancellation, got %q", result.TransactionID)
	}
}

func TestCatalogEnrichmentCanonicalizesPlanNames(t *testing.T) {
	carrier := newMockCarrier()
	plans := &mockPlanFetcher{plans: map[string]*catalog.Plan{
		"plan-40": {ID: "plan-40", DisplayName: "Freedom Plus (50GB)"},
		"plan-25": {ID: "plan-25", DisplayName: "Starter (10GB)"},
	}}
	orch := NewOrchestrator(carrier, plans)

	if _, err := orch.Checkout(context.Background(), validPayload(), fastOpts()); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	lines := carrier.quoteReqs[0].Lines
	if lines[0].PlanName != "Freedom Plus" {
		t.Errorf("Expected canonical name Freedom Plus, got %q", lines[0].PlanName)
	}
	if lines[1].PlanName != "Starter" {
		t.Errorf("Expected canonical name Starter, got %q", lines[1].PlanName)
	}
}

func TestCatalogFailureFallsBackToPayloadName(t *testing.T) {
	carrier := newMockCarrier()
	plans := &mockPlanFetcher{err: errors.New("catalog down")}
	orch := NewOrchestrator(carrier, plans)

	if _, err := orch.Checkout(context.Background(), validPayload(), fastOpts()); err != nil {
		t.Fatalf("Expected fallback to payload plan name, got %v", err)
	}
	if got := carrier.quoteReqs[0].Lines[0].PlanName; got != "Freedom Plus" {
		t.Errorf("Expected canonicalized payload name Freedom Plus, got %q", got)
	}
}

func TestCatalogFailureWithoutFallbackNameFatal(t *testing.T) {
	payload := validPayload()
	payload.Lines[0].PlanName = ""
	plans := &mockPlanFetcher{err: errors.New("catalog down")}
	orch := NewOrchestrator(newMockCarrier(), plans)

	if _, err := orch.Checkout(context.Background(), payload, fastOpts()); err == nil {
		t.Error("Expected error when no plan name can be resolved")
	}
}

func TestCheckStatusSinglePoll(t *testing.T) {
	carrier := newMockCarrier()
	carrier.statusSteps = []statusStep{
		{resp: &StatusResponse{OrderStatus: "PROCESSING"}},
	}
	orch := NewOrchestrator(carrier, nil)

	result, err := orch.CheckStatus(context.Background(), "tx-9")
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if result.State != models.TxPolling {
		t.Errorf("Expected POLLING for a non-terminal status, got %s", result.State)
	}
	if carrier.statusCalls != 1 {
		t.Errorf("Expected exactly one status call, got %d", carrier.statusCalls)
	}

	carrier.statusSteps = []statusStep{{resp: &StatusResponse{OrderStatus: "DONE"}}}
	carrier.statusCalls = 0
	result, err = orch.CheckStatus(context.Background(), "tx-9")
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if result.State != models.TxCompleted {
		t.Errorf("Expected COMPLETED, got %s", result.State)
	}
}

func TestCheckStatusRequiresTransactionID(t *testing.T) {
	orch := NewOrchestrator(newMockCarrier(), nil)
	if _, err := orch.CheckStatus(context.Background(), ""); err == nil {
		t.Error("Expected error for empty transaction id")
	}
}
