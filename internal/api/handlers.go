// Package api provides HTTP handlers for orderflow endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carriermax/orderflow/internal/auth"
	"github.com/carriermax/orderflow/internal/flow"
	"github.com/carriermax/orderflow/internal/models"
	"github.com/carriermax/orderflow/internal/purchase"
)

// resolveSession determines the session id for a request: the X-Session-ID
// header, then the session_id query parameter, then the store's last-active
// pointer. When mint is true a missing id is minted fresh so a first call
// can start a conversation.
func (s *Server) resolveSession(r *http.Request, mint bool) string {
	if id := r.Header.Get("X-Session-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	if id, err := s.st.GetLastActiveSession(); err == nil && id != "" {
		slog.Debug("Server.resolveSession: using last active session", "sessionID", id)
		return id
	}
	if mint {
		id := uuid.NewString()
		slog.Debug("Server.resolveSession: minted new session", "sessionID", id)
		return id
	}
	return ""
}

type setLineCountRequest struct {
	LineCount int `json:"line_count"`
}

func (s *Server) setLineCountHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req setLineCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setLineCountHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sessionID := s.resolveSession(r, true)
	fc, err := s.mgr.Update(r.Context(), sessionID, flow.Partial{LineCount: &req.LineCount})
	if err != nil {
		if errors.Is(err, models.ErrInvalidLineCount) || errors.Is(err, models.ErrInvalidSessionID) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.setLineCountHandler: update failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update line count"))
		return
	}
	w.Header().Set("X-Session-ID", sessionID)
	slog.Info("Server.setLineCountHandler: line count set", "sessionID", sessionID, "lineCount", req.LineCount)
	writeJSONResponse(w, http.StatusOK, models.Success(fc))
}

type assignItemRequest struct {
	ItemType   string          `json:"item_type"`
	LineNumber int             `json:"line_number,omitempty"`
	Item       models.CartItem `json:"item"`
	SimType    string          `json:"sim_type,omitempty"`
}

type assignItemResult struct {
	Assignment flow.Assignment     `json:"assignment"`
	Context    *models.FlowContext `json:"context,omitempty"`
	Cart       *models.Cart        `json:"cart,omitempty"`
}

func (s *Server) assignItemHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req assignItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.assignItemHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sessionID := s.resolveSession(r, true)
	fc, err := s.mgr.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.assignItemHandler: context load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	// Gate first, then resolve the target line, then mutate. The manager
	// re-validates under the session lock, so a stale gate verdict cannot
	// corrupt state.
	gateAction := req.ItemType
	switch req.ItemType {
	case flow.ItemTypeDevice:
		gateAction = flow.ActionAddDevice
	case flow.ItemTypeProtection:
		gateAction = flow.ActionAddProtection
	case flow.ItemTypeSim:
		gateAction = flow.ActionSelectSim
	}
	if gate := flow.CheckPrerequisites(fc, gateAction); !gate.Allowed {
		writeJSONResponse(w, http.StatusConflict, models.APIResponse{
			Status: string(models.APIStatusError), Message: gate.Reason, Result: gate,
		})
		return
	}

	assignment := flow.ResolveLineAssignment(fc, req.ItemType, req.LineNumber)
	if assignment.TargetLine == 0 {
		slog.Warn("Server.assignItemHandler: assignment rejected", "sessionID", sessionID, "itemType", req.ItemType, "reason", assignment.Reason)
		writeJSONResponse(w, http.StatusConflict, models.APIResponse{
			Status: string(models.APIStatusError), Message: "could not assign item", Result: assignItemResult{Assignment: assignment},
		})
		return
	}

	simType, _ := models.NormalizeSimType(req.SimType)
	switch req.ItemType {
	case flow.ItemTypePlan:
		fc, err = s.mgr.AssignPlan(r.Context(), sessionID, assignment.TargetLine, req.Item.ID)
	case flow.ItemTypeDevice:
		fc, err = s.mgr.AssignDevice(r.Context(), sessionID, assignment.TargetLine, req.Item.ID)
	case flow.ItemTypeProtection:
		fc, err = s.mgr.AssignProtection(r.Context(), sessionID, assignment.TargetLine, req.Item.ID)
	case flow.ItemTypeSim:
		if simType == "" {
			simType = models.SimTypeESIM
		}
		fc, err = s.mgr.AssignSim(r.Context(), sessionID, assignment.TargetLine, simType, "")
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("unknown item type"))
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrLineOutOfRange) || errors.Is(err, models.ErrProtectionRequiresDevice) {
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		slog.Error("Server.assignItemHandler: assignment failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to assign item"))
		return
	}

	var cart *models.Cart
	if req.ItemType != flow.ItemTypeSim && req.Item.ID != "" {
		cart, err = s.mgr.PutCartItem(r.Context(), sessionID, assignment.TargetLine, req.ItemType, req.Item, simType)
		if err != nil {
			slog.Error("Server.assignItemHandler: cart update failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update cart"))
			return
		}
	}

	w.Header().Set("X-Session-ID", sessionID)
	slog.Info("Server.assignItemHandler: item assigned", "sessionID", sessionID, "itemType", req.ItemType, "line", assignment.TargetLine)
	writeJSONResponse(w, http.StatusOK, models.Success(assignItemResult{Assignment: assignment, Context: fc, Cart: cart}))
}

type progressResult struct {
	Context      *models.FlowContext `json:"context"`
	Cart         *models.Cart        `json:"cart,omitempty"`
	CheckoutGate flow.GateResult     `json:"checkout_gate"`
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := s.resolveSession(r, false)
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No session id provided and no active session"))
		return
	}
	fc, err := s.mgr.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.progressHandler: context load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	cart, err := s.mgr.GetCart(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.progressHandler: cart load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load cart"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(progressResult{
		Context:      fc,
		Cart:         cart,
		CheckoutGate: flow.CheckPrerequisites(fc, flow.ActionCheckout),
	}))
}

func (s *Server) gateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("action query parameter is required"))
		return
	}
	sessionID := s.resolveSession(r, false)
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No session id provided and no active session"))
		return
	}
	fc, err := s.mgr.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.gateHandler: context load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(flow.CheckPrerequisites(fc, action)))
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := s.resolveSession(r, false)
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No session id provided and no active session"))
		return
	}
	if err := s.mgr.Reset(r.Context(), sessionID); err != nil {
		slog.Error("Server.resetHandler: reset failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
}

type routeRequest struct {
	Text string `json:"text"`
}

func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.classifier == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Intent classification is not configured"))
		return
	}
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("text is required"))
		return
	}
	sessionID := s.resolveSession(r, true)
	fc, err := s.mgr.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.routeHandler: context load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	cls, err := s.classifier.Classify(r.Context(), req.Text)
	if err != nil {
		slog.Error("Server.routeHandler: classification failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to classify message"))
		return
	}
	decision := s.router.Route(fc, cls.Intent)

	if _, err := s.mgr.UpdateLastIntent(r.Context(), sessionID, cls.Intent, decision.Action); err != nil {
		slog.Warn("Server.routeHandler: failed to record last intent", "error", err, "sessionID", sessionID)
	}
	if _, err := s.mgr.AddConversationHistory(r.Context(), sessionID, models.HistoryEntry{
		Intent: cls.Intent,
		Action: decision.Action,
		Data:   cls.Entities,
	}); err != nil {
		slog.Warn("Server.routeHandler: failed to record history", "error", err, "sessionID", sessionID)
	}

	w.Header().Set("X-Session-ID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"classification": cls,
		"decision":       decision,
	}))
}

type checkoutRequest struct {
	Shipping models.ShippingAddress `json:"shipping"`
	Options  checkoutOptions        `json:"options"`
}

type checkoutOptions struct {
	SkipPolling             bool    `json:"skip_polling,omitempty"`
	MaxPollAttempts         int     `json:"max_poll_attempts,omitempty"`
	PollIntervalSeconds     float64 `json:"poll_interval_seconds,omitempty"`
	InitialPollDelaySeconds float64 `json:"initial_poll_delay_seconds,omitempty"`
}

func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sessionID := s.resolveSession(r, false)
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No session id provided and no active session"))
		return
	}
	fc, err := s.mgr.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.checkoutHandler: context load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	// The gate decides whether checkout is legal before the orchestrator
	// spends any carrier calls.
	if gate := flow.CheckPrerequisites(fc, flow.ActionCheckout); !gate.Allowed {
		writeJSONResponse(w, http.StatusConflict, models.APIResponse{
			Status: string(models.APIStatusError), Message: gate.Reason, Result: gate,
		})
		return
	}

	cart, err := s.mgr.GetCart(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.checkoutHandler: cart load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load cart"))
		return
	}
	payload := buildCheckoutPayload(sessionID, fc, cart, req.Shipping)

	opts := purchase.CheckoutOptions{
		SkipPolling:      req.Options.SkipPolling,
		MaxPollAttempts:  req.Options.MaxPollAttempts,
		PollInterval:     time.Duration(req.Options.PollIntervalSeconds * float64(time.Second)),
		InitialPollDelay: time.Duration(req.Options.InitialPollDelaySeconds * float64(time.Second)),
	}

	// The orchestrator polls without holding the session lock; only the
	// result bookkeeping below goes back through the locked manager path.
	result, err := s.orch.Checkout(r.Context(), payload, opts)
	if err != nil {
		s.writePurchaseError(w, err)
		return
	}

	if _, histErr := s.mgr.AddConversationHistory(r.Context(), sessionID, models.HistoryEntry{
		Intent: flow.IntentCheckout,
		Action: flow.ActionCheckout,
		Data: map[string]string{
			"transaction_id": result.TransactionID,
			"state":          string(result.State),
		},
	}); histErr != nil {
		slog.Warn("Server.checkoutHandler: failed to record checkout history", "error", histErr, "sessionID", sessionID)
	}

	writeJSONResponse(w, http.StatusOK, purchaseEnvelope(result))
}

func (s *Server) checkStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	transactionID := r.URL.Query().Get("transaction_id")
	if transactionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("transaction_id query parameter is required"))
		return
	}
	result, err := s.orch.CheckStatus(r.Context(), transactionID)
	if err != nil {
		s.writePurchaseError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, purchaseEnvelope(result))
}

// writePurchaseError maps orchestrator errors onto HTTP statuses while
// keeping the typed detail in the response body.
func (s *Server) writePurchaseError(w http.ResponseWriter, err error) {
	var (
		validationErr *purchase.ValidationError
		notFoundErr   *purchase.NotFoundError
		authErr       *auth.Error
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSONResponse(w, http.StatusBadRequest, models.APIResponse{
			Status:  string(models.APIStatusError),
			Message: "checkout validation failed",
			Result:  map[string]interface{}{"violations": validationErr.Violations},
		})
	case errors.As(err, &notFoundErr):
		writeJSONResponse(w, http.StatusNotFound, models.Error(notFoundErr.Error()))
	case errors.As(err, &authErr):
		slog.Error("Server: carrier authentication failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Carrier authentication failed"))
	default:
		slog.Error("Server: purchase failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error(err.Error()))
	}
}

// purchaseEnvelope picks the response envelope matching the result's
// terminal state, so callers can tell "failed" from "still in flight".
func purchaseEnvelope(result *models.PurchaseResult) models.APIResponse {
	switch result.State {
	case models.TxFailed:
		return models.APIResponse{Status: string(models.APIStatusError), Message: result.Message, Result: result}
	case models.TxCompleted:
		return models.SuccessWithMessage(result.Message, result)
	default:
		return models.Pending(result.Message, result)
	}
}

// buildCheckoutPayload assembles the orchestrator payload from the flow
// context (authoritative for ids and SIM types) and the cart (authoritative
// for display names).
func buildCheckoutPayload(sessionID string, fc *models.FlowContext, cart *models.Cart, shipping models.ShippingAddress) models.CheckoutPayload {
	payload := models.CheckoutPayload{
		SessionID: sessionID,
		Shipping:  shipping,
	}
	for i := range fc.Lines {
		line := fc.Lines[i]
		cl := models.CheckoutLine{
			LineNumber: line.LineNumber,
			PlanID:     line.PlanID,
			DeviceID:   line.DeviceID,
			SimType:    line.SimType,
			SimICCID:   line.SimICCID,
		}
		if cart != nil && line.LineNumber <= len(cart.Lines) {
			if plan := cart.Lines[line.LineNumber-1].Plan; plan != nil {
				cl.PlanName = plan.Name
			}
		}
		payload.Lines = append(payload.Lines, cl)
	}
	return payload
}
