// Package flow provides the flow context manager, the single authoritative
// mutator of per-session FlowContext and Cart state.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carriermax/orderflow/internal/models"
	"github.com/carriermax/orderflow/internal/store"
)

// Item type identifiers accepted by assignment operations.
const (
	ItemTypePlan       = "plan"
	ItemTypeDevice     = "device"
	ItemTypeProtection = "protection"
	ItemTypeSim        = "sim"
)

// ContextManager owns all FlowContext and Cart mutation for every session.
// Each operation locks the session, loads state from the store, applies the
// mutation, recomputes the derived flags, and persists — so the gate never
// observes a context whose flags disagree with its lines.
type ContextManager struct {
	st      store.Store
	locks   *sessionLocks
	cartTTL time.Duration
}

// NewContextManager creates a ContextManager backed by the given store.
func NewContextManager(st store.Store, cartTTL time.Duration) *ContextManager {
	if cartTTL <= 0 {
		cartTTL = store.DefaultCartTTL
	}
	slog.Debug("Creating ContextManager", "cartTTL", cartTTL)
	return &ContextManager{st: st, locks: newSessionLocks(), cartTTL: cartTTL}
}

// Partial carries the merge-able fields of an Update call. Nil fields are
// left untouched.
type Partial struct {
	LineCount *int
	FlowStage *string
}

// GetOrCreate returns the existing context for a session or creates a blank
// one with no lines configured. It also records the session as most recently
// active.
func (m *ContextManager) GetOrCreate(ctx context.Context, sessionID string) (*models.FlowContext, error) {
	if sessionID == "" {
		return nil, models.ErrInvalidSessionID
	}
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.loadOrCreateLocked(sessionID)
}

// loadOrCreateLocked loads a session's context, creating and persisting a
// blank one if absent. Caller must hold the session lock.
func (m *ContextManager) loadOrCreateLocked(sessionID string) (*models.FlowContext, error) {
	fc, err := m.st.GetFlowContext(sessionID)
	if err != nil {
		return nil, err
	}
	if fc == nil {
		slog.Debug("ContextManager creating new flow context", "sessionID", sessionID)
		fc = &models.FlowContext{
			SessionID:   sessionID,
			Lines:       []models.Line{},
			LastUpdated: time.Now(),
		}
		fc.RecomputeFlags()
		if err := m.st.SaveFlowContext(*fc); err != nil {
			return nil, err
		}
	}
	if err := m.st.SetLastActiveSession(sessionID); err != nil {
		slog.Warn("ContextManager failed to record last active session", "error", err, "sessionID", sessionID)
	}
	return fc, nil
}

// mutate runs fn against the session's context under the session lock, then
// recomputes derived flags, stamps LastUpdated, and persists. Every mutation
// funnels through here.
func (m *ContextManager) mutate(sessionID string, fn func(fc *models.FlowContext) error) (*models.FlowContext, error) {
	if sessionID == "" {
		return nil, models.ErrInvalidSessionID
	}
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	fc, err := m.loadOrCreateLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(fc); err != nil {
		return nil, err
	}
	fc.RecomputeFlags()
	fc.LastUpdated = time.Now()
	if err := m.st.SaveFlowContext(*fc); err != nil {
		return nil, err
	}
	return fc, nil
}

// Update merges partial fields into the session's context. A LineCount
// change grows or shrinks Lines to match: new lines start blank, shrinking
// truncates from the tail, and the session's cart is truncated to stay
// line-aligned.
func (m *ContextManager) Update(ctx context.Context, sessionID string, p Partial) (*models.FlowContext, error) {
	if sessionID == "" {
		return nil, models.ErrInvalidSessionID
	}
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		if p.LineCount != nil {
			if *p.LineCount < 0 {
				return models.ErrInvalidLineCount
			}
			if *p.LineCount != fc.LineCount {
				slog.Info("ContextManager resizing lines", "sessionID", sessionID, "from", fc.LineCount, "to", *p.LineCount)
				fc.ResizeLines(*p.LineCount)
				if err := m.truncateCartLocked(sessionID, *p.LineCount); err != nil {
					return err
				}
			}
		}
		if p.FlowStage != nil {
			fc.FlowStage = *p.FlowStage
		}
		return nil
	})
}

// truncateCartLocked drops cart lines beyond count. Caller must hold the
// session lock.
func (m *ContextManager) truncateCartLocked(sessionID string, count int) error {
	cart, err := m.st.GetCart(sessionID)
	if err != nil {
		return err
	}
	if cart == nil || len(cart.Lines) <= count {
		return nil
	}
	cart.Truncate(count)
	cart.ExpiresAt = time.Now().Add(m.cartTTL)
	return m.st.SaveCart(*cart)
}

// AssignPlan attaches a plan to a line. Selecting a plan implicitly selects
// the ESIM SIM type when the line has none; SIM choice is no longer a
// separate user-facing step.
func (m *ContextManager) AssignPlan(ctx context.Context, sessionID string, lineNumber int, planID string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		line := fc.Line(lineNumber)
		if line == nil {
			return models.ErrLineOutOfRange
		}
		line.PlanSelected = true
		line.PlanID = planID
		if line.SimType == "" {
			line.SimType = models.SimTypeESIM
		}
		slog.Info("ContextManager plan assigned", "sessionID", sessionID, "line", lineNumber, "planID", planID)
		return nil
	})
}

// AssignDevice attaches a device to a line.
func (m *ContextManager) AssignDevice(ctx context.Context, sessionID string, lineNumber int, deviceID string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		line := fc.Line(lineNumber)
		if line == nil {
			return models.ErrLineOutOfRange
		}
		line.DeviceSelected = true
		line.DeviceID = deviceID
		slog.Info("ContextManager device assigned", "sessionID", sessionID, "line", lineNumber, "deviceID", deviceID)
		return nil
	})
}

// AssignProtection attaches device protection to a line. Protection cannot
// exist without a device on the same line.
func (m *ContextManager) AssignProtection(ctx context.Context, sessionID string, lineNumber int, protectionID string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		line := fc.Line(lineNumber)
		if line == nil {
			return models.ErrLineOutOfRange
		}
		if !line.DeviceSelected {
			return models.ErrProtectionRequiresDevice
		}
		line.ProtectionSelected = true
		line.ProtectionID = protectionID
		slog.Info("ContextManager protection assigned", "sessionID", sessionID, "line", lineNumber, "protectionID", protectionID)
		return nil
	})
}

// AssignSim sets the SIM type (and optionally the ICCID) for a line.
func (m *ContextManager) AssignSim(ctx context.Context, sessionID string, lineNumber int, simType models.SimType, iccid string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		line := fc.Line(lineNumber)
		if line == nil {
			return models.ErrLineOutOfRange
		}
		line.SimType = simType
		line.SimICCID = iccid
		slog.Info("ContextManager sim assigned", "sessionID", sessionID, "line", lineNumber, "simType", simType)
		return nil
	})
}

// SetResumeStep records where the conversation should resume.
func (m *ContextManager) SetResumeStep(ctx context.Context, sessionID, step string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		fc.ResumeStep = step
		return nil
	})
}

// ClearResumeStep clears the recorded resume point.
func (m *ContextManager) ClearResumeStep(ctx context.Context, sessionID string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		fc.ResumeStep = ""
		return nil
	})
}

// SetCurrentQuestion records the question currently posed to the user.
func (m *ContextManager) SetCurrentQuestion(ctx context.Context, sessionID string, q models.Question) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		if q.AskedAt.IsZero() {
			q.AskedAt = time.Now()
		}
		fc.CurrentQuestion = &q
		return nil
	})
}

// ClearCurrentQuestion clears any pending question.
func (m *ContextManager) ClearCurrentQuestion(ctx context.Context, sessionID string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		fc.CurrentQuestion = nil
		return nil
	})
}

// UpdateLastIntent records the last routed intent and action.
func (m *ContextManager) UpdateLastIntent(ctx context.Context, sessionID, intent, action string) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		fc.LastIntent = intent
		fc.LastAction = action
		return nil
	})
}

// AddConversationHistory appends a history entry, evicting the oldest entry
// once the bound is reached.
func (m *ContextManager) AddConversationHistory(ctx context.Context, sessionID string, entry models.HistoryEntry) (*models.FlowContext, error) {
	return m.mutate(sessionID, func(fc *models.FlowContext) error {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		fc.ConversationHistory = append(fc.ConversationHistory, entry)
		if len(fc.ConversationHistory) > models.MaxConversationHistory {
			fc.ConversationHistory = fc.ConversationHistory[len(fc.ConversationHistory)-models.MaxConversationHistory:]
		}
		return nil
	})
}

// Reset deletes the session's context and cart entirely. Distinct from TTL
// expiry: used for an explicit "start over".
func (m *ContextManager) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return models.ErrInvalidSessionID
	}
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()
	if err := m.st.DeleteFlowContext(sessionID); err != nil {
		return err
	}
	if err := m.st.DeleteCart(sessionID); err != nil {
		return err
	}
	slog.Info("ContextManager reset session", "sessionID", sessionID)
	return nil
}

// GetCart returns the session's cart, or nil when absent or expired.
func (m *ContextManager) GetCart(ctx context.Context, sessionID string) (*models.Cart, error) {
	if sessionID == "" {
		return nil, models.ErrInvalidSessionID
	}
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.st.GetCart(sessionID)
}

// PutCartItem attaches a priced item to a cart line and refreshes the cart
// total and TTL. The cart stays line-number-aligned with the flow context.
func (m *ContextManager) PutCartItem(ctx context.Context, sessionID string, lineNumber int, itemType string, item models.CartItem, simType models.SimType) (*models.Cart, error) {
	if sessionID == "" {
		return nil, models.ErrInvalidSessionID
	}
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	cart, err := m.st.GetCart(sessionID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		cart = &models.Cart{SessionID: sessionID}
	}
	cl := cart.Line(lineNumber)
	if cl == nil {
		return nil, models.ErrLineOutOfRange
	}
	switch itemType {
	case ItemTypePlan:
		cl.Plan = &item
		if cl.SimType == "" {
			cl.SimType = models.SimTypeESIM
		}
	case ItemTypeDevice:
		cl.Device = &item
	case ItemTypeProtection:
		if cl.Device == nil {
			return nil, models.ErrProtectionRequiresDevice
		}
		cl.Protection = &item
	default:
		return nil, models.ErrUnknownItemType
	}
	if simType != "" {
		cl.SimType = simType
	}
	cart.Recalculate()
	cart.ExpiresAt = time.Now().Add(m.cartTTL)
	if err := m.st.SaveCart(*cart); err != nil {
		return nil, err
	}
	slog.Info("ContextManager cart item added", "sessionID", sessionID, "line", lineNumber, "itemType", itemType, "total", cart.Total)
	return cart, nil
}

// RemoveCartItem detaches an item from a cart line and refreshes the total.
// Removing a device also removes its protection.
func (m *ContextManager) RemoveCartItem(ctx context.Context, sessionID string, lineNumber int, itemType string) (*models.Cart, error) {
	if sessionID == "" {
		return nil, models.ErrInvalidSessionID
	}
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	cart, err := m.st.GetCart(sessionID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, nil
	}
	if lineNumber < 1 || lineNumber > len(cart.Lines) {
		return nil, models.ErrLineOutOfRange
	}
	cl := &cart.Lines[lineNumber-1]
	switch itemType {
	case ItemTypePlan:
		cl.Plan = nil
	case ItemTypeDevice:
		cl.Device = nil
		cl.Protection = nil
	case ItemTypeProtection:
		cl.Protection = nil
	default:
		return nil, models.ErrUnknownItemType
	}
	cart.Recalculate()
	cart.ExpiresAt = time.Now().Add(m.cartTTL)
	if err := m.st.SaveCart(*cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// SessionLock exposes the per-session mutex so callers that apply externally
// computed results (e.g. a finished purchase) can serialize with tool calls.
// The purchase orchestrator itself never holds this while polling.
func (m *ContextManager) SessionLock(sessionID string) *sync.Mutex {
	return m.locks.get(sessionID)
}
