// Package flow provides the conversational router, the thin consumer that
// maps classified intents onto gated actions.
package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/carriermax/orderflow/internal/models"
)

// Intents produced by the upstream classifier.
const (
	IntentSetLines      = "set_lines"
	IntentChoosePlan    = "choose_plan"
	IntentAddDevice     = "add_device"
	IntentAddProtection = "add_protection"
	IntentSelectSim     = "select_sim"
	IntentCheckout      = "checkout"
	IntentCheckStatus   = "check_status"
	IntentReset         = "reset"
	IntentUnknown       = "unknown"
)

// intentActions maps classifier intents to the gated action each one drives.
// Intents absent from the map route to themselves ungated.
var intentActions = map[string]string{
	IntentSetLines:      "set_line_count",
	IntentChoosePlan:    "add_plan",
	IntentAddDevice:     ActionAddDevice,
	IntentAddProtection: ActionAddProtection,
	IntentSelectSim:     ActionSelectSim,
	IntentCheckout:      ActionCheckout,
	IntentCheckStatus:   "check_status",
	IntentReset:         "reset",
}

// RouteDecision is the outcome of routing one classified intent: the target
// action, whether the gate allows it now, and — when blocked — the redirect
// the conversation should take instead.
type RouteDecision struct {
	Intent   string     `json:"intent"`
	Action   string     `json:"action"`
	Allowed  bool       `json:"allowed"`
	Redirect string     `json:"redirect,omitempty"`
	Gate     GateResult `json:"gate"`
}

// Router maps classified intents plus the current flow context to target
// actions by consulting the prerequisite gate.
type Router struct{}

// NewRouter creates a Router.
func NewRouter() *Router {
	return &Router{}
}

// Route decides what a classified intent should do given the current
// context. It never raises; a blocked intent comes back with a redirect
// message assembled from the gate result.
func (r *Router) Route(fc *models.FlowContext, intent string) RouteDecision {
	action, ok := intentActions[intent]
	if !ok {
		action = intent
	}
	gate := CheckPrerequisites(fc, action)
	decision := RouteDecision{
		Intent:  intent,
		Action:  action,
		Allowed: gate.Allowed,
		Gate:    gate,
	}
	if !gate.Allowed {
		decision.Redirect = redirectFor(gate)
	}
	slog.Debug("Router.Route decided", "sessionID", fc.SessionID, "intent", intent, "action", action, "allowed", gate.Allowed, "gateCode", gate.Code)
	return decision
}

// redirectFor builds the conversational redirect for a blocked action.
func redirectFor(gate GateResult) string {
	var b strings.Builder
	switch gate.Code {
	case GateNeedLines:
		b.WriteString("How many lines would you like? Set the line count first.")
	case GateNeedPlans:
		b.WriteString("Let's pick plans first.")
	case GateNeedSim:
		b.WriteString("Each line still needs a SIM type.")
	case GateNeedDevice:
		b.WriteString("Protection needs a device — want to look at devices first?")
	default:
		b.WriteString("That's not available yet.")
	}
	if len(gate.Missing) > 0 {
		b.WriteString(fmt.Sprintf(" Still missing: %s.", strings.Join(gate.Missing, ", ")))
	}
	return b.String()
}
