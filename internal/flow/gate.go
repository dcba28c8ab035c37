// Package flow provides the prerequisite gate deciding which actions are
// currently permitted for a session.
package flow

import (
	"fmt"

	"github.com/carriermax/orderflow/internal/models"
)

// Actions evaluated by the gate.
const (
	ActionCheckout      = "checkout"
	ActionAddDevice     = "add_device"
	ActionAddProtection = "add_protection"
	ActionSelectSim     = "select_sim"
)

// GateCode classifies why an action is blocked.
type GateCode string

const (
	GateOK         GateCode = "OK"
	GateNeedLines  GateCode = "NEED_LINES"
	GateNeedPlans  GateCode = "NEED_PLANS"
	GateNeedSim    GateCode = "NEED_SIM"
	GateNeedDevice GateCode = "NEED_DEVICE"
	GateOther      GateCode = "OTHER"
)

// GateResult is the structured outcome of a prerequisite check. The gate
// never raises: a blocked action comes back with Allowed=false, a
// human-readable Reason, and the offending lines in Missing so the caller
// can redirect conversationally.
type GateResult struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Missing []string `json:"missing,omitempty"`
	Code    GateCode `json:"gate_code"`
}

// CheckPrerequisites evaluates whether an action is currently permitted
// given a flow context. Pure: no side effects, safe to call repeatedly, and
// consistent with the context manager's invariants because the manager
// recomputes derived flags before any context is observable.
//
// For checkout the first violated condition determines the code, in the
// fixed priority order NEED_LINES > NEED_PLANS > NEED_SIM even when several
// are violated at once.
func CheckPrerequisites(fc *models.FlowContext, action string) GateResult {
	switch action {
	case ActionCheckout:
		return checkCheckout(fc)
	case ActionAddDevice:
		// Device browsing is never blocked.
		return GateResult{Allowed: true, Code: GateOK}
	case ActionAddProtection:
		if fc.LineCount == 0 || !anyDevice(fc) {
			return GateResult{
				Allowed: false,
				Reason:  "protection requires a device on at least one line",
				Code:    GateNeedDevice,
			}
		}
		return GateResult{Allowed: true, Code: GateOK}
	case ActionSelectSim:
		if fc.LineCount == 0 {
			return GateResult{
				Allowed: false,
				Reason:  "configure lines and plans before choosing SIM types",
				Code:    GateNeedPlans,
			}
		}
		return GateResult{Allowed: true, Code: GateOK}
	default:
		return GateResult{Allowed: true, Code: GateOK}
	}
}

func checkCheckout(fc *models.FlowContext) GateResult {
	if fc.LineCount == 0 {
		return GateResult{
			Allowed: false,
			Reason:  "no lines configured yet",
			Code:    GateNeedLines,
		}
	}
	var missingPlans, missingSims []string
	for i := range fc.Lines {
		label := fmt.Sprintf("Line %d", fc.Lines[i].LineNumber)
		if !fc.Lines[i].PlanSelected {
			missingPlans = append(missingPlans, label)
		}
		if fc.Lines[i].SimType == "" {
			missingSims = append(missingSims, label)
		}
	}
	if len(missingPlans) > 0 {
		return GateResult{
			Allowed: false,
			Reason:  "every line needs a plan before checkout",
			Missing: missingPlans,
			Code:    GateNeedPlans,
		}
	}
	if len(missingSims) > 0 {
		return GateResult{
			Allowed: false,
			Reason:  "every line needs a SIM type before checkout",
			Missing: missingSims,
			Code:    GateNeedSim,
		}
	}
	return GateResult{Allowed: true, Code: GateOK}
}

func anyDevice(fc *models.FlowContext) bool {
	for i := range fc.Lines {
		if fc.Lines[i].DeviceSelected {
			return true
		}
	}
	return false
}
