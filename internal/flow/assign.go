// Package flow provides the line assignment resolver, which decides which
// line an incoming item should attach to when the caller names none.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/carriermax/orderflow/internal/models"
)

// Assignment reasons surfaced to callers.
const (
	ReasonNoDeviceForProtection = "no_device_for_protection"
	ReasonAllDevicesProtected   = "all_devices_protected"
)

// Assignment is the structured outcome of resolving a line assignment. The
// resolver never raises; a rejected assignment has TargetLine 0 and a
// Reason. NeedsConfirmation flags a fallback guess the caller should confirm
// with the user before applying.
type Assignment struct {
	TargetLine        int    `json:"target_line"`
	Suggestion        string `json:"suggestion,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
	Reason            string `json:"reason,omitempty"`
}

// ResolveLineAssignment chooses the line an item should attach to.
// requestedLine of 0 means the caller named none and the deterministic
// heuristics apply. An explicit out-of-range request is clamped to the
// nearest bound with an explanatory suggestion, never rejected.
func ResolveLineAssignment(fc *models.FlowContext, itemType string, requestedLine int) Assignment {
	slog.Debug("ResolveLineAssignment", "sessionID", fc.SessionID, "itemType", itemType, "requestedLine", requestedLine)

	if requestedLine != 0 {
		return clampRequested(fc, requestedLine)
	}

	switch itemType {
	case ItemTypePlan:
		return resolvePlan(fc)
	case ItemTypeDevice:
		return resolveDevice(fc)
	case ItemTypeProtection:
		return resolveProtection(fc)
	case ItemTypeSim:
		// SIM type is selected implicitly when a plan attaches (ESIM by
		// default); this path survives for API compatibility and must not
		// block any flow.
		return resolveSim(fc)
	default:
		return Assignment{Reason: "unknown_item_type"}
	}
}

func clampRequested(fc *models.FlowContext, requested int) Assignment {
	if fc.LineCount == 0 {
		return Assignment{
			TargetLine:        1,
			Suggestion:        "no lines are configured yet; the item will go on line 1 once lines are set",
			NeedsConfirmation: true,
		}
	}
	if requested < 1 {
		return Assignment{
			TargetLine: 1,
			Suggestion: fmt.Sprintf("line %d does not exist; using line 1 instead", requested),
		}
	}
	if requested > fc.LineCount {
		return Assignment{
			TargetLine: fc.LineCount,
			Suggestion: fmt.Sprintf("line %d does not exist; using line %d instead", requested, fc.LineCount),
		}
	}
	return Assignment{TargetLine: requested}
}

func resolvePlan(fc *models.FlowContext) Assignment {
	for i := range fc.Lines {
		if !fc.Lines[i].PlanSelected {
			return Assignment{TargetLine: fc.Lines[i].LineNumber}
		}
	}
	// Every line already has a plan; fall back to the first line not fully
	// configured, else line 1, and ask the caller to confirm the guess.
	for i := range fc.Lines {
		if !fc.Lines[i].DeviceSelected || fc.Lines[i].SimType == "" {
			return Assignment{
				TargetLine:        fc.Lines[i].LineNumber,
				Suggestion:        fmt.Sprintf("all lines already have plans; replace the plan on line %d?", fc.Lines[i].LineNumber),
				NeedsConfirmation: true,
			}
		}
	}
	return Assignment{
		TargetLine:        1,
		Suggestion:        "all lines already have plans; replace the plan on line 1?",
		NeedsConfirmation: true,
	}
}

func resolveDevice(fc *models.FlowContext) Assignment {
	// Best fit: a line with a plan but no device yet.
	for i := range fc.Lines {
		if fc.Lines[i].PlanSelected && !fc.Lines[i].DeviceSelected {
			return Assignment{TargetLine: fc.Lines[i].LineNumber}
		}
	}
	for i := range fc.Lines {
		if !fc.Lines[i].DeviceSelected {
			return Assignment{TargetLine: fc.Lines[i].LineNumber}
		}
	}
	return Assignment{
		TargetLine:        1,
		Suggestion:        "every line already has a device; replace the device on line 1?",
		NeedsConfirmation: true,
	}
}

func resolveProtection(fc *models.FlowContext) Assignment {
	for i := range fc.Lines {
		if fc.Lines[i].DeviceSelected && !fc.Lines[i].ProtectionSelected {
			return Assignment{TargetLine: fc.Lines[i].LineNumber}
		}
	}
	// Hard rejection, not a soft suggestion: protection cannot attach
	// anywhere without an unprotected device.
	if !anyDevice(fc) {
		return Assignment{Reason: ReasonNoDeviceForProtection}
	}
	return Assignment{Reason: ReasonAllDevicesProtected}
}

func resolveSim(fc *models.FlowContext) Assignment {
	for i := range fc.Lines {
		if fc.Lines[i].SimType == "" {
			return Assignment{
				TargetLine: fc.Lines[i].LineNumber,
				Suggestion: "SIM type defaults to ESIM when a plan is selected",
			}
		}
	}
	return Assignment{
		TargetLine: 1,
		Suggestion: "all lines already have SIM types",
	}
}
