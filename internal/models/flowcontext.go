// Package models defines flow state structures for orderflow sessions.
package models

import "time"

// SimType identifies the SIM variant configured for a line.
type SimType string

const (
	// SimTypeESIM is an embedded SIM provisioned digitally.
	SimTypeESIM SimType = "ESIM"
	// SimTypePhysical is a plastic SIM card shipped to the customer.
	SimTypePhysical SimType = "PHYSICAL"
)

// MaxConversationHistory bounds the number of history entries retained per
// session. Oldest entries are evicted first.
const MaxConversationHistory = 10

// Line represents one phone-number slot in a multi-line order. LineNumber is
// 1-based and always equals the line's index in FlowContext.Lines plus one.
type Line struct {
	LineNumber         int     `json:"line_number"`
	PlanSelected       bool    `json:"plan_selected"`
	PlanID             string  `json:"plan_id,omitempty"`
	DeviceSelected     bool    `json:"device_selected"`
	DeviceID           string  `json:"device_id,omitempty"`
	ProtectionSelected bool    `json:"protection_selected"`
	ProtectionID       string  `json:"protection_id,omitempty"`
	SimType            SimType `json:"sim_type,omitempty"`
	SimICCID           string  `json:"sim_icc_id,omitempty"`
}

// Question captures a pending question the conversation asked the user.
type Question struct {
	Type             string    `json:"type"`
	Text             string    `json:"text"`
	ExpectedEntities []string  `json:"expected_entities,omitempty"`
	AskedAt          time.Time `json:"asked_at"`
}

// HistoryEntry records one routed intent/action pair for a session.
type HistoryEntry struct {
	Intent    string            `json:"intent"`
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// FlowContext is the per-session conversation and configuration state. It is
// owned exclusively by flow.ContextManager; nothing else mutates it.
//
// The boolean flags (PlanSelected, DeviceSelected, ProtectionSelected,
// SimSelected, LinesConfigured) are cached projections over Lines/LineCount.
// They are never set independently; RecomputeFlags derives them after every
// mutation.
type FlowContext struct {
	SessionID           string         `json:"session_id"`
	LineCount           int            `json:"line_count"`
	Lines               []Line         `json:"lines"`
	FlowStage           string         `json:"flow_stage,omitempty"`
	ResumeStep          string         `json:"resume_step,omitempty"`
	CurrentQuestion     *Question      `json:"current_question,omitempty"`
	LastIntent          string         `json:"last_intent,omitempty"`
	LastAction          string         `json:"last_action,omitempty"`
	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
	PlanSelected        bool           `json:"plan_selected"`
	DeviceSelected      bool           `json:"device_selected"`
	ProtectionSelected  bool           `json:"protection_selected"`
	SimSelected         bool           `json:"sim_selected"`
	LinesConfigured     bool           `json:"lines_configured"`
	LastUpdated         time.Time      `json:"last_updated"`
}

// RecomputeFlags rederives the cached projection flags from Lines and
// LineCount. Must be called after every mutation that touches either.
func (fc *FlowContext) RecomputeFlags() {
	fc.PlanSelected = false
	fc.DeviceSelected = false
	fc.ProtectionSelected = false
	fc.SimSelected = false
	for i := range fc.Lines {
		if fc.Lines[i].PlanSelected {
			fc.PlanSelected = true
		}
		if fc.Lines[i].DeviceSelected {
			fc.DeviceSelected = true
		}
		if fc.Lines[i].ProtectionSelected {
			fc.ProtectionSelected = true
		}
		if fc.Lines[i].SimType != "" {
			fc.SimSelected = true
		}
	}
	fc.LinesConfigured = fc.LineCount > 0
}

// ResizeLines grows or shrinks Lines so len(Lines) == count. New lines are
// blank with all selections false; shrinking truncates from the tail. Line
// data cleared by a shrink is not resurrected by a later grow.
func (fc *FlowContext) ResizeLines(count int) {
	if count < 0 {
		count = 0
	}
	fc.LineCount = count
	for len(fc.Lines) < count {
		fc.Lines = append(fc.Lines, Line{LineNumber: len(fc.Lines) + 1})
	}
	if len(fc.Lines) > count {
		// Zero the truncated tail so a later grow starts from blank lines.
		for i := count; i < len(fc.Lines); i++ {
			fc.Lines[i] = Line{}
		}
		fc.Lines = fc.Lines[:count]
	}
}

// Line returns the line with the given 1-based number, or nil if out of range.
func (fc *FlowContext) Line(lineNumber int) *Line {
	if lineNumber < 1 || lineNumber > len(fc.Lines) {
		return nil
	}
	return &fc.Lines[lineNumber-1]
}
