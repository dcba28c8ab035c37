// Package models defines cart structures for orderflow sessions.
package models

import "time"

// CartItem is one priced item (plan, device, or protection) attached to a
// cart line.
type CartItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// CartLine holds the items configured for one line. Plan is required before
// checkout; Device and Protection are optional.
type CartLine struct {
	LineNumber int       `json:"line_number"`
	Plan       *CartItem `json:"plan,omitempty"`
	Device     *CartItem `json:"device,omitempty"`
	Protection *CartItem `json:"protection,omitempty"`
	SimType    SimType   `json:"sim_type,omitempty"`
	SimICCID   string    `json:"sim_icc_id,omitempty"`
}

// Cart is the per-session order being assembled. Lines stay number-aligned
// with the session's FlowContext. Total is derived; Recalculate keeps it
// consistent on every mutation.
type Cart struct {
	SessionID string     `json:"session_id"`
	Lines     []CartLine `json:"lines"`
	Total     float64    `json:"total"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Recalculate rederives Total as the sum of all non-nil item prices across
// all lines. Called after every cart mutation; Total is never stored stale.
func (c *Cart) Recalculate() {
	total := 0.0
	for i := range c.Lines {
		for _, item := range []*CartItem{c.Lines[i].Plan, c.Lines[i].Device, c.Lines[i].Protection} {
			if item != nil {
				total += item.Price
			}
		}
	}
	c.Total = total
}

// Expired reports whether the cart's TTL has passed at the given time.
func (c *Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Line returns the cart line with the given 1-based number, creating it (and
// any missing lower-numbered lines) if absent so the cart stays aligned with
// the flow context's line numbering.
func (c *Cart) Line(lineNumber int) *CartLine {
	if lineNumber < 1 {
		return nil
	}
	for len(c.Lines) < lineNumber {
		c.Lines = append(c.Lines, CartLine{LineNumber: len(c.Lines) + 1})
	}
	return &c.Lines[lineNumber-1]
}

// Truncate drops cart lines above count, keeping the cart aligned with a
// shrunk flow context, and recalculates the total.
func (c *Cart) Truncate(count int) {
	if count < 0 {
		count = 0
	}
	if len(c.Lines) > count {
		c.Lines = c.Lines[:count]
	}
	c.Recalculate()
}
