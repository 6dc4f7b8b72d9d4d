// internal/approval/pattern.go
package approval

import (
	"time"
)

// Pattern accumulates historical approve/deny counts for one tool signature.
// Counters are monotonically incremented, never decremented.
type Pattern struct {
	ToolName      string    `json:"tool_name"`
	TotalRequests int       `json:"total_requests"`
	Approvals     int       `json:"approvals"`
	Denials       int       `json:"denials"`
	AlwaysAllow   bool      `json:"always_allow"`
	LastUpdated   time.Time `json:"last_updated"`
}

// NewPattern creates an empty pattern for a tool.
func NewPattern(toolName string) *Pattern {
	return &Pattern{ToolName: toolName, LastUpdated: time.Now()}
}

// Rate returns approvals / (approvals + denials), or 0 when no decision has
// been recorded. Used for display only, never for gating.
func (p *Pattern) Rate() float64 {
	total := p.Approvals + p.Denials
	if total == 0 {
		return 0
	}
	return float64(p.Approvals) / float64(total)
}

// Record counts one decision.
func (p *Pattern) Record(approved bool) {
	p.TotalRequests++
	if approved {
		p.Approvals++
	} else {
		p.Denials++
	}
	p.LastUpdated = time.Now()
}

// Qualifies reports whether the pattern meets the auto-approve thresholds.
func (p *Pattern) Qualifies(minApprovals int, threshold float64) bool {
	return p.Approvals >= minApprovals && p.Rate() >= threshold
}

// clone returns a copy so callers cannot mutate recorded state.
func (p *Pattern) clone() *Pattern {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
