// Package confirmation owns the lifecycle of user-confirmation flows:
// creation with an action preview, response, execution of the approved
// action, expiration, and statistics. Flows are persisted to a
// process-wide cache and, best effort, to an optional durable store.
package confirmation

import (
	"time"

	"aide/internal/ports"
)

// Status is the lifecycle state of a confirmation flow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// allowedTransitions is the full state machine. Anything absent here is
// an illegal transition.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusExpired},
	StatusConfirmed: {StatusExecuted, StatusFailed},
}

// CanTransition reports whether from -> to is a permitted transition.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Flow is the tracked record of one confirmation from creation to a
// terminal state. Flows are never deleted, only terminal-stated, so
// they remain available for audit and statistics.
type Flow struct {
	ID              string              `json:"confirmation_id"`
	SessionID       string              `json:"session_id"`
	UserID          string              `json:"user_id,omitempty"`
	Preview         ports.ActionPreview `json:"action_preview"`
	ToolCall        ports.ToolCall      `json:"original_tool_call"`
	Status          Status              `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	ConfirmedAt     *time.Time          `json:"confirmed_at,omitempty"`
	ExecutedAt      *time.Time          `json:"executed_at,omitempty"`
	ExecutionResult *ports.ToolResult   `json:"execution_result,omitempty"`
	ChannelContext  map[string]any      `json:"channel_context,omitempty"`
}

// Expired reports whether the flow's deadline has passed at now.
func (f *Flow) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

// Clone returns a deep-enough copy: scalar fields plus fresh pointer
// fields, so store implementations can hand out flows without aliasing
// their internal state.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	clone := *f
	if f.ConfirmedAt != nil {
		t := *f.ConfirmedAt
		clone.ConfirmedAt = &t
	}
	if f.ExecutedAt != nil {
		t := *f.ExecutedAt
		clone.ExecutedAt = &t
	}
	if f.ExecutionResult != nil {
		r := *f.ExecutionResult
		clone.ExecutionResult = &r
	}
	return &clone
}

// Stats aggregates confirmation outcomes, optionally scoped to one
// session.
type Stats struct {
	Total               int            `json:"total"`
	ByStatus            map[Status]int `json:"by_status"`
	AverageResponseTime time.Duration  `json:"average_response_time"`
	// ConfirmationRate is the percentage of flows the user confirmed
	// (including ones that have since executed or failed).
	ConfirmationRate float64 `json:"confirmation_rate"`
}

// computeStats derives Stats from a set of flows; the in-memory
// fallback when no durable aggregation is available.
func computeStats(flows []*Flow) *Stats {
	stats := &Stats{ByStatus: make(map[Status]int)}
	var responded int
	var totalResponse time.Duration
	for _, flow := range flows {
		stats.Total++
		stats.ByStatus[flow.Status]++
		if flow.ConfirmedAt != nil {
			responded++
			totalResponse += flow.ConfirmedAt.Sub(flow.CreatedAt)
		}
	}
	if responded > 0 {
		stats.AverageResponseTime = totalResponse / time.Duration(responded)
	}
	if stats.Total > 0 {
		confirmed := stats.ByStatus[StatusConfirmed] + stats.ByStatus[StatusExecuted] + stats.ByStatus[StatusFailed]
		stats.ConfirmationRate = float64(confirmed) / float64(stats.Total) * 100
	}
	return stats
}
