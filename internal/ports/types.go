// Package ports defines the contracts between the orchestration core
// and the domain agents that plug into it. Everything here is plain
// data plus small interfaces; no package in this repo besides the
// wiring layer depends on concrete agent implementations.
package ports

import "time"

// ToolCall is one requested invocation of a named agent.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ExecutionContext carries the identity and channel information an
// agent needs to execute or preview a call.
type ExecutionContext struct {
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp,omitempty"`
	ChannelContext map[string]any `json:"channel_context,omitempty"`
}

// ToolResult is the executor's uniform report for one tool call,
// regardless of whether the call previewed, executed, or failed.
type ToolResult struct {
	ToolName      string        `json:"tool_name"`
	Result        any           `json:"result,omitempty"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	NeedsReauth   bool          `json:"needs_reauth,omitempty"`
	ReauthReason  string        `json:"reauth_reason,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// AgentResult is what an agent returns from Execute. Success is the
// single source of truth for the outcome; callers never inspect Data
// to decide whether the call worked.
type AgentResult struct {
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
	NeedsReauth  bool   `json:"needs_reauth,omitempty"`
	ReauthReason string `json:"reauth_reason,omitempty"`
}

// RiskLevel grades how dangerous a previewed action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment explains the risk grade of a previewed action.
type RiskAssessment struct {
	Level    RiskLevel `json:"level"`
	Factors  []string  `json:"factors,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// ActionPreview is the user-facing description of what an action
// would do if confirmed.
type ActionPreview struct {
	ActionID               string         `json:"action_id"`
	ActionType             string         `json:"action_type"`
	Title                  string         `json:"title"`
	Description            string         `json:"description,omitempty"`
	Risk                   RiskAssessment `json:"risk"`
	EstimatedExecutionTime string         `json:"estimated_execution_time,omitempty"`
	Reversible             bool           `json:"reversible"`
	RequiresConfirmation   bool           `json:"requires_confirmation"`
	PreviewData            map[string]any `json:"preview_data,omitempty"`
	OriginalQuery          string         `json:"original_query,omitempty"`
	Parameters             map[string]any `json:"parameters,omitempty"`
}
