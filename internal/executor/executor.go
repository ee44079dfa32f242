// Package executor runs single tool calls and ordered batches against
// domain agents, deciding per call whether user confirmation is
// required and whether to run in preview or real mode.
package executor

import (
	"context"
	"fmt"
	"time"

	"aide/internal/apperrors"
	"aide/internal/logging"
	"aide/internal/ports"
)

// Options selects the execution mode for a call.
type Options struct {
	// Preview requests a dry-run description instead of the real
	// action for calls that need confirmation. Calls that need no
	// confirmation execute for real even in preview mode.
	Preview bool
}

// Executor validates, classifies and executes tool calls through the
// injected agent registry.
type Executor struct {
	registry   ports.Registry
	classifier ports.Classifier
	policy     Policy
	logger     logging.Logger
}

// New creates an Executor. classifier may be nil, in which case the
// per-agent fallback policy decides confirmation necessity.
func New(registry ports.Registry, classifier ports.Classifier, policy Policy, logger logging.Logger) *Executor {
	return &Executor{
		registry:   registry,
		classifier: classifier,
		policy:     policy,
		logger:     logging.OrNop(logger),
	}
}

// RequiresConfirmation classifies the call and consults the policy.
// Classification failure falls back to the coarser per-agent rules.
func (e *Executor) RequiresConfirmation(call ports.ToolCall) bool {
	if e.classifier == nil {
		return e.policy.RequireForAgent(call.Name)
	}
	category, err := e.classifier.ClassifyOperation(call.Name, call.Parameters)
	if err != nil {
		e.logger.Debug("classification failed for %s, using per-agent policy: %v", call.Name, err)
		return e.policy.RequireForAgent(call.Name)
	}
	return e.policy.RequireForCategory(category)
}

// ExecuteTool runs one tool call. Malformed input returns a
// ValidationError; every other failure is reported inside the
// ToolResult.
func (e *Executor) ExecuteTool(ctx context.Context, call ports.ToolCall, execCtx ports.ExecutionContext, credential string, opts Options) (ports.ToolResult, error) {
	if err := validateCall(call); err != nil {
		return ports.ToolResult{}, err
	}
	if err := validateContext(execCtx); err != nil {
		return ports.ToolResult{}, err
	}

	start := time.Now()
	if opts.Preview && e.RequiresConfirmation(call) {
		return e.previewTool(ctx, call, execCtx, start), nil
	}
	// Preview mode with no confirmation required executes for real:
	// nothing irreversible is being skipped over.
	return e.runTool(ctx, call, execCtx, credential, start), nil
}

// ExecuteTools runs calls strictly in order. A failing call whose tool
// is critical halts the batch, returning the results accumulated so
// far. Per-call panics and validation errors become failed results
// rather than propagating.
func (e *Executor) ExecuteTools(ctx context.Context, calls []ports.ToolCall, execCtx ports.ExecutionContext, credential string, opts Options) []ports.ToolResult {
	results := make([]ports.ToolResult, 0, len(calls))
	for _, call := range calls {
		result := e.executeGuarded(ctx, call, execCtx, credential, opts)
		results = append(results, result)
		if !result.Success && e.policy.Critical(call.Name) {
			e.logger.Warn("critical tool %s failed, halting batch after %d of %d calls", call.Name, len(results), len(calls))
			break
		}
	}
	return results
}

func (e *Executor) executeGuarded(ctx context.Context, call ports.ToolCall, execCtx ports.ExecutionContext, credential string, opts Options) (result ports.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool %s panicked: %v", call.Name, r)
			result = ports.ToolResult{
				ToolName: call.Name,
				Success:  false,
				Error:    fmt.Sprintf("tool execution panicked: %v", r),
			}
		}
	}()

	result, err := e.ExecuteTool(ctx, call, execCtx, credential, opts)
	if err != nil {
		return ports.ToolResult{
			ToolName: call.Name,
			Success:  false,
			Error:    err.Error(),
		}
	}
	return result
}

func (e *Executor) previewTool(ctx context.Context, call ports.ToolCall, execCtx ports.ExecutionContext, start time.Time) ports.ToolResult {
	agent := e.registry.GetAgent(call.Name)
	if agent == nil {
		return ports.ToolResult{
			ToolName:      call.Name,
			Success:       false,
			Error:         fmt.Sprintf("agent not found: %s", call.Name),
			ExecutionTime: time.Since(start),
		}
	}

	generator, ok := agent.(ports.PreviewGenerator)
	if !ok {
		return awaitingConfirmation(call, start)
	}

	preview, err := generator.GeneratePreview(ctx, call.Parameters, execCtx)
	if err != nil {
		if reason, reauth := apperrors.IsReauthRequired(err); reauth {
			return ports.ToolResult{
				ToolName:      call.Name,
				Success:       false,
				NeedsReauth:   true,
				ReauthReason:  reason,
				Error:         err.Error(),
				ExecutionTime: time.Since(start),
			}
		}
		e.logger.Warn("preview generation failed for %s: %v", call.Name, err)
		return awaitingConfirmation(call, start)
	}

	return ports.ToolResult{
		ToolName:      call.Name,
		Result:        preview,
		Success:       true,
		ExecutionTime: time.Since(start),
	}
}

func (e *Executor) runTool(ctx context.Context, call ports.ToolCall, execCtx ports.ExecutionContext, credential string, start time.Time) ports.ToolResult {
	agent := e.registry.GetAgent(call.Name)
	if agent == nil {
		return ports.ToolResult{
			ToolName:      call.Name,
			Success:       false,
			Error:         fmt.Sprintf("agent not found: %s", call.Name),
			ExecutionTime: time.Since(start),
		}
	}

	agentResult, err := agent.Execute(ctx, call.Parameters, execCtx, credential)
	if err != nil {
		result := ports.ToolResult{
			ToolName:      call.Name,
			Success:       false,
			Error:         err.Error(),
			ExecutionTime: time.Since(start),
		}
		if reason, reauth := apperrors.IsReauthRequired(err); reauth {
			result.NeedsReauth = true
			result.ReauthReason = reason
		}
		return result
	}
	if agentResult == nil {
		return ports.ToolResult{
			ToolName:      call.Name,
			Success:       false,
			Error:         "agent returned nil result",
			ExecutionTime: time.Since(start),
		}
	}

	return ports.ToolResult{
		ToolName:      call.Name,
		Result:        agentResult.Data,
		Success:       agentResult.Success,
		Error:         agentResult.Error,
		NeedsReauth:   agentResult.NeedsReauth,
		ReauthReason:  agentResult.ReauthReason,
		ExecutionTime: time.Since(start),
	}
}

func awaitingConfirmation(call ports.ToolCall, start time.Time) ports.ToolResult {
	return ports.ToolResult{
		ToolName: call.Name,
		Result: map[string]any{
			"status": "awaiting_confirmation",
			"tool":   call.Name,
		},
		Success:       true,
		ExecutionTime: time.Since(start),
	}
}

func validateCall(call ports.ToolCall) error {
	if call.Name == "" {
		return &apperrors.ValidationError{Field: "tool call", Reason: "name is required"}
	}
	return nil
}

func validateContext(execCtx ports.ExecutionContext) error {
	if execCtx.SessionID == "" {
		return &apperrors.ValidationError{Field: "execution context", Reason: "session id is required"}
	}
	return nil
}
