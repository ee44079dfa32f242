// Package workflow drives a bounded multi-step reasoning loop over a
// single accumulating narrative context: each iteration checks
// readiness for user input, executes at most one agent action, and
// assesses progress until the task completes, needs the user, or hits
// the iteration ceiling.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"aide/internal/apperrors"
	"aide/internal/logging"
	"aide/internal/ports"
)

const defaultMaxIterations = 10

// Meta identifies one evaluator invocation.
type Meta struct {
	SessionID     string
	UserID        string
	CorrelationID string
	Iteration     int
}

// ReadinessResult is the outcome of the readiness phase.
type ReadinessResult struct {
	NeedsUserInput bool
	RequiredInfo   string
	UpdatedContext string
}

// ActionResult is the outcome of the action phase. Agent and Request
// are both empty when no action is warranted this iteration.
type ActionResult struct {
	UpdatedContext string
	Agent          string
	Request        string
}

// ProgressResult is the outcome of the progress phase. An empty
// NewSteps means the workflow is complete.
type ProgressResult struct {
	UpdatedContext string
	NewSteps       []string
}

// ReadinessEvaluator decides whether the workflow must pause for user
// input.
type ReadinessEvaluator interface {
	EvaluateReadiness(ctx context.Context, narrative string, meta Meta) (*ReadinessResult, error)
}

// ActionEvaluator decides which agent, if any, to invoke next.
type ActionEvaluator interface {
	EvaluateAction(ctx context.Context, narrative string, meta Meta) (*ActionResult, error)
}

// ProgressEvaluator decides whether work remains.
type ProgressEvaluator interface {
	EvaluateProgress(ctx context.Context, narrative string, meta Meta) (*ProgressResult, error)
}

// Config holds executor tunables.
type Config struct {
	// MaxIterations bounds the loop; zero means the default of 10.
	MaxIterations int
	// DefaultTenant scopes credential lookups when the user id carries
	// no tenant prefix.
	DefaultTenant string
}

// Outcome is how a workflow run ended.
type Outcome string

const (
	// OutcomeCompleted means the progress evaluator reported no
	// remaining steps.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAwaitingInput means the readiness evaluator asked for
	// user input.
	OutcomeAwaitingInput Outcome = "awaiting_user_input"
)

// Request submits one logical task.
type Request struct {
	SessionID string
	UserID    string
	Task      string
}

// Result reports a terminated workflow along with its full narrative.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	Narrative     string  `json:"narrative"`
	RequiredInfo  string  `json:"required_info,omitempty"`
	Iterations    int     `json:"iterations"`
	CorrelationID string  `json:"correlation_id"`
}

// Executor runs workflows. Invocations for distinct sessions may run
// concurrently; invocations for the same session are serialized.
type Executor struct {
	registry    ports.Registry
	credentials ports.CredentialResolver
	readiness   ReadinessEvaluator
	action      ActionEvaluator
	progress    ProgressEvaluator
	config      Config
	logger      logging.Logger
	tracer      trace.Tracer

	sessionLocks sync.Map // session id -> *sync.Mutex
}

// NewExecutor wires a workflow executor. credentials may be nil when no
// agent needs tokens.
func NewExecutor(registry ports.Registry, credentials ports.CredentialResolver, readiness ReadinessEvaluator, action ActionEvaluator, progress ProgressEvaluator, config Config, logger logging.Logger) *Executor {
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaultMaxIterations
	}
	if config.DefaultTenant == "" {
		config.DefaultTenant = "default"
	}
	return &Executor{
		registry:    registry,
		credentials: credentials,
		readiness:   readiness,
		action:      action,
		progress:    progress,
		config:      config,
		logger:      logging.OrNop(logger),
		tracer:      otel.Tracer("aide/workflow"),
	}
}

// Execute runs the loop to one of its three terminations: completion,
// awaiting user input, or an IterationLimitError. The narrative is
// never silently discarded; the limit error carries it in full.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		return nil, &apperrors.ValidationError{Field: "workflow request", Reason: "session id is required"}
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, &apperrors.ValidationError{Field: "workflow request", Reason: "task is required"}
	}

	unlock := e.lockSession(req.SessionID)
	defer unlock()

	correlationID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.session_id", req.SessionID),
		attribute.String("workflow.correlation_id", correlationID),
	))
	defer span.End()

	narrative := "Task: " + req.Task
	meta := Meta{SessionID: req.SessionID, UserID: req.UserID, CorrelationID: correlationID}

	for iteration := 1; iteration <= e.config.MaxIterations; iteration++ {
		meta.Iteration = iteration
		result, done, err := e.runIteration(ctx, req, meta, &narrative)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if done {
			result.Iterations = iteration
			span.SetAttributes(attribute.Int("workflow.iterations", iteration), attribute.String("workflow.outcome", string(result.Outcome)))
			return result, nil
		}
	}

	err := &apperrors.IterationLimitError{
		SessionID:  req.SessionID,
		Iterations: e.config.MaxIterations,
		Narrative:  narrative,
	}
	span.RecordError(err)
	return nil, err
}

func (e *Executor) runIteration(ctx context.Context, req Request, meta Meta, narrative *string) (*Result, bool, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.iteration", trace.WithAttributes(
		attribute.Int("workflow.iteration", meta.Iteration),
	))
	defer span.End()

	// Phase 1: readiness. A failure here is fatal.
	readiness, err := e.readiness.EvaluateReadiness(ctx, *narrative, meta)
	if err != nil {
		return nil, false, &apperrors.PhaseError{Phase: "readiness", SessionID: meta.SessionID, Iteration: meta.Iteration, Err: err}
	}
	if readiness.UpdatedContext != "" {
		*narrative = readiness.UpdatedContext
	}
	if readiness.NeedsUserInput {
		e.logger.Info("workflow %s awaiting user input at iteration %d", meta.SessionID, meta.Iteration)
		return &Result{
			Outcome:       OutcomeAwaitingInput,
			Narrative:     *narrative,
			RequiredInfo:  readiness.RequiredInfo,
			CorrelationID: meta.CorrelationID,
		}, true, nil
	}

	// Phase 2: action. The evaluator failing is fatal; the agent call
	// failing is not — it becomes a narrative entry.
	action, err := e.action.EvaluateAction(ctx, *narrative, meta)
	if err != nil {
		return nil, false, &apperrors.PhaseError{Phase: "action", SessionID: meta.SessionID, Iteration: meta.Iteration, Err: err}
	}
	if action.UpdatedContext != "" {
		*narrative = action.UpdatedContext
	}
	if action.Agent != "" && action.Request != "" {
		*narrative += "\n" + e.invokeAgent(ctx, req, action.Agent, action.Request)
	}

	// Phase 3: progress. A failure here is fatal; no remaining steps
	// means the workflow is complete.
	progress, err := e.progress.EvaluateProgress(ctx, *narrative, meta)
	if err != nil {
		return nil, false, &apperrors.PhaseError{Phase: "progress", SessionID: meta.SessionID, Iteration: meta.Iteration, Err: err}
	}
	if progress.UpdatedContext != "" {
		*narrative = progress.UpdatedContext
	}
	if len(progress.NewSteps) == 0 {
		e.logger.Info("workflow %s completed at iteration %d", meta.SessionID, meta.Iteration)
		return &Result{
			Outcome:       OutcomeCompleted,
			Narrative:     *narrative,
			CorrelationID: meta.CorrelationID,
		}, true, nil
	}
	return nil, false, nil
}

// invokeAgent resolves a credential and runs the named agent with the
// natural-language request. Both success and failure are reported as a
// distinguishable narrative entry; failures never abort the workflow.
func (e *Executor) invokeAgent(ctx context.Context, req Request, agentName, request string) string {
	agent := e.registry.GetAgent(agentName)
	if agent == nil {
		return fmt.Sprintf("Agent Execution Error: agent %q not found", agentName)
	}

	credential := e.resolveCredential(ctx, req.UserID, agentName, agent)
	execCtx := ports.ExecutionContext{SessionID: req.SessionID, UserID: req.UserID}
	result, err := agent.Execute(ctx, map[string]any{"request": request}, execCtx, credential)
	if err != nil {
		e.logger.Warn("workflow %s: agent %s failed: %v", req.SessionID, agentName, err)
		return fmt.Sprintf("Agent Execution Error: %s: %v", agentName, err)
	}
	if result == nil || !result.Success {
		reason := "agent reported failure"
		if result != nil && result.Error != "" {
			reason = result.Error
		}
		return fmt.Sprintf("Agent Execution Error: %s: %s", agentName, reason)
	}
	return fmt.Sprintf("Agent Execution Result: %s: %v", agentName, result.Data)
}

func (e *Executor) resolveCredential(ctx context.Context, userID, agentName string, agent ports.Agent) string {
	if e.credentials == nil {
		return ""
	}
	category := agentName
	if categorized, ok := agent.(ports.ServiceCategorized); ok {
		category = categorized.ServiceCategory()
	}
	tenantID, user := splitIdentity(userID, e.config.DefaultTenant)
	credential, err := e.credentials.GetValidCredential(ctx, tenantID, user, category)
	if err != nil {
		e.logger.Warn("credential lookup failed for %s/%s/%s: %v", tenantID, user, category, err)
		return ""
	}
	return credential
}

// splitIdentity parses "tenant:user" identities; bare user ids fall
// under the default tenant.
func splitIdentity(userID, defaultTenant string) (tenantID, user string) {
	if tenant, rest, ok := strings.Cut(userID, ":"); ok && tenant != "" && rest != "" {
		return tenant, rest
	}
	return defaultTenant, userID
}

func (e *Executor) lockSession(sessionID string) func() {
	value, _ := e.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
