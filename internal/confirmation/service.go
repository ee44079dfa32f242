package confirmation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"aide/internal/apperrors"
	"aide/internal/executor"
	"aide/internal/logging"
	"aide/internal/ports"
)

const (
	defaultExpiration      = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
	cleanupTimeout         = 30 * time.Second
)

// ToolRunner executes the real action once a flow has been confirmed.
// *executor.Executor satisfies it.
type ToolRunner interface {
	ExecuteTool(ctx context.Context, call ports.ToolCall, execCtx ports.ExecutionContext, credential string, opts executor.Options) (ports.ToolResult, error)
}

// Config holds service tunables.
type Config struct {
	// DefaultExpiration applies when a create request carries none.
	DefaultExpiration time.Duration
	// CleanupInterval is the period of the background expiration sweep.
	CleanupInterval time.Duration
}

// Service owns the confirmation state machine. All writes to a Flow go
// through it; the Repository is a passive holder.
type Service struct {
	repo     Repository
	registry ports.Registry
	runner   ToolRunner
	config   Config
	metrics  *Metrics
	logger   logging.Logger

	cron     *cron.Cron
	stopped  chan struct{}
	stopOnce sync.Once
	startMu  sync.Mutex
	started  bool
}

// NewService creates a confirmation service. metrics may be nil.
func NewService(repo Repository, registry ports.Registry, runner ToolRunner, config Config, metrics *Metrics, logger logging.Logger) *Service {
	if config.DefaultExpiration <= 0 {
		config.DefaultExpiration = defaultExpiration
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	return &Service{
		repo:     repo,
		registry: registry,
		runner:   runner,
		config:   config,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
		stopped:  make(chan struct{}),
	}
}

// CreateRequest describes a new confirmation flow.
type CreateRequest struct {
	SessionID      string
	UserID         string
	ToolCall       ports.ToolCall
	Context        ports.ExecutionContext
	ExpiresIn      time.Duration
	ChannelContext map[string]any
}

// Create builds a flow with an action preview and persists it. Durable
// store failures do not abort creation; the service continues
// cache-only.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Flow, error) {
	if req.SessionID == "" {
		return nil, &apperrors.ValidationError{Field: "confirmation request", Reason: "session id is required"}
	}
	if req.ToolCall.Name == "" {
		return nil, &apperrors.ValidationError{Field: "confirmation request", Reason: "tool call name is required"}
	}

	expiresIn := req.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.config.DefaultExpiration
	}

	now := time.Now()
	flow := &Flow{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		ToolCall:       req.ToolCall,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(expiresIn),
		ChannelContext: req.ChannelContext,
	}
	flow.Preview = s.generatePreview(ctx, flow.ID, req.ToolCall, req.Context)

	if err := s.repo.Save(ctx, flow); err != nil {
		return nil, err
	}
	s.metrics.flowCreated()
	s.logger.Info("created confirmation %s for session %s (tool %s, expires %s)",
		flow.ID, flow.SessionID, flow.ToolCall.Name, flow.ExpiresAt.Format(time.RFC3339))
	return flow, nil
}

// Get returns the flow, enforcing lazy expiration: a pending flow past
// its deadline is transitioned to expired on first read, and expired
// flows stay hidden on every read after that. The record itself is
// retained for stats and cleanup accounting.
func (s *Service) Get(ctx context.Context, id string) (*Flow, error) {
	flow, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case flow.Status == StatusPending && flow.Expired(time.Now()):
		s.expire(ctx, flow.ID)
		return nil, &apperrors.NotFoundError{ConfirmationID: id}
	case flow.Status == StatusExpired:
		return nil, &apperrors.NotFoundError{ConfirmationID: id}
	}
	return flow, nil
}

// Response is the user's decision on a pending flow.
type Response struct {
	Confirmed   bool
	RespondedAt time.Time
	UserContext map[string]any
}

// Respond transitions PENDING to CONFIRMED or REJECTED. Responding to a
// flow in any other state fails with CONFIRMATION_ALREADY_RESPONDED and
// leaves the record unchanged.
func (s *Service) Respond(ctx context.Context, id string, resp Response) (*Flow, error) {
	flow, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	respondedAt := resp.RespondedAt
	if respondedAt.IsZero() {
		respondedAt = time.Now()
	}
	target := StatusRejected
	if resp.Confirmed {
		target = StatusConfirmed
	}

	updated, err := s.repo.Transition(ctx, id, StatusPending, func(f *Flow) {
		f.Status = target
		f.ConfirmedAt = &respondedAt
	})
	if err != nil {
		var conflict *StateConflictError
		if errors.As(err, &conflict) {
			return nil, &apperrors.AlreadyRespondedError{ConfirmationID: id, Status: string(conflict.Current)}
		}
		return nil, err
	}

	s.metrics.flowResponded(resp.Confirmed, respondedAt.Sub(flow.CreatedAt))
	s.logger.Info("confirmation %s responded: %s", id, target)
	return updated, nil
}

// Execute runs the approved action for a CONFIRMED flow and records the
// outcome. Calling it in any other state fails before any domain action
// runs.
func (s *Service) Execute(ctx context.Context, id string) (*Flow, error) {
	flow, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Status != StatusConfirmed {
		return nil, &apperrors.ExecutionStateError{ConfirmationID: id, Status: string(flow.Status)}
	}

	execCtx := ports.ExecutionContext{
		SessionID:      flow.SessionID,
		UserID:         flow.UserID,
		Timestamp:      time.Now(),
		ChannelContext: flow.ChannelContext,
	}
	result, err := s.runner.ExecuteTool(ctx, flow.ToolCall, execCtx, "", executor.Options{Preview: false})
	if err != nil {
		result = ports.ToolResult{
			ToolName: flow.ToolCall.Name,
			Success:  false,
			Error:    err.Error(),
		}
	}

	executedAt := time.Now()
	target := StatusFailed
	if result.Success {
		target = StatusExecuted
	}

	updated, err := s.repo.Transition(ctx, id, StatusConfirmed, func(f *Flow) {
		f.Status = target
		f.ExecutedAt = &executedAt
		f.ExecutionResult = &result
	})
	if err != nil {
		var conflict *StateConflictError
		if errors.As(err, &conflict) {
			return nil, &apperrors.ExecutionStateError{ConfirmationID: id, Status: string(conflict.Current)}
		}
		return nil, err
	}

	s.metrics.flowExecuted(result.Success)
	s.logger.Info("confirmation %s executed: %s", id, target)
	return updated, nil
}

// Pending returns the flows still awaiting a response for a session,
// expiring past-due ones on the way.
func (s *Service) Pending(ctx context.Context, sessionID string) ([]*Flow, error) {
	flows, err := s.repo.Pending(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	live := make([]*Flow, 0, len(flows))
	for _, flow := range flows {
		if flow.Expired(now) {
			s.expire(ctx, flow.ID)
			continue
		}
		live = append(live, flow)
	}
	return live, nil
}

// Stats aggregates confirmation outcomes, preferring the durable
// store's native aggregation when the repository provides one.
func (s *Service) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	if aggregator, ok := s.repo.(StatsAggregator); ok {
		return aggregator.AggregateStats(ctx, sessionID)
	}
	flows, err := s.repo.All(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return computeStats(flows), nil
}

// CleanupExpired sweeps all pending flows and expires past-due ones,
// returning the count cleaned. It is also run periodically once the
// service is started.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	flows, err := s.repo.Pending(ctx, "")
	if err != nil {
		return 0, err
	}

	now := time.Now()
	cleaned := 0
	for _, flow := range flows {
		if !flow.Expired(now) {
			continue
		}
		if s.expire(ctx, flow.ID) {
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Info("expired %d confirmation(s)", cleaned)
	}
	return cleaned, nil
}

// expire transitions a pending flow to expired. Races with responders
// or other sweeps are benign: the conditional transition makes the
// operation idempotent.
func (s *Service) expire(ctx context.Context, id string) bool {
	_, err := s.repo.Transition(ctx, id, StatusPending, func(f *Flow) {
		f.Status = StatusExpired
	})
	if err != nil {
		var conflict *StateConflictError
		if !errors.As(err, &conflict) && !apperrors.IsNotFound(err) {
			s.logger.Warn("failed to expire confirmation %s: %v", id, err)
		}
		return false
	}
	s.metrics.flowsExpired(1)
	return true
}

// Start launches the periodic expiration sweep. Safe to call once per
// service instance; Stop must be called on shutdown so no timer leaks
// across instances or test runs.
func (s *Service) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.config.CleanupInterval.String(), func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, err := s.CleanupExpired(sweepCtx); err != nil {
			s.logger.Warn("expiration sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("confirmation sweeper started (interval %s)", s.config.CleanupInterval)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopped:
		}
	}()
	return nil
}

// Stop halts the background sweep. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			stopCtx := s.cron.Stop()
			<-stopCtx.Done()
		}
		close(s.stopped)
		s.logger.Info("confirmation sweeper stopped")
	})
}

// Done returns a channel closed once the service has fully stopped.
func (s *Service) Done() <-chan struct{} {
	return s.stopped
}
