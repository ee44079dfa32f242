package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aide/internal/apperrors"
	"aide/internal/logging"
	"aide/internal/ports"
)

const flowTable = "confirmation_flows"

// PGStore is the Postgres-backed durable tier. One row per flow;
// structured fields are serialized as JSONB.
type PGStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPGStore constructs a Postgres-backed flow store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{
		pool:   pool,
		logger: logging.NewComponentLogger("ConfirmationPGStore"),
	}
}

// EnsureSchema creates the flow table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("confirmation store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT,
    action_preview JSONB NOT NULL,
    original_tool_call JSONB NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    confirmed_at TIMESTAMPTZ,
    executed_at TIMESTAMPTZ,
    execution_result JSONB,
    channel_context JSONB
);
CREATE INDEX IF NOT EXISTS idx_confirmation_flows_session ON %s (session_id);
CREATE INDEX IF NOT EXISTS idx_confirmation_flows_status ON %s (status);
`, flowTable, flowTable, flowTable)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return err
	}
	s.logger.Info("confirmation flow schema ensured")
	return nil
}

func (s *PGStore) Save(ctx context.Context, flow *Flow) error {
	preview, toolCall, execResult, channelCtx, err := marshalFlowColumns(flow)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, session_id, user_id, action_preview, original_tool_call, status, created_at, expires_at, confirmed_at, executed_at, execution_result, channel_context)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    confirmed_at = EXCLUDED.confirmed_at,
    executed_at = EXCLUDED.executed_at,
    execution_result = EXCLUDED.execution_result
`, flowTable)

	_, err = s.pool.Exec(ctx, query,
		flow.ID,
		flow.SessionID,
		flow.UserID,
		preview,
		toolCall,
		string(flow.Status),
		flow.CreatedAt,
		flow.ExpiresAt,
		flow.ConfirmedAt,
		flow.ExecutedAt,
		execResult,
		channelCtx,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Flow, error) {
	query := fmt.Sprintf(`
SELECT id, session_id, user_id, action_preview, original_tool_call, status, created_at, expires_at, confirmed_at, executed_at, execution_result, channel_context
FROM %s WHERE id = $1
`, flowTable)

	flow, err := scanFlow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperrors.NotFoundError{ConfirmationID: id}
		}
		return nil, err
	}
	return flow, nil
}

// Transition performs a conditional update: the row is mutated only
// while its status still equals from, so concurrent responders cannot
// both win.
func (s *PGStore) Transition(ctx context.Context, id string, from Status, apply func(*Flow)) (*Flow, error) {
	flow, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Status != from {
		return nil, &StateConflictError{ID: id, Expected: from, Current: flow.Status}
	}

	apply(flow)
	if flow.Status != from && !CanTransition(from, flow.Status) {
		return nil, &apperrors.IllegalTransitionError{ConfirmationID: id, From: string(from), To: string(flow.Status)}
	}

	var execResult []byte
	if flow.ExecutionResult != nil {
		execResult, err = json.Marshal(flow.ExecutionResult)
		if err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, confirmed_at = $3, executed_at = $4, execution_result = $5
WHERE id = $1 AND status = $6
`, flowTable)

	tag, err := s.pool.Exec(ctx, query,
		id,
		string(flow.Status),
		flow.ConfirmedAt,
		flow.ExecutedAt,
		execResult,
		string(from),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race: someone else transitioned the row first.
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &StateConflictError{ID: id, Expected: from, Current: current.Status}
	}
	return flow, nil
}

func (s *PGStore) Pending(ctx context.Context, sessionID string) ([]*Flow, error) {
	return s.query(ctx, sessionID, string(StatusPending))
}

func (s *PGStore) All(ctx context.Context, sessionID string) ([]*Flow, error) {
	return s.query(ctx, sessionID, "")
}

func (s *PGStore) query(ctx context.Context, sessionID, status string) ([]*Flow, error) {
	query := fmt.Sprintf(`
SELECT id, session_id, user_id, action_preview, original_tool_call, status, created_at, expires_at, confirmed_at, executed_at, execution_result, channel_context
FROM %s
WHERE ($1 = '' OR session_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at
`, flowTable)

	rows, err := s.pool.Query(ctx, query, sessionID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// AggregateStats computes statistics in SQL so large histories never
// travel over the wire.
func (s *PGStore) AggregateStats(ctx context.Context, sessionID string) (*Stats, error) {
	query := fmt.Sprintf(`
SELECT status, COUNT(*), COALESCE(EXTRACT(EPOCH FROM AVG(confirmed_at - created_at)), 0)
FROM %s
WHERE ($1 = '' OR session_id = $1)
GROUP BY status
`, flowTable)

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{ByStatus: make(map[Status]int)}
	var weightedResponse float64
	var responded int
	for rows.Next() {
		var status string
		var count int
		var avgSeconds float64
		if err := rows.Scan(&status, &count, &avgSeconds); err != nil {
			return nil, err
		}
		stats.ByStatus[Status(status)] = count
		stats.Total += count
		if avgSeconds > 0 {
			weightedResponse += avgSeconds * float64(count)
			responded += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if responded > 0 {
		stats.AverageResponseTime = time.Duration(weightedResponse / float64(responded) * float64(time.Second))
	}
	if stats.Total > 0 {
		confirmed := stats.ByStatus[StatusConfirmed] + stats.ByStatus[StatusExecuted] + stats.ByStatus[StatusFailed]
		stats.ConfirmationRate = float64(confirmed) / float64(stats.Total) * 100
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*Flow, error) {
	var flow Flow
	var statusText string
	var preview, toolCall, execResult, channelCtx []byte

	err := row.Scan(
		&flow.ID,
		&flow.SessionID,
		&flow.UserID,
		&preview,
		&toolCall,
		&statusText,
		&flow.CreatedAt,
		&flow.ExpiresAt,
		&flow.ConfirmedAt,
		&flow.ExecutedAt,
		&execResult,
		&channelCtx,
	)
	if err != nil {
		return nil, err
	}

	flow.Status = Status(statusText)
	if err := json.Unmarshal(preview, &flow.Preview); err != nil {
		return nil, fmt.Errorf("decode action_preview: %w", err)
	}
	if err := json.Unmarshal(toolCall, &flow.ToolCall); err != nil {
		return nil, fmt.Errorf("decode original_tool_call: %w", err)
	}
	if len(execResult) > 0 {
		flow.ExecutionResult = &ports.ToolResult{}
		if err := json.Unmarshal(execResult, flow.ExecutionResult); err != nil {
			return nil, fmt.Errorf("decode execution_result: %w", err)
		}
	}
	if len(channelCtx) > 0 {
		if err := json.Unmarshal(channelCtx, &flow.ChannelContext); err != nil {
			return nil, fmt.Errorf("decode channel_context: %w", err)
		}
	}
	return &flow, nil
}

func marshalFlowColumns(flow *Flow) (preview, toolCall, execResult, channelCtx []byte, err error) {
	if preview, err = json.Marshal(flow.Preview); err != nil {
		return nil, nil, nil, nil, err
	}
	if toolCall, err = json.Marshal(flow.ToolCall); err != nil {
		return nil, nil, nil, nil, err
	}
	if flow.ExecutionResult != nil {
		if execResult, err = json.Marshal(flow.ExecutionResult); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if flow.ChannelContext != nil {
		if channelCtx, err = json.Marshal(flow.ChannelContext); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return preview, toolCall, execResult, channelCtx, nil
}
