package confirmation

import (
	"context"
	"fmt"
)

// Repository persists confirmation flows. Implementations must be safe
// for concurrent use.
//
// Get returns a NotFoundError for unknown ids. Transition applies a
// conditional update: it mutates the flow only while its current
// status equals from, so two concurrent respond calls cannot both win.
type Repository interface {
	Save(ctx context.Context, flow *Flow) error
	Get(ctx context.Context, id string) (*Flow, error)
	Transition(ctx context.Context, id string, from Status, apply func(*Flow)) (*Flow, error)
	// Pending returns flows still in StatusPending, optionally scoped
	// to a session (empty sessionID means all sessions).
	Pending(ctx context.Context, sessionID string) ([]*Flow, error)
	// All returns every flow, optionally scoped to a session.
	All(ctx context.Context, sessionID string) ([]*Flow, error)
}

// StateConflictError reports a conditional transition that found the
// flow in a different status than expected. The service layer maps it
// onto the caller-facing typed error for the operation at hand.
type StateConflictError struct {
	ID       string
	Expected Status
	Current  Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("confirmation %s is %s, expected %s", e.ID, e.Current, e.Expected)
}

// StatsAggregator is an optional Repository capability: stores that can
// aggregate statistics natively (for example with SQL GROUP BY)
// implement it, and the service prefers it over in-memory computation.
type StatsAggregator interface {
	AggregateStats(ctx context.Context, sessionID string) (*Stats, error)
}
