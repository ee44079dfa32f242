package confirmation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"aide/internal/apperrors"
	"aide/internal/logging"
)

// fallbackRepository composes the cache tier with an optional durable
// tier. The cache is always written; durable writes are best effort —
// a durable failure is logged and the repository keeps operating
// cache-only.
type fallbackRepository struct {
	cache   Repository
	durable Repository
	logger  logging.Logger
}

// NewFallbackRepository wires cache and durable into one Repository.
// durable may be nil for cache-only operation.
func NewFallbackRepository(cache, durable Repository, logger logging.Logger) Repository {
	return &fallbackRepository{
		cache:   cache,
		durable: durable,
		logger:  logging.OrNop(logger),
	}
}

func (r *fallbackRepository) Save(ctx context.Context, flow *Flow) error {
	if err := r.cache.Save(ctx, flow); err != nil {
		return err
	}
	if r.durable != nil {
		if err := r.durable.Save(ctx, flow); err != nil {
			r.logger.Warn("%v", &apperrors.StoreUnavailableError{Op: "save", Err: err})
		}
	}
	return nil
}

func (r *fallbackRepository) Get(ctx context.Context, id string) (*Flow, error) {
	flow, err := r.cache.Get(ctx, id)
	if err == nil {
		return flow, nil
	}
	if !apperrors.IsNotFound(err) || r.durable == nil {
		return nil, err
	}

	flow, err = r.durable.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Populate the cache so subsequent reads stay local.
	if cacheErr := r.cache.Save(ctx, flow); cacheErr != nil {
		r.logger.Warn("failed to repopulate cache for %s: %v", id, cacheErr)
	}
	return flow, nil
}

func (r *fallbackRepository) Transition(ctx context.Context, id string, from Status, apply func(*Flow)) (*Flow, error) {
	// Make sure the flow is cached so the conditional check runs
	// against the freshest local copy.
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	flow, err := r.cache.Transition(ctx, id, from, apply)
	if err != nil {
		return nil, err
	}
	if r.durable != nil {
		if _, err := r.durable.Transition(ctx, id, from, apply); err != nil {
			r.logger.Warn("%v", &apperrors.StoreUnavailableError{Op: "transition", Err: err})
		}
	}
	return flow, nil
}

func (r *fallbackRepository) Pending(ctx context.Context, sessionID string) ([]*Flow, error) {
	return r.merged(ctx, sessionID, Repository.Pending)
}

func (r *fallbackRepository) All(ctx context.Context, sessionID string) ([]*Flow, error) {
	return r.merged(ctx, sessionID, Repository.All)
}

// merged queries both tiers concurrently and deduplicates by id,
// preferring the cache entry: conditional transitions land there first.
func (r *fallbackRepository) merged(ctx context.Context, sessionID string, list func(Repository, context.Context, string) ([]*Flow, error)) ([]*Flow, error) {
	var cached, durable []*Flow

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		cached, err = list(r.cache, groupCtx, sessionID)
		return err
	})
	if r.durable != nil {
		group.Go(func() error {
			flows, err := list(r.durable, groupCtx, sessionID)
			if err != nil {
				r.logger.Warn("%v", &apperrors.StoreUnavailableError{Op: "list", Err: err})
				return nil
			}
			durable = flows
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cached))
	merged := make([]*Flow, 0, len(cached)+len(durable))
	for _, flow := range cached {
		seen[flow.ID] = true
		merged = append(merged, flow)
	}
	for _, flow := range durable {
		if !seen[flow.ID] {
			merged = append(merged, flow)
		}
	}
	return merged, nil
}

// AggregateStats defers to the durable tier's native aggregation when
// it has one.
func (r *fallbackRepository) AggregateStats(ctx context.Context, sessionID string) (*Stats, error) {
	if aggregator, ok := r.durable.(StatsAggregator); ok && r.durable != nil {
		stats, err := aggregator.AggregateStats(ctx, sessionID)
		if err == nil {
			return stats, nil
		}
		r.logger.Warn("%v", &apperrors.StoreUnavailableError{Op: "aggregate", Err: err})
	}
	flows, err := r.All(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return computeStats(flows), nil
}
