package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULTS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ResultsCache keeps the latest computed analysis results per experiment so
// dashboards do not trigger a full recomputation on every read. Entries
// expire after TTLResults; the refresh job repopulates them.
type ResultsCache struct {
	cache  *Cache
	logger *slog.Logger
}

// NewResultsCache creates a ResultsCache on top of a Cache.
func NewResultsCache(cache *Cache, logger *slog.Logger) *ResultsCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultsCache{cache: cache, logger: logger}
}

// Put stores results for an experiment.
func (rc *ResultsCache) Put(ctx context.Context, experimentID string, results *experiment.Results) error {
	return rc.cache.Set(ctx, ResultsKey(experimentID), results, TTLResults)
}

// Get returns cached results for an experiment, or (nil, false) on a miss.
// Redis errors are logged and treated as misses so a cache outage never
// breaks reads.
func (rc *ResultsCache) Get(ctx context.Context, experimentID string) (*experiment.Results, bool) {
	var results experiment.Results
	err := rc.cache.Get(ctx, ResultsKey(experimentID), &results)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			rc.logger.Warn("results cache read failed",
				"experiment_id", experimentID,
				"error", err)
		}
		return nil, false
	}
	return &results, true
}

// Invalidate drops cached results for an experiment. Called when the
// experiment stops so the frozen results in storage become authoritative.
func (rc *ResultsCache) Invalidate(ctx context.Context, experimentID string) error {
	return rc.cache.Delete(ctx, ResultsKey(experimentID))
}
