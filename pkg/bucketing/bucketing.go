// Package bucketing provides deterministic pseudo-random bucketing of users
// into the [0,1) interval. The same (userID, experimentID) pair always maps
// to the same value, independent of process restarts, which keeps traffic
// partitioning and rollout decisions stable for the life of an experiment.
// No external dependencies - uses only standard library.
package bucketing

import (
	"hash/fnv"
)

// Bucketer maps a (userID, experimentID) pair to a value in [0,1).
// Implementations must be deterministic; the engine takes a Bucketer
// injected so tests can pin the value.
type Bucketer func(userID, experimentID string) float64

// Hash is the default Bucketer. It hashes "userID:experimentID" with
// FNV-1a (32-bit) and normalizes the sum to [0,1).
func Hash(userID, experimentID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(experimentID))
	// 1<<32 keeps the result strictly below 1.
	return float64(h.Sum32()) / (1 << 32)
}

// Fixed returns a Bucketer that always yields the given value.
// Intended for deterministic tests.
func Fixed(value float64) Bucketer {
	return func(string, string) float64 { return value }
}

// InBucket reports whether the user falls inside the first `percent`
// share of traffic for the experiment. percent is 0-100.
func InBucket(userID, experimentID string, percent float64) bool {
	return Hash(userID, experimentID)*100 < percent
}
