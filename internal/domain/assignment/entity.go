// Package assignment contains the sticky user-to-variant pairing and the
// immutable event facts recorded against it. Assignments are owned by the
// assignment engine; the tracker and the analyzer only read them.
package assignment

import (
	"time"
)

// ExposureEvent is one recorded exposure/outcome on an assignment.
// Append-only, never rewritten.
type ExposureEvent struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// UserAssignment is the durable pairing of (userID, experimentID) to a
// variant, created at most once per pair ("sticky").
type UserAssignment struct {
	// UserID + ExperimentID form the natural key.
	UserID       string `json:"user_id"`
	ExperimentID string `json:"experiment_id"`

	// VariantID is the arm the user landed in, fixed for the life of
	// the experiment.
	VariantID string `json:"variant_id"`

	// BucketHash is the bucketing value the assignment was derived from,
	// kept for audit and re-derivation checks.
	BucketHash float64 `json:"bucket_hash"`

	// AssignedAt is when the assignment was first created.
	AssignedAt time.Time `json:"assigned_at"`

	// Exposures is the append-only exposure list.
	Exposures []ExposureEvent `json:"exposures,omitempty"`
}

// Key returns the natural key for the assignment.
func (a *UserAssignment) Key() Key {
	return Key{UserID: a.UserID, ExperimentID: a.ExperimentID}
}

// Key identifies an assignment by its (user, experiment) pair.
type Key struct {
	UserID       string
	ExperimentID string
}

// ExperimentEvent is an immutable fact produced by the tracker.
type ExperimentEvent struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	ExperimentID string                 `json:"experiment_id"`
	VariantID    string                 `json:"variant_id"`
	Name         string                 `json:"name"`
	Value        float64                `json:"value"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}
