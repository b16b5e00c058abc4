package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentRepository implements assignment.Repository for PostgreSQL.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

const assignmentColumns = `
	user_id, experiment_id, variant_id, bucket_hash, assigned_at, exposures
`

// Upsert inserts the assignment unless a row already exists for the
// (user, experiment) pair. ON CONFLICT DO NOTHING plus a read-back makes
// the operation single-writer-wins: whichever insert lands first is the
// row every concurrent caller gets back.
func (r *AssignmentRepository) Upsert(ctx context.Context, a *assignment.UserAssignment) (*assignment.UserAssignment, bool, error) {
	query := `
		INSERT INTO assignments (user_id, experiment_id, variant_id, bucket_hash, assigned_at, exposures)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, experiment_id) DO NOTHING
	`

	exposuresJSON, err := json.Marshal(a.Exposures)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal exposures: %w", err)
	}

	result, err := r.conn.Exec(ctx, query,
		a.UserID,
		a.ExperimentID,
		a.VariantID,
		a.BucketHash,
		a.AssignedAt,
		exposuresJSON,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert assignment: %w", err)
	}

	if result.RowsAffected() > 0 {
		return a, true, nil
	}

	winner, err := r.Get(ctx, a.Key())
	if err != nil {
		return nil, false, err
	}
	return winner, false, nil
}

// Get returns the assignment for a (user, experiment) pair.
func (r *AssignmentRepository) Get(ctx context.Context, key assignment.Key) (*assignment.UserAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = $1 AND experiment_id = $2`

	row := r.conn.QueryRow(ctx, query, key.UserID, key.ExperimentID)
	return scanAssignment(row)
}

// GetByUser returns all assignments a user currently holds.
func (r *AssignmentRepository) GetByUser(ctx context.Context, userID string) ([]*assignment.UserAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = $1 ORDER BY assigned_at`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments by user: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// GetByExperiment returns all assignments for an experiment.
func (r *AssignmentRepository) GetByExperiment(ctx context.Context, experimentID string) ([]*assignment.UserAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE experiment_id = $1 ORDER BY assigned_at`

	rows, err := r.conn.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments by experiment: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// CountByExperiment returns assignment counts keyed by variant id.
func (r *AssignmentRepository) CountByExperiment(ctx context.Context, experimentID string) (map[string]int, error) {
	query := `
		SELECT variant_id, COUNT(*)
		FROM assignments
		WHERE experiment_id = $1
		GROUP BY variant_id
	`

	rows, err := r.conn.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var variantID string
		var count int
		if err := rows.Scan(&variantID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan assignment count: %w", err)
		}
		counts[variantID] = count
	}

	return counts, rows.Err()
}

// AppendExposure appends one exposure to an existing assignment. The JSONB
// concatenation happens inside the database, so concurrent appends never
// lose entries.
func (r *AssignmentRepository) AppendExposure(ctx context.Context, key assignment.Key, exposure assignment.ExposureEvent) error {
	query := `
		UPDATE assignments
		SET exposures = exposures || $1::jsonb
		WHERE user_id = $2 AND experiment_id = $3
	`

	exposureJSON, err := json.Marshal([]assignment.ExposureEvent{exposure})
	if err != nil {
		return fmt.Errorf("failed to marshal exposure: %w", err)
	}

	result, err := r.conn.Exec(ctx, query, exposureJSON, key.UserID, key.ExperimentID)
	if err != nil {
		return fmt.Errorf("failed to append exposure: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrAssignmentNotFound
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func scanAssignment(row pgx.Row) (*assignment.UserAssignment, error) {
	var a assignment.UserAssignment
	var exposuresJSON []byte

	err := row.Scan(
		&a.UserID,
		&a.ExperimentID,
		&a.VariantID,
		&a.BucketHash,
		&a.AssignedAt,
		&exposuresJSON,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}

	if err := json.Unmarshal(exposuresJSON, &a.Exposures); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exposures: %w", err)
	}

	return &a, nil
}

func collectAssignments(rows pgx.Rows) ([]*assignment.UserAssignment, error) {
	var out []*assignment.UserAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
