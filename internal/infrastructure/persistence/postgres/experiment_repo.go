package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ExperimentRepository implements experiment.Repository for PostgreSQL.
type ExperimentRepository struct {
	conn *Connection
}

// NewExperimentRepository creates a new ExperimentRepository.
func NewExperimentRepository(conn *Connection) *ExperimentRepository {
	return &ExperimentRepository{conn: conn}
}

const experimentColumns = `
	id, name, description, type, status, variants, metrics, segmentation,
	allocation, schedule, statistical, results, stop_reason,
	created_at, started_at, ended_at
`

// Create persists a new experiment.
func (r *ExperimentRepository) Create(ctx context.Context, exp *experiment.Experiment) error {
	query := `
		INSERT INTO experiments (
			id, name, description, type, status, variants, metrics, segmentation,
			allocation, schedule, statistical, results, stop_reason,
			created_at, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	cols, err := marshalExperiment(exp)
	if err != nil {
		return err
	}

	_, err = r.conn.Exec(ctx, query,
		exp.ID,
		exp.Name,
		exp.Description,
		string(exp.Type),
		string(exp.Status),
		cols.variants,
		cols.metrics,
		cols.segmentation,
		cols.allocation,
		cols.schedule,
		cols.statistical,
		cols.results,
		exp.StopReason,
		exp.CreatedAt,
		exp.StartedAt,
		exp.EndedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrExperimentAlreadyExists
		}
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	return nil
}

// GetByID returns an experiment by id.
func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*experiment.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, id)
	return scanExperiment(row)
}

// Update persists the full aggregate atomically.
func (r *ExperimentRepository) Update(ctx context.Context, exp *experiment.Experiment) error {
	query := `
		UPDATE experiments SET
			name = $1,
			description = $2,
			type = $3,
			status = $4,
			variants = $5,
			metrics = $6,
			segmentation = $7,
			allocation = $8,
			schedule = $9,
			statistical = $10,
			results = $11,
			stop_reason = $12,
			started_at = $13,
			ended_at = $14
		WHERE id = $15
	`

	cols, err := marshalExperiment(exp)
	if err != nil {
		return err
	}

	result, err := r.conn.Exec(ctx, query,
		exp.Name,
		exp.Description,
		string(exp.Type),
		string(exp.Status),
		cols.variants,
		cols.metrics,
		cols.segmentation,
		cols.allocation,
		cols.schedule,
		cols.statistical,
		cols.results,
		exp.StopReason,
		exp.StartedAt,
		exp.EndedAt,
		exp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrExperimentNotFound
	}

	return nil
}

// GetByStatus returns experiments in the given lifecycle state.
func (r *ExperimentRepository) GetByStatus(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE status = $1 ORDER BY created_at`

	rows, err := r.conn.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments by status: %w", err)
	}
	defer rows.Close()

	return collectExperiments(rows)
}

// GetAll returns every experiment.
func (r *ExperimentRepository) GetAll(ctx context.Context) ([]*experiment.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments ORDER BY created_at`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	return collectExperiments(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

type experimentJSON struct {
	variants     []byte
	metrics      []byte
	segmentation []byte
	allocation   []byte
	schedule     []byte
	statistical  []byte
	results      []byte
}

func marshalExperiment(exp *experiment.Experiment) (*experimentJSON, error) {
	var cols experimentJSON
	var err error

	if cols.variants, err = json.Marshal(exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}
	if cols.metrics, err = json.Marshal(exp.TargetMetrics); err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if cols.segmentation, err = json.Marshal(exp.Segmentation); err != nil {
		return nil, fmt.Errorf("failed to marshal segmentation: %w", err)
	}
	if cols.allocation, err = json.Marshal(exp.Allocation); err != nil {
		return nil, fmt.Errorf("failed to marshal allocation: %w", err)
	}
	if cols.schedule, err = json.Marshal(exp.Schedule); err != nil {
		return nil, fmt.Errorf("failed to marshal schedule: %w", err)
	}
	if cols.statistical, err = json.Marshal(exp.Statistical); err != nil {
		return nil, fmt.Errorf("failed to marshal statistical config: %w", err)
	}
	if exp.Results != nil {
		if cols.results, err = json.Marshal(exp.Results); err != nil {
			return nil, fmt.Errorf("failed to marshal results: %w", err)
		}
	}

	return &cols, nil
}

func scanExperiment(row pgx.Row) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	var typ, status string
	var cols experimentJSON

	err := row.Scan(
		&exp.ID,
		&exp.Name,
		&exp.Description,
		&typ,
		&status,
		&cols.variants,
		&cols.metrics,
		&cols.segmentation,
		&cols.allocation,
		&cols.schedule,
		&cols.statistical,
		&cols.results,
		&exp.StopReason,
		&exp.CreatedAt,
		&exp.StartedAt,
		&exp.EndedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}

	exp.Type = experiment.Type(typ)
	exp.Status = experiment.Status(status)

	if err := json.Unmarshal(cols.variants, &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if err := json.Unmarshal(cols.metrics, &exp.TargetMetrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal(cols.segmentation, &exp.Segmentation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segmentation: %w", err)
	}
	if err := json.Unmarshal(cols.allocation, &exp.Allocation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allocation: %w", err)
	}
	if err := json.Unmarshal(cols.schedule, &exp.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal(cols.statistical, &exp.Statistical); err != nil {
		return nil, fmt.Errorf("failed to unmarshal statistical config: %w", err)
	}
	if len(cols.results) > 0 {
		exp.Results = &experiment.Results{}
		if err := json.Unmarshal(cols.results, exp.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}

	return &exp, nil
}

func collectExperiments(rows pgx.Rows) ([]*experiment.Experiment, error) {
	var out []*experiment.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}
