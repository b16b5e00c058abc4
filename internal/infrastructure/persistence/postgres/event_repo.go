package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements assignment.EventRepository for PostgreSQL.
// Events are append-only; there is no update path.
type EventRepository struct {
	conn *Connection
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{conn: conn}
}

// Append stores one immutable event.
func (r *EventRepository) Append(ctx context.Context, event *assignment.ExperimentEvent) error {
	query := `
		INSERT INTO events (id, user_id, experiment_id, variant_id, name, value, properties, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	propsJSON, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal event properties: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		event.ID,
		event.UserID,
		event.ExperimentID,
		event.VariantID,
		event.Name,
		event.Value,
		propsJSON,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetByExperiment returns all events recorded for an experiment.
func (r *EventRepository) GetByExperiment(ctx context.Context, experimentID string) ([]*assignment.ExperimentEvent, error) {
	query := `
		SELECT id, user_id, experiment_id, variant_id, name, value, properties, occurred_at
		FROM events
		WHERE experiment_id = $1
		ORDER BY occurred_at
	`

	rows, err := r.conn.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*assignment.ExperimentEvent
	for rows.Next() {
		var e assignment.ExperimentEvent
		var propsJSON []byte

		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.ExperimentID,
			&e.VariantID,
			&e.Name,
			&e.Value,
			&propsJSON,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if err := json.Unmarshal(propsJSON, &e.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event properties: %w", err)
		}

		out = append(out, &e)
	}

	return out, rows.Err()
}

// CountByExperiment returns the number of events for an experiment.
func (r *EventRepository) CountByExperiment(ctx context.Context, experimentID string) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE experiment_id = $1`

	var count int
	if err := r.conn.QueryRow(ctx, query, experimentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}
