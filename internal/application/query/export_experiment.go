package query

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPORT EXPERIMENT QUERY
// Serializes an experiment together with its results, assignments and events
// for the downstream BI/export layer.
// ══════════════════════════════════════════════════════════════════════════════

// ExportFormat names the supported serialization formats.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// ExportBundle is the JSON export shape.
type ExportBundle struct {
	Experiment  *experimentDTO                `json:"experiment"`
	Results     *experiment.Results           `json:"results,omitempty"`
	Assignments []*assignment.UserAssignment  `json:"assignments"`
	Events      []*assignment.ExperimentEvent `json:"events"`
	ExportedAt  time.Time                     `json:"exported_at"`
}

// experimentDTO flattens the aggregate for export consumers.
type experimentDTO struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Type        experiment.Type     `json:"type"`
	Status      experiment.Status   `json:"status"`
	Variants    []experiment.Variant `json:"variants"`
	StopReason  string              `json:"stop_reason,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	EndedAt     *time.Time          `json:"ended_at,omitempty"`
}

// ExportExperimentHandler produces export bundles.
type ExportExperimentHandler struct {
	experiments experiment.Repository
	assignments assignment.Repository
	events      assignment.EventRepository
	analyzer    *AnalyzeExperimentHandler
	logger      *slog.Logger
	now         func() time.Time
}

// NewExportExperimentHandler creates the handler.
func NewExportExperimentHandler(
	experiments experiment.Repository,
	assignments assignment.Repository,
	events assignment.EventRepository,
	analyzer *AnalyzeExperimentHandler,
	logger *slog.Logger,
) *ExportExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportExperimentHandler{
		experiments: experiments,
		assignments: assignments,
		events:      events,
		analyzer:    analyzer,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle serializes the experiment in the requested format.
// Returns shared.ErrExperimentNotFound for unknown ids.
func (h *ExportExperimentHandler) Handle(ctx context.Context, experimentID string, format ExportFormat) ([]byte, error) {
	exp, err := h.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	assignments, err := h.assignments.GetByExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	events, err := h.events.GetByExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	results := exp.Results
	if results == nil {
		if results, err = h.analyzer.Compute(ctx, exp); err != nil {
			h.logger.Error("compute results for export", "experiment_id", experimentID, "error", err)
			results = nil
		}
	}

	switch format {
	case FormatCSV:
		return h.exportCSV(assignments, events)
	case FormatJSON, "":
		bundle := ExportBundle{
			Experiment: &experimentDTO{
				ID:          exp.ID,
				Name:        exp.Name,
				Description: exp.Description,
				Type:        exp.Type,
				Status:      exp.Status,
				Variants:    exp.Variants,
				StopReason:  exp.StopReason,
				CreatedAt:   exp.CreatedAt,
				StartedAt:   exp.StartedAt,
				EndedAt:     exp.EndedAt,
			},
			Results:     results,
			Assignments: assignments,
			Events:      events,
			ExportedAt:  h.now(),
		}
		return json.MarshalIndent(bundle, "", "  ")
	default:
		return nil, shared.NewDomainError("experiment", "Export", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported export format %q", format))
	}
}

// exportCSV writes one row per assignment followed by one row per event.
// Experiment metadata lives in the JSON export; CSV is the raw observation table.
func (h *ExportExperimentHandler) exportCSV(
	assignments []*assignment.UserAssignment,
	events []*assignment.ExperimentEvent,
) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"record", "user_id", "experiment_id", "variant_id", "name", "value", "timestamp"})
	for _, a := range assignments {
		_ = w.Write([]string{
			"assignment", a.UserID, a.ExperimentID, a.VariantID, "",
			strconv.FormatFloat(a.BucketHash, 'f', -1, 64),
			a.AssignedAt.Format(time.RFC3339),
		})
	}
	for _, ev := range events {
		_ = w.Write([]string{
			"event", ev.UserID, ev.ExperimentID, ev.VariantID, ev.Name,
			strconv.FormatFloat(ev.Value, 'f', -1, 64),
			ev.Timestamp.Format(time.RFC3339),
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, shared.WrapError("experiment", "Export", shared.ErrInvalidFormat, "write csv", err)
	}
	return buf.Bytes(), nil
}
