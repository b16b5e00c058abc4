package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExportHandler(f *fixture) *ExportExperimentHandler {
	analyzer := NewAnalyzeExperimentHandler(f.experiments, f.assignments, f.events, nil)
	return NewExportExperimentHandler(f.experiments, f.assignments, f.events, analyzer, nil)
}

func TestExport_JSON(t *testing.T) {
	f := newFixture(t)
	f.populate(t, "control", 10, 4)
	f.populate(t, "treatment", 10, 6)

	h := newExportHandler(f)
	data, err := h.Handle(context.Background(), f.exp.ID, FormatJSON)
	require.NoError(t, err)

	var bundle ExportBundle
	require.NoError(t, json.Unmarshal(data, &bundle))

	require.NotNil(t, bundle.Experiment)
	assert.Equal(t, f.exp.ID, bundle.Experiment.ID)
	assert.Len(t, bundle.Experiment.Variants, 2)
	assert.Len(t, bundle.Assignments, 20)
	assert.Len(t, bundle.Events, 10)
	require.NotNil(t, bundle.Results)
	assert.Len(t, bundle.Results.VariantResults, 2)
	assert.False(t, bundle.ExportedAt.IsZero())
}

func TestExport_EmptyFormatDefaultsToJSON(t *testing.T) {
	f := newFixture(t)

	h := newExportHandler(f)
	data, err := h.Handle(context.Background(), f.exp.ID, "")
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestExport_CSV(t *testing.T) {
	f := newFixture(t)
	f.populate(t, "control", 5, 2)

	h := newExportHandler(f)
	data, err := h.Handle(context.Background(), f.exp.ID, FormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)

	// Header + 5 assignments + 2 events.
	require.Len(t, records, 8)
	assert.Equal(t, []string{"record", "user_id", "experiment_id", "variant_id", "name", "value", "timestamp"}, records[0])

	assignments, events := 0, 0
	for _, row := range records[1:] {
		switch row[0] {
		case "assignment":
			assignments++
		case "event":
			events++
		}
	}
	assert.Equal(t, 5, assignments)
	assert.Equal(t, 2, events)
}

func TestExport_UnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	h := newExportHandler(f)

	_, err := h.Handle(context.Background(), f.exp.ID, "xml")
	assert.Error(t, err)
}

func TestGetExperiment_Overview(t *testing.T) {
	f := newFixture(t)
	f.populate(t, "control", 7, 3)

	h := NewGetExperimentHandler(f.experiments, f.assignments, f.events)
	overview, err := h.Handle(context.Background(), f.exp.ID)
	require.NoError(t, err)

	assert.Equal(t, f.exp.ID, overview.Experiment.ID)
	assert.Equal(t, 7, overview.Assignments)
	assert.Equal(t, 3, overview.Events)
}

func TestGetExperiment_List(t *testing.T) {
	f := newFixture(t)
	h := NewGetExperimentHandler(f.experiments, f.assignments, f.events)
	ctx := context.Background()

	all, err := h.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	running, err := h.List(ctx, "running")
	require.NoError(t, err)
	assert.Len(t, running, 1)

	drafts, err := h.List(ctx, "draft")
	require.NoError(t, err)
	assert.Empty(t, drafts)
}
