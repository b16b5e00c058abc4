package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthhub/experiment-engine/internal/application/command"
	"github.com/growthhub/experiment-engine/internal/application/query"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/infrastructure/persistence/memory"
	"github.com/growthhub/experiment-engine/pkg/bucketing"
)

// newTestServer wires the full API over in-memory repositories with a
// deterministic bucketer so assignment outcomes are stable.
func newTestServer(t *testing.T, checkers map[string]HealthChecker) *Server {
	t.Helper()

	experiments := memory.NewExperimentRepository()
	assignments := memory.NewAssignmentRepository()
	events := memory.NewEventRepository()

	createCmd := command.NewCreateExperimentHandler(experiments, nil, nil)
	analyzeQuery := query.NewAnalyzeExperimentHandler(experiments, assignments, events, nil)

	deps := Dependencies{
		Create:       createCmd,
		Multivariate: command.NewCreateMultivariateHandler(createCmd),
		Start:        command.NewStartExperimentHandler(experiments, nil, nil),
		Stop:         command.NewStopExperimentHandler(experiments, analyzeQuery, nil, nil),
		Lifecycle:    command.NewLifecycleHandler(experiments, nil, nil),
		Assign:       command.NewAssignUserHandler(experiments, assignments, bucketing.Fixed(0.25), nil, nil),
		Track:        command.NewTrackEventHandler(experiments, assignments, events, nil, nil),

		Get:     query.NewGetExperimentHandler(experiments, assignments, events),
		Analyze: analyzeQuery,
		Export:  query.NewExportExperimentHandler(experiments, assignments, events, analyzeQuery, nil),
		Flags:   query.NewGetFeatureFlagHandler(experiments, assignments, nil),

		HealthCheckers: checkers,
	}

	return NewServer(DefaultConfig(), deps)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) JSONResponse {
	t.Helper()

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func testCreateCommand() command.CreateExperimentCommand {
	return command.CreateExperimentCommand{
		Name: "Checkout button color",
		Type: experiment.TypeAB,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Blue", TrafficPercent: 50, IsControl: true,
				FeatureFlags: map[string]interface{}{"new_checkout": false}},
			{ID: "treatment", Name: "Green", TrafficPercent: 50,
				FeatureFlags: map[string]interface{}{"new_checkout": true}},
		},
		Metrics: []experiment.TargetMetric{
			{Name: "conversion", Aggregation: experiment.AggregationRate, IsPrimary: true},
		},
		Statistical: experiment.StatisticalConfig{MinSampleSize: 100},
	}
}

func TestServer_ExperimentLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)

	// Create.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/experiments", testCreateCommand())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	created := resp.Data.(map[string]interface{})
	expID := created["id"].(string)
	require.NotEmpty(t, expID)
	assert.Equal(t, string(experiment.StatusDraft), created["status"])

	// List shows it as draft.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/experiments?status=draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, float64(1), list["count"])

	// Start.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/experiments/"+expID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Starting twice conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/experiments/"+expID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Assign a user. Fixed(0.25) lands in the control half.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/assignments", command.AssignUserCommand{
		UserID:       "user-1",
		ExperimentID: expID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assigned := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "control", assigned["variant_id"])

	// Track a conversion.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/events", command.TrackEventCommand{
		UserID: "user-1",
		Name:   "conversion",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	tracked := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, float64(1), tracked["recorded"])

	// Overview reflects the traffic.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/experiments/"+expID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Results come back for a running experiment.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/experiments/"+expID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Stop freezes the experiment.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/experiments/"+expID+"/stop", map[string]string{"reason": "done"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Archive after stop succeeds.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/experiments/"+expID+"/archive", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_FeatureFlagResolution(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/experiments", testCreateCommand())
	require.Equal(t, http.StatusCreated, rec.Code)
	expID := decodeResponse(t, rec).Data.(map[string]interface{})["id"].(string)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/experiments/"+expID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/assignments", command.AssignUserCommand{
		UserID:       "user-1",
		ExperimentID: expID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Assigned user gets the control variant's flag value.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/flags/new_checkout?user_id=user-1&default=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	flag := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, false, flag["value"])

	// Unassigned user falls back to the default, parsed as a JSON literal.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/flags/new_checkout?user_id=stranger&default=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	flag = decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, true, flag["value"])

	// Missing user_id is a validation error.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/flags/new_checkout", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	srv := newTestServer(t, nil)

	// Unknown experiment maps to 404.
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/experiments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Error.Code)

	// Invalid experiment maps to 400.
	bad := testCreateCommand()
	bad.Variants[1].TrafficPercent = 10
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/experiments", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body maps to 400.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments", bytes.NewBufferString("{"))
	raw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	// Missing assignment fields map to 400.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/assignments", command.AssignUserCommand{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ExportEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/experiments", testCreateCommand())
	require.Equal(t, http.StatusCreated, rec.Code)
	expID := decodeResponse(t, rec).Data.(map[string]interface{})["id"].(string)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/experiments/"+expID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.True(t, json.Valid(rec.Body.Bytes()))

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/experiments/"+expID+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), expID)
}

type staticChecker struct{ err error }

func (c staticChecker) Ping(context.Context) error { return c.err }

func TestServer_HealthEndpoints(t *testing.T) {
	srv := newTestServer(t, map[string]HealthChecker{
		"postgres": staticChecker{},
		"redis":    staticChecker{err: errors.New("connection refused")},
	})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// One failing dependency fails readiness.
	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	data := decodeResponse(t, rec).Data.(map[string]interface{})
	checks := data["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Contains(t, checks["redis"], "unavailable")
}

func TestServer_RequestIDAndCORSHeaders(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// CORS echoes the caller's origin when it is allowed.
	withOrigin := httptest.NewRequest(http.MethodGet, "/health", nil)
	withOrigin.Header.Set("Origin", "https://dashboard.example.com")
	cors := httptest.NewRecorder()
	srv.Handler().ServeHTTP(cors, withOrigin)
	assert.Equal(t, "https://dashboard.example.com", cors.Header().Get("Access-Control-Allow-Origin"))

	// Preflight short-circuits.
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/experiments", nil)
	pre := httptest.NewRecorder()
	srv.Handler().ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
}
