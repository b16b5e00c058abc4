package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/growthhub/experiment-engine/internal/application/command"
	"github.com/growthhub/experiment-engine/internal/application/query"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns overall health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	uptime := time.Since(s.startedAt)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  uptime.String(),
		"service": "experiment-engine",
	})
}

// handleReady pings each backing dependency and reports per-check status.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.deps.HealthCheckers))
	healthy := true

	for name, checker := range s.deps.HealthCheckers {
		if err := checker.Ping(r.Context()); err != nil {
			checks[name] = "unavailable: " + err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"ready":  healthy,
		"checks": checks,
	})
}

// handleLive returns liveness status.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateExperiment creates a new A/B experiment in draft state.
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateExperimentCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
		return
	}

	exp, err := s.deps.Create.Handle(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

// handleCreateMultivariate creates a multivariate experiment, expanding the
// declared factors into the full cartesian product of variants.
func (s *Server) handleCreateMultivariate(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateMultivariateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
		return
	}

	exp, err := s.deps.Multivariate.Handle(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

// handleListExperiments lists experiments, optionally filtered by ?status=.
func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	experiments, err := s.deps.Get.List(r.Context(), experiment.Status(status))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"experiments": experiments,
		"count":       len(experiments),
	})
}

// handleGetExperiment returns a single experiment with assignment and event counts.
func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	overview, err := s.deps.Get.Handle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

// handleStartExperiment transitions a draft experiment to running.
func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	exp, err := s.deps.Start.Handle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// stopRequest is the optional body for the stop endpoint.
type stopRequest struct {
	Reason string `json:"reason"`
}

// handleStopExperiment completes a running experiment and returns the final analysis.
func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req stopRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual stop"
	}

	results, err := s.deps.Stop.Handle(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// handlePauseExperiment pauses a running experiment.
func (s *Server) handlePauseExperiment(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, s.deps.Lifecycle.Pause)
}

// handleResumeExperiment resumes a paused experiment.
func (s *Server) handleResumeExperiment(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, s.deps.Lifecycle.Resume)
}

// handleArchiveExperiment archives a terminal experiment.
func (s *Server) handleArchiveExperiment(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, s.deps.Lifecycle.Archive)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, id string) error) {
	id := r.PathValue("id")

	if err := transition(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT & TRACKING
// ══════════════════════════════════════════════════════════════════════════════

// assignResponse wraps the variant returned by the assignment hot path.
type assignResponse struct {
	UserID       string `json:"user_id"`
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
}

// handleAssignUser resolves the user's variant for an experiment. Assignment
// is sticky and never fails: ineligible users receive the default variant.
func (s *Server) handleAssignUser(w http.ResponseWriter, r *http.Request) {
	var cmd command.AssignUserCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
		return
	}

	if cmd.UserID == "" || cmd.ExperimentID == "" {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "user_id and experiment_id are required")
		return
	}

	variantID := s.deps.Assign.Handle(r.Context(), cmd)

	writeJSON(w, http.StatusOK, assignResponse{
		UserID:       cmd.UserID,
		ExperimentID: cmd.ExperimentID,
		VariantID:    variantID,
	})
}

// trackResponse reports how many running experiments recorded the event.
type trackResponse struct {
	Recorded int `json:"recorded"`
}

// handleTrackEvent records a metric event against every running experiment
// the user is assigned to.
func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var cmd command.TrackEventCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
		return
	}

	if cmd.UserID == "" || cmd.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "user_id and name are required")
		return
	}

	recorded := s.deps.Track.Handle(r.Context(), cmd)

	writeJSON(w, http.StatusOK, trackResponse{Recorded: recorded})
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYSIS & EXPORT
// ══════════════════════════════════════════════════════════════════════════════

// handleGetResults computes the current statistical analysis for an experiment.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	results, err := s.deps.Analyze.Handle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// handleExportExperiment exports the experiment and its analysis as JSON or CSV.
func (s *Server) handleExportExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := query.ExportFormat(r.URL.Query().Get("format"))

	data, err := s.deps.Export.Handle(r.Context(), id, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch format {
	case query.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="experiment-`+id+`.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAGS
// ══════════════════════════════════════════════════════════════════════════════

// flagResponse carries a resolved feature flag value.
type flagResponse struct {
	Key    string      `json:"key"`
	UserID string      `json:"user_id"`
	Value  interface{} `json:"value"`
}

// handleResolveFlag resolves a feature flag for a user through their
// experiment assignments. Unassigned users receive the default value.
func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	userID := r.URL.Query().Get("user_id")

	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "user_id query parameter is required")
		return
	}

	var defaultValue interface{}
	if raw := r.URL.Query().Get("default"); raw != "" {
		// The default may arrive as a JSON literal (true, 42, "blue").
		// Fall back to the raw string when it does not parse.
		if err := json.Unmarshal([]byte(raw), &defaultValue); err != nil {
			defaultValue = raw
		}
	}

	value := s.deps.Flags.Handle(r.Context(), userID, key, defaultValue)

	writeJSON(w, http.StatusOK, flagResponse{
		Key:    key,
		UserID: userID,
		Value:  value,
	})
}
