package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agripredict/artifacts"
	"agripredict/cache"
	"agripredict/database"
	"agripredict/features"
	"agripredict/model"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth returns the health status of the API and its backing stores
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	code := http.StatusOK

	if len(s.opts.Checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := make(map[string]string, len(s.opts.Checks))
		for name, check := range s.opts.Checks {
			if err := check(ctx); err != nil {
				s.log.Warn().Err(err).Str("dependency", name).Msg("⚠️ Health check failed")
				checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		resp["checks"] = checks
		if code != http.StatusOK {
			resp["status"] = "degraded"
		}
	}

	if manifest, err := artifacts.ReadManifest(s.opts.ArtifactsDir); err == nil {
		resp["generation"] = manifest.Generation
		resp["published_at"] = manifest.PublishedAt
	}
	respondJSON(w, code, resp)
}

type statusResponse struct {
	LastCycle   *cache.CycleStatus    `json:"last_cycle,omitempty"`
	LastSuccess *database.TrainingRun `json:"last_success,omitempty"`
	Published   *artifacts.Manifest   `json:"published,omitempty"`
	NextRun     *time.Time            `json:"next_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse

	if s.opts.Status != nil {
		status, ok, err := s.opts.Status.Latest(r.Context())
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to read cycle status", err)
			return
		}
		if ok {
			resp.LastCycle = status
		}
	}

	if s.opts.Runs != nil {
		run, err := s.opts.Runs.LastSuccessfulRun(r.Context())
		switch {
		case err == nil:
			resp.LastSuccess = run
		case !errors.Is(err, database.ErrRunNotFound):
			respondWithError(w, http.StatusInternalServerError, "Failed to load run history", err)
			return
		}
	}

	manifest, err := artifacts.ReadManifest(s.opts.ArtifactsDir)
	switch {
	case err == nil:
		resp.Published = manifest
	case !errors.Is(err, artifacts.ErrNotPublished):
		respondWithError(w, http.StatusInternalServerError, "Failed to read manifest", err)
		return
	}

	if s.opts.NextRun != nil {
		if next := s.opts.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}

	if resp.LastCycle == nil && resp.LastSuccess == nil && resp.Published == nil {
		respondWithError(w, http.StatusNotFound, "No cycle has completed yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Run history is disabled", nil)
		return
	}

	minLimit, maxLimit := 1, database.MaxRunsPage
	limit := getIntParam(r, "limit", 20, &minLimit, &maxLimit)

	runs, err := s.opts.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load run history", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Run history is disabled", nil)
		return
	}

	id := r.PathValue("id")
	run, err := s.opts.Runs.GetRun(r.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Run %q not found", id), nil)
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load run", err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleHistory returns a region's rows of the published feature table
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		respondWithError(w, http.StatusBadRequest, "region query parameter is required", nil)
		return
	}

	snap, ok := s.snapshotOrError(w)
	if !ok {
		return
	}

	rows := snap.Table.History(region)
	if len(rows) == 0 {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Unknown region %q", region), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Manifest.Generation,
		"region":     region,
		"rows":       rows,
	})
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshotOrError(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Manifest.Generation,
		"regions":    snap.Regions(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		respondWithError(w, http.StatusBadRequest, "region query parameter is required", nil)
		return
	}

	snap, ok := s.snapshotOrError(w)
	if !ok {
		return
	}

	forecast, err := snap.PredictLatest(region)
	if errors.Is(err, model.ErrUnknownRegion) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Unknown region %q", region), err)
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Prediction failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Manifest.Generation,
		"forecast":   forecast,
	})
}

// handleExportFeatures streams the published feature table as CSV
func (s *Server) handleExportFeatures(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshotOrError(w)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=features-%s.csv", snap.Manifest.Generation))
	if err := features.WriteCSV(w, snap.Table); err != nil {
		// Headers are gone already
		s.log.Error().Err(err).Msg("❌ Feature export interrupted")
	}
}

func (s *Server) snapshotOrError(w http.ResponseWriter) (*artifacts.Snapshot, bool) {
	snap, err := s.currentSnapshot()
	if errors.Is(err, artifacts.ErrNotPublished) {
		respondWithError(w, http.StatusNotFound, "No model has been published yet", nil)
		return nil, false
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load published artifacts", err)
		return nil, false
	}
	return snap, true
}
