package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agripredict/artifacts"
	"agripredict/cache"
	"agripredict/database"
	"agripredict/features"
	"agripredict/model"
	"agripredict/series"
)

type fakeRuns struct {
	runs  []database.TrainingRun
	err   error
	limit int
}

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]database.TrainingRun, error) {
	f.limit = limit
	return f.runs, f.err
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*database.TrainingRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, &database.NotFoundError{RunID: id}
}

func (f *fakeRuns) LastSuccessfulRun(_ context.Context) (*database.TrainingRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.runs {
		if f.runs[i].Outcome == database.OutcomeSuccess {
			return &f.runs[i], nil
		}
	}
	return nil, &database.NotFoundError{Outcome: database.OutcomeSuccess}
}

func publishFixture(t *testing.T, dir string) *artifacts.Manifest {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var obs []series.Observation
	for ri, region := range []string{"Nairobi", "Kisumu"} {
		for i := 0; i < 10; i++ {
			obs = append(obs, series.Observation{
				Region: region,
				Date:   start.AddDate(0, 0, 7*i),
				Price:  float64(30+10*ri) + float64(i),
			})
		}
	}
	s, _ := series.Normalize(obs)
	table, err := features.Build(s, start.AddDate(0, 0, 63))
	require.NoError(t, err)

	params := model.DefaultHyperparameters()
	params.Trees = 15
	params.LearningRate = 0.3
	params.MaxDepth = 2
	m, err := model.NewTrainer(params, zerolog.Nop()).Train(context.Background(), table)
	require.NoError(t, err)

	manifest, err := artifacts.NewPublisher(dir, 2, zerolog.Nop()).Publish(table, m)
	require.NoError(t, err)
	return manifest
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestEndpointsBeforePublication(t *testing.T) {
	h := NewServer(Options{ArtifactsDir: t.TempDir(), Log: zerolog.Nop()}).Handler()

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	for _, path := range []string{
		"/api/forecast/status",
		"/api/forecast/regions",
		"/api/forecast/predict?region=Nairobi",
		"/api/features/export",
	} {
		assert.Equal(t, http.StatusNotFound, get(t, h, path).Code, path)
	}

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/forecast/runs").Code)
}

func TestForecastEndpoints(t *testing.T) {
	dir := t.TempDir()
	manifest := publishFixture(t, dir)

	status := cache.NewStatusCache(cache.NewMemoryStore(), 0)
	require.NoError(t, status.Save(context.Background(), &cache.CycleStatus{
		CycleID:    "c-1",
		Outcome:    database.OutcomeSuccess,
		Generation: manifest.Generation,
	}))
	next := time.Date(2024, 3, 11, 5, 0, 0, 0, time.UTC)

	h := NewServer(Options{
		ArtifactsDir: dir,
		Status:       status,
		NextRun:      func() time.Time { return next },
		Log:          zerolog.Nop(),
	}).Handler()

	t.Run("status", func(t *testing.T) {
		rec := get(t, h, "/api/forecast/status")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.LastCycle)
		assert.Equal(t, "c-1", resp.LastCycle.CycleID)
		require.NotNil(t, resp.Published)
		assert.Equal(t, manifest.Generation, resp.Published.Generation)
		require.NotNil(t, resp.NextRun)
		assert.True(t, next.Equal(*resp.NextRun))
	})

	t.Run("regions", func(t *testing.T) {
		rec := get(t, h, "/api/forecast/regions")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Generation string   `json:"generation"`
			Regions    []string `json:"regions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, manifest.Generation, resp.Generation)
		assert.ElementsMatch(t, []string{"Nairobi", "Kisumu"}, resp.Regions)
	})

	t.Run("predict", func(t *testing.T) {
		rec := get(t, h, "/api/forecast/predict?region=Kisumu")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Forecast artifacts.Forecast `json:"forecast"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Kisumu", resp.Forecast.Region)
		assert.Equal(t, resp.Forecast.LastDate.Add(artifacts.ForecastHorizon), resp.Forecast.TargetDate)
		assert.InDelta(t, resp.Forecast.Prediction-resp.Forecast.LastPrice, resp.Forecast.Delta, 1e-9)
	})

	t.Run("predict errors", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/forecast/predict").Code)
		assert.Equal(t, http.StatusNotFound, get(t, h, "/api/forecast/predict?region=Mombasa").Code)
	})

	t.Run("export", func(t *testing.T) {
		rec := get(t, h, "/api/features/export")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), manifest.Generation)

		records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, manifest.Rows+1, len(records))
	})
}

func TestRunsEndpoint(t *testing.T) {
	runs := &fakeRuns{runs: []database.TrainingRun{{ID: "r1", Outcome: database.OutcomeFailed, FailedStage: "acquisition"}}}
	h := NewServer(Options{ArtifactsDir: t.TempDir(), Runs: runs, Log: zerolog.Nop()}).Handler()

	rec := get(t, h, "/api/forecast/runs?limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, database.MaxRunsPage, runs.limit)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	get(t, h, "/api/forecast/runs?limit=abc")
	assert.Equal(t, 20, runs.limit)

	runs.err = errors.New("connection reset")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/forecast/runs").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewServer(Options{ArtifactsDir: t.TempDir(), Log: zerolog.Nop()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/forecast/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewServer(Options{ArtifactsDir: t.TempDir(), Log: zerolog.Nop()}).Handler()
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunDetailEndpoint(t *testing.T) {
	runs := &fakeRuns{runs: []database.TrainingRun{
		{ID: "r2", Outcome: database.OutcomeFailed, FailedStage: "training"},
		{ID: "r1", Outcome: database.OutcomeSuccess, Generation: "g1"},
	}}

	tests := []struct {
		name     string
		runs     RunHistory
		err      error
		path     string
		wantCode int
		wantBody string
	}{
		{"found", runs, nil, "/api/forecast/runs/r2", http.StatusOK, `"failed_stage":"training"`},
		{"missing", runs, nil, "/api/forecast/runs/nope", http.StatusNotFound, `nope`},
		{"store failure", runs, errors.New("connection reset"), "/api/forecast/runs/r1", http.StatusInternalServerError, ""},
		{"history disabled", nil, nil, "/api/forecast/runs/r1", http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs.err = tt.err
			h := NewServer(Options{ArtifactsDir: t.TempDir(), Runs: tt.runs, Log: zerolog.Nop()}).Handler()

			rec := get(t, h, tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestStatusIncludesLastSuccessfulRun(t *testing.T) {
	tests := []struct {
		name     string
		runs     *fakeRuns
		wantCode int
		wantID   string
	}{
		{"recorded", &fakeRuns{runs: []database.TrainingRun{
			{ID: "r2", Outcome: database.OutcomeFailed},
			{ID: "r1", Outcome: database.OutcomeSuccess},
		}}, http.StatusOK, "r1"},
		{"only failures", &fakeRuns{runs: []database.TrainingRun{{ID: "r2", Outcome: database.OutcomeFailed}}}, http.StatusNotFound, ""},
		{"store failure", &fakeRuns{err: errors.New("connection reset")}, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(Options{ArtifactsDir: t.TempDir(), Runs: tt.runs, Log: zerolog.Nop()}).Handler()

			rec := get(t, h, "/api/forecast/status")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantID == "" {
				return
			}
			var resp statusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.LastSuccess)
			assert.Equal(t, tt.wantID, resp.LastSuccess.ID)
		})
	}
}

func TestHealthChecks(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{"no dependencies", nil, http.StatusOK, "ok", nil},
		{"all reachable", map[string]HealthCheck{"postgres": ok, "redis": ok}, http.StatusOK, "ok",
			map[string]string{"postgres": "ok", "redis": "ok"}},
		{"redis down", map[string]HealthCheck{"postgres": ok, "redis": down}, http.StatusServiceUnavailable, "degraded",
			map[string]string{"postgres": "ok", "redis": "connection refused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(Options{ArtifactsDir: t.TempDir(), Checks: tt.checks, Log: zerolog.Nop()}).Handler()

			rec := get(t, h, "/health")
			require.Equal(t, tt.wantCode, rec.Code)
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	dir := t.TempDir()
	h := NewServer(Options{ArtifactsDir: dir, Log: zerolog.Nop()}).Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/forecast/history?region=Nairobi").Code)

	manifest := publishFixture(t, dir)

	rec := get(t, h, "/api/forecast/history?region=Nairobi")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Generation string         `json:"generation"`
		Region     string         `json:"region"`
		Rows       []features.Row `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, manifest.Generation, resp.Generation)
	require.Len(t, resp.Rows, 6)
	for i, row := range resp.Rows {
		assert.Equal(t, "Nairobi", row.Region)
		if i > 0 {
			assert.True(t, row.Date.After(resp.Rows[i-1].Date))
		}
	}
	assert.Equal(t, resp.Rows[len(resp.Rows)-1].Lags[0], resp.Rows[len(resp.Rows)-2].Price)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/forecast/history").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/forecast/history?region=Mombasa").Code)
}
