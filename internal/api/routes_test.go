package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARyaskov/kira-nuclearqc/internal/cache"
	"github.com/ARyaskov/kira-nuclearqc/internal/render"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
)

type testServer struct {
	router *chi.Mux
	runs   *RunManager
	store  *scorestore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := newStore(t)
	runs := newManager(store)
	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: 16,
		PlotTTL:         1 * time.Minute,
		QueryCacheSize:  64,
	})
	require.NoError(t, err)

	runs.Start()
	t.Cleanup(func() {
		runs.Stop()
		cacheManager.Close()
		store.Close()
	})

	router := NewRouter(RouterConfig{
		CORSOrigins: []string{"http://localhost:3000"},
		Runs:        runs,
		Cache:       cacheManager,
		Renderer:    render.NewPlotRenderer(render.Config{Width: 320, Height: 200, Bins: 10}),
	})
	return &testServer{router: router, runs: runs, store: store}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

// completedRun submits a run over the fixture through the API and waits
// for it.
func (s *testServer) completedRun(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"input_dir": writeInput(t), "profile": "immune_v1"})
	rec := s.do(http.MethodPost, "/api/runs", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	id, _ := decode(t, rec)["run_id"].(string)
	require.NotEmpty(t, id)
	run := waitFinished(t, s.store, id)
	require.Equal(t, scorestore.RunStatusCompleted, run.Status, run.Error)
	return id
}

func TestHealthAndProfiles(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(http.MethodGet, "/api/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	profiles, _ := decode(t, rec)["profiles"].([]any)
	require.Len(t, profiles, 2)
	first, _ := profiles[0].(map[string]any)
	assert.Equal(t, "default_v1", first["name"])
	assert.Equal(t, "strict_bulk", first["scoring_mode"])

	rec = s.do(http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "query_cache_len")
}

func TestSubmitRun_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"no input", `{"profile":"default_v1"}`, http.StatusBadRequest},
		{"bad mode", `{"input_dir":"/x","mode":"bulk"}`, http.StatusBadRequest},
		{"unknown profile", `{"input_dir":"/x","profile":"nope_v9"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestRunEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := s.completedRun(t)

	rec := s.do(http.MethodGet, "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])

	rec = s.do(http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs, _ := decode(t, rec)["runs"].([]any)
	assert.Len(t, runs, 1)

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/cells?limit=3&order_by=nps", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cells := decode(t, rec)
	assert.EqualValues(t, fixtureCells, cells["total"])
	items, _ := cells["items"].([]any)
	assert.Len(t, items, 3)

	// Same query again is served from the query cache.
	rec = s.do(http.MethodGet, "/api/runs/"+id+"/cells?order_by=nps&limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/cells?flag=NOT_A_FLAG", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/samples", "")
	require.Equal(t, http.StatusOK, rec.Code)
	samples, _ := decode(t, rec)["samples"].([]any)
	assert.Len(t, samples, 1)

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/regimes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	regimes, _ := decode(t, rec)["regimes"].([]any)
	assert.Len(t, regimes, 7)
	total := 0.0
	for _, r := range regimes {
		total += r.(map[string]any)["count"].(float64)
	}
	assert.EqualValues(t, fixtureCells, total)
}

func TestRunPlots(t *testing.T) {
	s := newTestServer(t)
	id := s.completedRun(t)

	for _, path := range []string{
		"/api/runs/" + id + "/regimes.png",
		"/api/runs/" + id + "/axes/tbi/histogram.png?bins=5&colormap=magma",
		"/api/runs/" + id + "/axes/rls/histogram.png",
	} {
		rec := s.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err, path)
		assert.Equal(t, 320, img.Bounds().Dx())
	}

	rec := s.do(http.MethodGet, "/api/runs/"+id+"/regimes.png", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/axes/bogus/histogram.png", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/runs/"+id+"/axes/tbi/histogram.png?bins=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunNotFoundAndDelete(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodGet, "/api/runs/missing/cells", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := s.completedRun(t)
	rec = s.do(http.MethodGet, "/api/runs/"+id+"/regimes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["deleted"])

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/regimes", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncompleteRunResults(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.store.CreateRun(&scorestore.Run{
		ID:        "waiting",
		Status:    scorestore.RunStatusFailed,
		CreatedAt: time.Now(),
	}))
	rec := s.do(http.MethodGet, "/api/runs/waiting/cells", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed")
}
