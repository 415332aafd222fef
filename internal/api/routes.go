// Package api provides HTTP handlers for browsing and submitting scoring runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ARyaskov/kira-nuclearqc/internal/cache"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
	"github.com/ARyaskov/kira-nuclearqc/internal/render"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	CORSOrigins []string
	Runs        *RunManager
	Cache       *cache.Manager // optional
	Renderer    *render.PlotRenderer
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	h := &handlers{runs: cfg.Runs, cache: cfg.Cache, renderer: cfg.Renderer}
	if h.renderer == nil {
		h.renderer = render.NewPlotRenderer(render.Config{})
	}

	r.Get("/api/profiles", profilesHandler)
	r.Get("/api/cache/stats", h.cacheStats)

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", h.listRuns)
		r.Post("/", h.submitRun)

		r.Route("/{run_id}", func(r chi.Router) {
			r.Use(h.runMiddleware)
			r.Get("/", h.getRun)
			r.Delete("/", h.deleteRun)
			r.Get("/cells", h.cells)
			r.Get("/samples", h.samples)
			r.Get("/regimes", h.regimes)
			r.Get("/regimes.png", h.regimesPlot)
			r.Get("/axes/{axis}/histogram.png", h.axisHistogram)
		})
	})

	return r
}

type handlers struct {
	runs     *RunManager
	cache    *cache.Manager
	renderer *render.PlotRenderer
}

// Context key for the resolved run
type ctxKey string

const runKey ctxKey = "run"

// runMiddleware resolves the run from the URL and injects it into context.
func (h *handlers) runMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.runs == nil {
			http.Error(w, "run manager not configured", http.StatusNotImplemented)
			return
		}
		runID := chi.URLParam(r, "run_id")
		run, err := h.runs.Get(runID)
		if errors.Is(err, scorestore.ErrNotFound) {
			http.Error(w, "run not found: "+runID, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(r.Context(), runKey, run)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getRun(r *http.Request) *scorestore.Run {
	run, _ := r.Context().Value(runKey).(*scorestore.Run)
	return run
}

// completedRun returns the run from context, or writes an error when its
// results are not available yet.
func completedRun(w http.ResponseWriter, r *http.Request) *scorestore.Run {
	run := getRun(r)
	if run.Status != scorestore.RunStatusCompleted {
		http.Error(w, "run not completed (status: "+string(run.Status)+")", http.StatusBadRequest)
		return nil
	}
	return run
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// cachedJSON serves key from the query cache or computes, caches and serves
// it. Only completed runs reach here, so their results never change.
func (h *handlers) cachedJSON(w http.ResponseWriter, key string, compute func() (interface{}, error)) {
	if h.cache != nil {
		if data, ok := h.cache.GetQuery(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(data)
			return
		}
	}
	v, err := compute()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.SetQuery(key, data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *handlers) cachedPNG(w http.ResponseWriter, key string, draw func() ([]byte, error)) {
	if h.cache != nil {
		if data, ok := h.cache.GetPlot(key); ok {
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("X-Cache", "HIT")
			w.Write(data)
			return
		}
	}
	data, err := draw()
	if err != nil {
		http.Error(w, "failed to render plot: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.SetPlot(key, data)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

type profileInfo struct {
	Name           string `json:"name"`
	ActivationMode string `json:"activation_mode"`
	ScoringMode    string `json:"scoring_mode"`
	DDREnabled     bool   `json:"ddr_enabled"`
}

// profilesHandler lists the builtin scoring profiles.
func profilesHandler(w http.ResponseWriter, r *http.Request) {
	var out []profileInfo
	for _, name := range profile.Names() {
		p, err := profile.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, profileInfo{
			Name:           p.Name,
			ActivationMode: string(p.ActivationMode),
			ScoringMode:    string(p.ScoringMode),
			DDREnabled:     p.DDREnabled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": out})
}

func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run manager not configured", http.StatusNotImplemented)
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = min(v, 1000)
		}
	}
	runs, err := h.runs.Store().ListRuns(limit)
	if err != nil {
		http.Error(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*scorestore.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

type runSubmitRequest struct {
	InputDir        string   `json:"input_dir"`
	Meta            string   `json:"meta"`
	OutDir          string   `json:"out_dir"`
	Mode            string   `json:"mode"`
	RunMode         string   `json:"run_mode"`
	Profile         string   `json:"profile"`
	StrictNuclear   bool     `json:"strict_nuclear"`
	Normalize       bool     `json:"normalize"`
	CacheNormalized bool     `json:"cache_normalized"`
	PanelsFile      string   `json:"panels_file"`
	KeyPanels       []string `json:"key_panels"`
}

func (h *handlers) submitRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run manager not configured", http.StatusNotImplemented)
		return
	}

	var req runSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.InputDir == "" {
		http.Error(w, "input_dir is required", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = "cell"
	}
	if req.RunMode == "" {
		req.RunMode = "standalone"
	}
	if req.Mode != "cell" && req.Mode != "sample" {
		http.Error(w, "mode must be cell or sample", http.StatusBadRequest)
		return
	}
	if req.RunMode != "standalone" && req.RunMode != "pipeline" {
		http.Error(w, "run_mode must be standalone or pipeline", http.StatusBadRequest)
		return
	}

	run, err := h.runs.Submit(scorestore.RunParams{
		InputDir:        req.InputDir,
		MetaPath:        req.Meta,
		OutDir:          req.OutDir,
		Mode:            req.Mode,
		RunMode:         req.RunMode,
		Profile:         req.Profile,
		StrictNuclear:   req.StrictNuclear,
		Normalize:       req.Normalize,
		CacheNormalized: req.CacheNormalized,
		PanelsFile:      req.PanelsFile,
		KeyPanels:       req.KeyPanels,
	})
	switch {
	case errors.Is(err, profile.ErrUnknownProfile), errors.Is(err, profile.ErrInvalidProfile):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrQueueFull):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, "failed to submit run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": run.ID,
		"status": run.Status,
	})
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getRun(r))
}

// deleteRun cancels an active run. A finished run is removed together with
// its results.
func (h *handlers) deleteRun(w http.ResponseWriter, r *http.Request) {
	run := getRun(r)
	if !run.Status.Finished() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"run_id":    run.ID,
			"cancelled": h.runs.Cancel(run.ID),
		})
		return
	}

	if err := h.runs.Delete(run.ID); err != nil {
		http.Error(w, "failed to delete run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.Forget(run.ID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  run.ID,
		"deleted": true,
	})
}

func (h *handlers) cells(w http.ResponseWriter, r *http.Request) {
	run := completedRun(w, r)
	if run == nil {
		return
	}

	query := r.URL.Query()
	q := scorestore.CellQuery{
		Regime:  query.Get("regime"),
		Flag:    query.Get("flag"),
		OrderBy: query.Get("order_by"),
		Limit:   100,
	}
	if s := query.Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			q.Offset = v
		}
	}
	if s := query.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			q.Limit = min(v, 1000)
		}
	}

	if q.Flag != "" {
		if _, ok := scoring.ParseFlag(q.Flag); !ok {
			http.Error(w, "unknown flag: "+q.Flag, http.StatusBadRequest)
			return
		}
	}
	if q.Regime != "" {
		if _, ok := scoring.ParseRegime(q.Regime); !ok {
			http.Error(w, "unknown regime: "+q.Regime, http.StatusBadRequest)
			return
		}
	}

	h.cachedJSON(w, cache.QueryKey(run.ID, "cells", query), func() (interface{}, error) {
		items, total, err := h.runs.Store().QueryCells(run.ID, q)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []scorestore.CellScore{}
		}
		return map[string]interface{}{
			"run_id":   run.ID,
			"total":    total,
			"offset":   q.Offset,
			"limit":    q.Limit,
			"order_by": q.OrderBy,
			"items":    items,
		}, nil
	})
}

func (h *handlers) samples(w http.ResponseWriter, r *http.Request) {
	run := completedRun(w, r)
	if run == nil {
		return
	}
	h.cachedJSON(w, cache.QueryKey(run.ID, "samples", nil), func() (interface{}, error) {
		samples, err := h.runs.Store().Samples(run.ID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"run_id": run.ID, "samples": samples}, nil
	})
}

func (h *handlers) regimes(w http.ResponseWriter, r *http.Request) {
	run := completedRun(w, r)
	if run == nil {
		return
	}
	h.cachedJSON(w, cache.QueryKey(run.ID, "regimes", nil), func() (interface{}, error) {
		counts, err := h.runs.Store().RegimeCounts(run.ID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"run_id": run.ID, "n_cells": run.NCells, "regimes": counts}, nil
	})
}

func (h *handlers) regimesPlot(w http.ResponseWriter, r *http.Request) {
	run := completedRun(w, r)
	if run == nil {
		return
	}
	h.cachedPNG(w, cache.PlotKey(run.ID, "regimes", 0, "regimes"), func() ([]byte, error) {
		counts, err := h.runs.Store().RegimeCounts(run.ID)
		if err != nil {
			return nil, err
		}
		labels := make([]string, len(counts))
		values := make([]int, len(counts))
		for i, c := range counts {
			labels[i], values[i] = c.Regime, c.Count
		}
		return h.renderer.RegimeBar(labels, values)
	})
}

func (h *handlers) axisHistogram(w http.ResponseWriter, r *http.Request) {
	run := completedRun(w, r)
	if run == nil {
		return
	}

	axis := chi.URLParam(r, "axis")
	if !slices.Contains(scorestore.ValueNames(), axis) {
		http.Error(w, "unknown axis: "+axis, http.StatusBadRequest)
		return
	}
	bins := h.renderer.DefaultBins()
	if s := r.URL.Query().Get("bins"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 200 {
			http.Error(w, "bins must be an integer in [1, 200]", http.StatusBadRequest)
			return
		}
		bins = v
	}
	cmap := r.URL.Query().Get("colormap")
	if cmap == "" {
		cmap = h.renderer.DefaultColormap()
	}

	h.cachedPNG(w, cache.PlotKey(run.ID, "axis-"+axis, bins, cmap), func() ([]byte, error) {
		values, err := h.runs.Store().AxisValues(run.ID, axis)
		if err != nil {
			return nil, err
		}
		return h.renderer.Histogram(axis, values, bins, cmap)
	})
}
