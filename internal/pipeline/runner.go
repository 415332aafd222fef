// Package pipeline runs one scoring job end to end: input discovery and
// parsing, normalization, panel resolution, scoring, reports and optional
// persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/exprcache"
	"github.com/ARyaskov/kira-nuclearqc/internal/input"
	"github.com/ARyaskov/kira-nuclearqc/internal/kernels"
	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
	"github.com/ARyaskov/kira-nuclearqc/internal/report"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

// NormalizeScale is the library-size target of normalization.
const NormalizeScale = 10000.0

// Options describe one run.
type Options struct {
	InputDir        string
	MetaPath        string
	OutDir          string
	Mode            report.Mode
	RunMode         report.RunMode
	Profile         *profile.Profile
	Normalize       bool
	CacheNormalized bool
	PanelsFile      string
	// KeyPanels defaults to panels.DefaultKeyPanels.
	KeyPanels []string
}

// Outcome is what a finished run produced.
type Outcome struct {
	RunID     string
	OutputDir string
	Result    *scoring.Result
	Samples   []scoring.SampleRecord
	Summary   *report.Summary
	Duration  time.Duration
}

// RunnerConfig contains configuration for the runner.
type RunnerConfig struct {
	Store   *scorestore.Store // optional
	Logger  *zap.Logger
	Version string
	GitHash string
}

// Runner executes runs. It is safe for concurrent use; each run owns its
// data.
type Runner struct {
	cfg    RunnerConfig
	logger *zap.Logger
	loader *input.Loader
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pipeline")
	return &Runner{
		cfg:    cfg,
		logger: logger,
		loader: input.NewLoader(logger.Named("input")),
	}
}

// ParamsOf records the options in their stored form.
func ParamsOf(opts Options) scorestore.RunParams {
	p := scorestore.RunParams{
		InputDir:        opts.InputDir,
		MetaPath:        opts.MetaPath,
		OutDir:          opts.OutDir,
		Mode:            string(opts.Mode),
		RunMode:         string(opts.RunMode),
		Normalize:       opts.Normalize,
		CacheNormalized: opts.CacheNormalized,
		PanelsFile:      opts.PanelsFile,
		KeyPanels:       opts.KeyPanels,
	}
	if opts.Profile != nil {
		p.Profile = opts.Profile.Name
		p.StrictNuclear = opts.Profile.StrictNuclear
	}
	return p
}

// OptionsOf rebuilds run options from their stored form and a resolved
// profile.
func OptionsOf(p scorestore.RunParams, prof *profile.Profile) Options {
	return Options{
		InputDir:        p.InputDir,
		MetaPath:        p.MetaPath,
		OutDir:          p.OutDir,
		Mode:            report.Mode(p.Mode),
		RunMode:         report.RunMode(p.RunMode),
		Profile:         prof,
		Normalize:       p.Normalize,
		CacheNormalized: p.CacheNormalized,
		PanelsFile:      p.PanelsFile,
		KeyPanels:       p.KeyPanels,
	}
}

// Run executes a run under a fresh id. With a store configured the run is
// recorded and its final status written back.
func (r *Runner) Run(ctx context.Context, opts Options) (*Outcome, error) {
	runID := uuid.NewString()
	store := r.cfg.Store
	if store != nil {
		if err := store.CreateRun(&scorestore.Run{
			ID:        runID,
			Status:    scorestore.RunStatusQueued,
			Params:    ParamsOf(opts),
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		if err := store.MarkStarted(runID); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	out, err := r.Execute(ctx, runID, opts)
	if store != nil {
		status, msg := scorestore.RunStatusCompleted, ""
		switch {
		case errors.Is(err, context.Canceled):
			status, msg = scorestore.RunStatusCancelled, "cancelled"
		case err != nil:
			status, msg = scorestore.RunStatusFailed, err.Error()
		}
		if ferr := store.FinishRun(runID, status, msg); ferr != nil {
			r.logger.Warn("failed to record run status", zap.String("run_id", runID), zap.Error(ferr))
		}
	}
	return out, err
}

// Execute performs the stages of a run under a given id. Cancellation is
// checked between stages.
func (r *Runner) Execute(ctx context.Context, runID string, opts Options) (*Outcome, error) {
	if opts.Profile == nil {
		return nil, fmt.Errorf("%w: no profile", profile.ErrInvalidProfile)
	}
	if opts.Mode == "" {
		opts.Mode = report.ModeCell
	}
	if opts.RunMode == "" {
		opts.RunMode = report.RunStandalone
	}
	keys := opts.KeyPanels
	if len(keys) == 0 {
		keys = panels.DefaultKeyPanels
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	log := r.logger.With(zap.String("run_id", runID))
	log.Info("run started",
		zap.String("input", opts.InputDir),
		zap.String("profile", opts.Profile.Name),
		zap.String("mode", string(opts.Mode)))

	// Panel definitions are validated before any input is read.
	defs := panels.Builtin()
	if opts.PanelsFile != "" {
		var err error
		if defs, err = panels.LoadFile(opts.PanelsFile); err != nil {
			return nil, err
		}
	}

	files, err := input.Discover(opts.InputDir)
	if err != nil {
		return nil, err
	}
	ds, err := r.loader.Load(files, opts.MetaPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Normalize {
		if err := r.normalize(log, ds, files, opts.CacheNormalized); err != nil {
			return nil, err
		}
		ds.Normalized = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	set := panels.Resolve(defs, ds.Genes)
	for _, p := range set.Panels {
		if len(p.Missing) > 0 {
			log.Debug("panel genes missing",
				zap.String("panel", p.ID),
				zap.Int("mappable", len(p.Rows)),
				zap.Strings("missing", p.Missing))
		}
	}

	engine, err := scoring.NewEngine(opts.Profile, set, keys)
	if err != nil {
		return nil, err
	}
	res, err := engine.Run(ds)
	if err != nil {
		return nil, fmt.Errorf("failed to score: %w", err)
	}
	samples := scoring.AggregateSamples(res.Cells)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep := &report.Input{
		Result:  res,
		Dataset: ds,
		Profile: opts.Profile,
		Samples: samples,
		Mode:    opts.Mode,
		RunMode: opts.RunMode,
		Meta: report.Meta{
			Version:   r.cfg.Version,
			GitHash:   r.cfg.GitHash,
			Backend:   kernels.Backend(),
			Normalize: opts.Normalize,
			Scale:     NormalizeScale,
			Log1p:     opts.Normalize,
		},
	}
	out := &Outcome{RunID: runID, Result: res, Samples: samples, Summary: report.BuildSummary(rep)}
	if opts.OutDir != "" {
		dir, err := report.WriteAll(rep, opts.OutDir)
		if err != nil {
			return nil, err
		}
		out.OutputDir = dir
	}

	if r.cfg.Store != nil {
		if err := r.cfg.Store.InsertResults(runID, ds.Genes.Len(), ds.Genes.Species().String(), res.Cells, samples); err != nil {
			return nil, fmt.Errorf("failed to persist results: %w", err)
		}
	}

	out.Duration = time.Since(start)
	log.Info("run finished",
		zap.Int("cells", len(res.Cells)),
		zap.Int("samples", len(samples)),
		zap.String("output", out.OutputDir),
		zap.Duration("elapsed", out.Duration))
	return out, nil
}

// normalize replaces the dataset matrix with its normalized form, reusing
// or refreshing the on-disk cache when enabled. Cache problems other than
// I/O on the inputs only cost a rebuild.
func (r *Runner) normalize(log *zap.Logger, ds *matrix.Dataset, files input.Files, useCache bool) error {
	if !useCache {
		ds.Matrix = ds.Matrix.Normalize(NormalizeScale)
		return nil
	}

	key, err := exprcache.KeyFor(files.Paths(), NormalizeScale)
	if err != nil {
		return err
	}
	path := exprcache.PathFor(files.Matrix)
	m, err := exprcache.Read(path, key)
	switch {
	case err == nil && m.NGenes() == ds.Matrix.NGenes() && m.NCells() == ds.Matrix.NCells():
		log.Info("normalized cache hit", zap.String("path", path))
		ds.Matrix = m
		return nil
	case err == nil:
		log.Warn("normalized cache has wrong dimensions, rebuilding", zap.String("path", path))
	case errors.Is(err, os.ErrNotExist):
		log.Info("normalized cache missing, building", zap.String("path", path))
	case errors.Is(err, exprcache.ErrStale), errors.Is(err, exprcache.ErrCorrupt):
		log.Warn("normalized cache unusable, rebuilding", zap.String("path", path), zap.Error(err))
	default:
		return err
	}

	ds.Matrix = ds.Matrix.Normalize(NormalizeScale)
	if err := exprcache.Write(path, key, ds.Matrix); err != nil {
		log.Warn("failed to write normalized cache", zap.String("path", path), zap.Error(err))
	}
	return nil
}
