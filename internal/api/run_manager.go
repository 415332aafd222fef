package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/pipeline"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("run queue is full")

// ProfileResolver turns a stored profile name and strict switch into a
// validated profile.
type ProfileResolver func(name string, strictNuclear bool) (*profile.Profile, error)

// RunManagerConfig contains configuration for the run manager.
type RunManagerConfig struct {
	Workers       int // concurrent runs (default 1)
	QueueSize     int // pending runs (default 100)
	RetentionDays int // days to keep finished runs (default 30)
	CleanupPeriod time.Duration
	Logger        *zap.Logger
	// ResolveProfile defaults to profile.Resolve without overrides.
	ResolveProfile ProfileResolver
	// OnDelete is called after a run's rows are removed.
	OnDelete func(runID string)
}

// RunManager queues scoring runs onto a fixed worker pool and records their
// lifecycle in the store.
type RunManager struct {
	cfg      RunManagerConfig
	store    *scorestore.Store
	runner   *pipeline.Runner
	logger   *zap.Logger
	queue    chan string // run IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRunManager creates a run manager. The store stays owned by the caller.
func NewRunManager(cfg RunManagerConfig, store *scorestore.Store, runner *pipeline.Runner) *RunManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ResolveProfile == nil {
		cfg.ResolveProfile = func(name string, strict bool) (*profile.Profile, error) {
			return profile.Resolve(name, strict, nil)
		}
	}

	return &RunManager{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		logger:  cfg.Logger.Named("runs"),
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

// Store returns the underlying store.
func (m *RunManager) Store() *scorestore.Store {
	return m.store
}

// Start starts the worker goroutines and cleanup ticker. Runs left running
// by a previous process are failed and queued runs are re-queued.
func (m *RunManager) Start() {
	if err := m.store.MarkRunningAsFailed("server restarted"); err != nil {
		m.logger.Warn("failed to mark running runs as failed", zap.Error(err))
	}

	queued, err := m.store.ListQueuedRuns()
	if err != nil {
		m.logger.Warn("failed to list queued runs", zap.Error(err))
	} else {
		for _, run := range queued {
			select {
			case m.queue <- run.ID:
				m.logger.Info("re-queued run", zap.String("run_id", run.ID))
			default:
				m.logger.Warn("queue full, cannot re-queue run", zap.String("run_id", run.ID))
			}
		}
	}

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	m.wg.Add(1)
	go m.cleaner()
}

// Stop cancels running runs and waits for workers to exit. Runs still in
// the queue stay queued in the store.
func (m *RunManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for _, cancel := range m.running {
			cancel()
		}
		m.mu.Unlock()
		m.wg.Wait()
	})
}

func (m *RunManager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case id := <-m.queue:
			m.execute(id)
		}
	}
}

func (m *RunManager) execute(runID string) {
	log := m.logger.With(zap.String("run_id", runID))

	// Registered before MarkStarted: Cancel finds the run either here or
	// still queued in the store.
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[runID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, runID)
		m.mu.Unlock()
		cancel()
	}()

	if err := m.store.MarkStarted(runID); err != nil {
		if !errors.Is(err, scorestore.ErrNotQueued) {
			log.Warn("failed to mark run started", zap.Error(err))
		}
		// cancelled or deleted while waiting
		return
	}
	run, err := m.store.GetRun(runID)
	if err != nil {
		log.Warn("failed to load run", zap.Error(err))
		return
	}

	execErr := m.runOne(ctx, run)

	// Past this point Cancel no longer sees the run, so a cancel that
	// arrived during the run is final.
	m.mu.Lock()
	delete(m.running, runID)
	cancelled := ctx.Err() != nil
	m.mu.Unlock()

	status, msg := scorestore.RunStatusCompleted, ""
	switch {
	case cancelled || errors.Is(execErr, context.Canceled):
		status, msg = scorestore.RunStatusCancelled, "cancelled"
	case execErr != nil:
		status, msg = scorestore.RunStatusFailed, execErr.Error()
		log.Warn("run failed", zap.Error(execErr))
	}
	if err := m.store.FinishRun(runID, status, msg); err != nil {
		log.Warn("failed to record run status", zap.Error(err))
	}
}

func (m *RunManager) runOne(ctx context.Context, run *scorestore.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prof, err := m.cfg.ResolveProfile(run.Params.Profile, run.Params.StrictNuclear)
	if err != nil {
		return err
	}
	_, err = m.runner.Execute(ctx, run.ID, pipeline.OptionsOf(run.Params, prof))
	return err
}

func (m *RunManager) cleaner() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Cleanup deletes finished runs older than the retention period.
func (m *RunManager) Cleanup() {
	deleted, err := m.store.DeleteExpiredRuns(m.cfg.RetentionDays)
	if err != nil {
		m.logger.Warn("cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		m.logger.Info("cleaned up expired runs", zap.Int64("deleted", deleted))
	}
}

// Submit validates the profile, records a queued run and enqueues it.
func (m *RunManager) Submit(params scorestore.RunParams) (*scorestore.Run, error) {
	if params.InputDir == "" {
		return nil, fmt.Errorf("input_dir is required")
	}
	if params.Profile == "" {
		params.Profile = profile.NameDefaultV1
	}
	if _, err := m.cfg.ResolveProfile(params.Profile, params.StrictNuclear); err != nil {
		return nil, err
	}

	run := &scorestore.Run{
		ID:        uuid.NewString(),
		Status:    scorestore.RunStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateRun(run); err != nil {
		return nil, err
	}

	select {
	case m.queue <- run.ID:
	default:
		m.store.FinishRun(run.ID, scorestore.RunStatusFailed, "run queue is full; try again later")
		return nil, ErrQueueFull
	}
	return run, nil
}

// Get returns a run by ID.
func (m *RunManager) Get(id string) (*scorestore.Run, error) {
	return m.store.GetRun(id)
}

// Cancel stops a running run or marks a queued one cancelled. It reports
// whether anything was cancelled.
func (m *RunManager) Cancel(id string) bool {
	if m.cancelRunning(id) {
		return true
	}
	err := m.store.CancelQueued(id, "cancelled before start")
	if err == nil {
		return true
	}
	// A worker may have claimed the run between the two checks.
	return errors.Is(err, scorestore.ErrNotQueued) && m.cancelRunning(id)
}

func (m *RunManager) cancelRunning(id string) bool {
	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Delete cancels a run if it is still active and removes it with its
// results.
func (m *RunManager) Delete(id string) error {
	if _, err := m.store.GetRun(id); err != nil {
		return err
	}
	m.Cancel(id)
	if err := m.store.DeleteRun(id); err != nil {
		return err
	}
	if m.cfg.OnDelete != nil {
		m.cfg.OnDelete(id)
	}
	return nil
}
