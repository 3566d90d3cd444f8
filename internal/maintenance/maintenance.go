// Package maintenance keeps a repoindex.Store warm by subscribing to
// filesystem-change events and refreshing dirty files in throttled,
// debounced batches.
package maintenance

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/repoindex"
	"scribe/internal/slogutil"
	"scribe/internal/watcher"
)

// Config controls refresh batching and CPU throttling.
type Config struct {
	CPUBudget       float64
	Parallelism     int
	RefreshDebounce time.Duration
	PersistDebounce time.Duration

	// RemoteLog, if set, ships the job queue's slog records to Loki in
	// addition to keeping them local. Nil disables shipping.
	RemoteLog *config.RemoteLogConfig
}

// FromIndexerConfig derives a maintenance Config from the workspace's
// persisted indexer settings.
func FromIndexerConfig(ic config.IndexerConfig) Config {
	return Config{
		CPUBudget:       ic.CPUBudget,
		Parallelism:     ic.Parallelism,
		RefreshDebounce: time.Duration(ic.RefreshDebounceMs) * time.Millisecond,
		PersistDebounce: time.Duration(ic.PersistDebounceMs) * time.Millisecond,
	}
}

// Maintainer wires a filesystem watcher to a repoindex Store and Builder:
// deletes apply immediately, creates/updates mark the URI dirty and ride a
// debounced refresh, and persistence itself rides a second, longer debounce.
type Maintainer struct {
	repoRoot string
	store    *repoindex.Store
	builder  *repoindex.Builder
	watcher  *watcher.Watcher
	logger   *logging.Logger
	cfg      Config

	throttler *cpuThrottler

	refreshDebounce *watcher.Debouncer
	persistDebounce *watcher.Debouncer

	jobStore    *jobs.Store
	jobRunner   *jobs.Runner
	lokiHandler *slogutil.LokiHandler

	mu    sync.Mutex
	dirty map[string]bool
}

// New creates a Maintainer. wcfg configures the underlying filesystem
// watcher (ignore globs, enabled flag); cfg configures refresh/persist
// batching and throttling.
//
// Refresh and persist batches are run as durable background jobs backed by
// a SQLite-persisted queue (internal/jobs), so a crash mid-refresh is
// recovered on the next startup rather than silently dropped. If the job
// store cannot be opened, refresh/persist fall back to running inline.
func New(repoRoot string, store *repoindex.Store, builder *repoindex.Builder, cfg Config, wcfg watcher.Config, logger *logging.Logger) *Maintainer {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.RefreshDebounce <= 0 {
		cfg.RefreshDebounce = 3 * time.Second
	}
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = 5 * time.Second
	}

	m := &Maintainer{
		repoRoot:  repoRoot,
		store:     store,
		builder:   builder,
		logger:    logger,
		cfg:       cfg,
		throttler: newCPUThrottler(cfg.CPUBudget),
		dirty:     make(map[string]bool),
	}
	m.refreshDebounce = watcher.NewDebouncer(cfg.RefreshDebounce)
	m.persistDebounce = watcher.NewDebouncer(cfg.PersistDebounce)
	m.watcher = watcher.New(wcfg, logger, m.handleChanges)

	jobLogger := m.newJobSlogger(repoRoot)

	jobStore, err := jobs.OpenStore(filepath.Join(repoRoot, ".scribe"), jobLogger)
	if err != nil {
		logger.Warn("Job store unavailable, refresh batches will run inline", map[string]interface{}{
			"error": err.Error(),
		})
		return m
	}
	runner := jobs.NewRunner(jobStore, logger, jobs.DefaultRunnerConfig())
	runner.RegisterHandler(jobs.JobTypeRefreshBatch, m.runRefreshBatchJob)
	runner.RegisterHandler(jobs.JobTypePersistIndex, m.runPersistIndexJob)
	m.jobStore = jobStore
	m.jobRunner = runner
	return m
}

// newJobSlogger builds the *slog.Logger the job queue logs through,
// discarding output locally unless cfg.RemoteLog points at a Loki instance,
// in which case records are also shipped there.
func (m *Maintainer) newJobSlogger(repoRoot string) *slog.Logger {
	base := slogutil.NewDiscardLogger()
	if m.cfg.RemoteLog == nil {
		return base
	}

	handler, err := slogutil.NewLokiHandler(m.cfg.RemoteLog, map[string]string{
		"app":      "scribe",
		"repoRoot": repoRoot,
		"source":   "jobs",
	}, slog.LevelWarn)
	if err != nil {
		m.logger.Warn("Remote log shipping disabled, Loki handler failed to initialize", map[string]interface{}{
			"error": err.Error(),
		})
		return base
	}
	handler.Start()
	m.lokiHandler = handler
	return slogutil.NewTeeLogger(base.Handler(), handler)
}

// Start begins watching repoRoot for changes and, if a job store was
// opened, starts the background job runner that executes refresh/persist
// batches.
func (m *Maintainer) Start() error {
	if m.jobRunner != nil {
		if err := m.jobRunner.Start(); err != nil {
			return err
		}
	}
	if err := m.watcher.Start(); err != nil {
		return err
	}
	return m.watcher.WatchRepo(m.repoRoot)
}

// Stop cancels pending debounced work, drains the job runner, and stops
// the watcher.
func (m *Maintainer) Stop() error {
	m.refreshDebounce.Cancel()
	m.persistDebounce.Cancel()
	if m.jobRunner != nil {
		if err := m.jobRunner.Stop(5 * time.Second); err != nil {
			m.logger.Warn("Job runner did not stop cleanly", map[string]interface{}{"error": err.Error()})
		}
	}
	if m.jobStore != nil {
		if err := m.jobStore.Close(); err != nil {
			m.logger.Warn("Job store close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if m.lokiHandler != nil {
		if err := m.lokiHandler.Stop(); err != nil {
			m.logger.Warn("Loki handler did not flush cleanly", map[string]interface{}{"error": err.Error()})
		}
	}
	return m.watcher.Stop()
}

// handleChanges is the watcher.ChangeHandler: deletions are applied to the
// store immediately, everything else marks the path dirty for the next
// debounced refresh.
func (m *Maintainer) handleChanges(repoPath string, events []watcher.Event) {
	deleted := false
	for _, ev := range events {
		rel, err := filepath.Rel(repoPath, ev.Path)
		if err != nil {
			continue
		}

		if ev.Type == watcher.EventDelete {
			m.store.Remove(rel)
			deleted = true
			continue
		}
		m.markDirty(rel)
	}
	if deleted {
		m.schedulePersist()
	}
}

func (m *Maintainer) markDirty(rel string) {
	m.mu.Lock()
	m.dirty[rel] = true
	m.mu.Unlock()
	m.refreshDebounce.Trigger(m.refresh)
}

// refresh submits the currently-dirty paths as a refresh_batch job, falling
// back to running the batch inline if the job runner is unavailable or its
// queue rejects the submission.
func (m *Maintainer) refresh() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.dirty))
	for p := range m.dirty {
		paths = append(paths, p)
	}
	m.dirty = make(map[string]bool)
	m.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	if m.jobRunner != nil {
		job, err := jobs.NewJob(jobs.JobTypeRefreshBatch, jobs.RefreshBatchScope{Paths: paths})
		if err == nil && m.jobRunner.Submit(job) == nil {
			return
		}
		m.logger.Warn("Refresh batch job submission failed, running inline", nil)
	}
	m.refreshPaths(context.Background(), paths)
}

// refreshPaths rebuilds every given path in parallel batches bounded by
// cfg.Parallelism, throttled to stay within the configured CPU budget, then
// schedules the debounced persist.
func (m *Maintainer) refreshPaths(ctx context.Context, paths []string) {
	sem := make(chan struct{}, m.cfg.Parallelism)
	var wg sync.WaitGroup

	for _, p := range paths {
		sem <- struct{}{}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			m.throttler.throttle(ctx)

			start := time.Now()
			entries, err := m.builder.BuildFile(ctx, path)
			m.throttler.track(time.Since(start))

			if err != nil {
				m.logger.Warn("Refresh failed", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
				return
			}
			m.store.Upsert(path, entries)
		}(p)
	}
	wg.Wait()

	m.schedulePersist()
}

// runRefreshBatchJob is the jobs.JobHandler for JobTypeRefreshBatch.
func (m *Maintainer) runRefreshBatchJob(ctx context.Context, job *jobs.Job, progress func(int)) (interface{}, error) {
	scope, err := jobs.ParseRefreshBatchScope(job.Scope)
	if err != nil {
		return nil, err
	}
	m.refreshPaths(ctx, scope.Paths)
	progress(100)
	return map[string]interface{}{"filesRefreshed": len(scope.Paths)}, nil
}

// runPersistIndexJob is the jobs.JobHandler for JobTypePersistIndex.
func (m *Maintainer) runPersistIndexJob(ctx context.Context, job *jobs.Job, progress func(int)) (interface{}, error) {
	if err := m.store.Persist(); err != nil {
		return nil, err
	}
	progress(100)
	return nil, nil
}

func (m *Maintainer) schedulePersist() {
	m.persistDebounce.Trigger(func() {
		if m.jobRunner != nil {
			job, err := jobs.NewJob(jobs.JobTypePersistIndex, nil)
			if err == nil && m.jobRunner.Submit(job) == nil {
				return
			}
		}
		if err := m.store.Persist(); err != nil {
			m.logger.Warn("Index persist failed", map[string]interface{}{"error": err.Error()})
		}
	})
}

// Stats reports the current count of dirty, not-yet-refreshed paths.
func (m *Maintainer) Stats() map[string]interface{} {
	m.mu.Lock()
	dirty := len(m.dirty)
	m.mu.Unlock()

	stats := map[string]interface{}{
		"dirtyPaths":  dirty,
		"parallelism": m.cfg.Parallelism,
		"cpuBudget":   m.cfg.CPUBudget,
	}
	if m.jobRunner != nil {
		stats["jobs"] = m.jobRunner.Stats()
	}
	return stats
}
