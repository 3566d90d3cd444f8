// Package watcher provides file system watching for indexed workspaces.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scribe/internal/logging"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called when changes are detected
type ChangeHandler func(repoPath string, events []Event)

// Config contains watcher configuration
type Config struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	DebounceMs     int           `json:"debounceMs" mapstructure:"debounce_ms"`
	IgnorePatterns []string      `json:"ignorePatterns" mapstructure:"ignore_patterns"`
	Repos          []string      `json:"repos" mapstructure:"repos"` // repo IDs or "all"
	PollInterval   time.Duration `json:"-"`                          // unused, kept for config compatibility
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		DebounceMs: 5000,
		IgnorePatterns: []string{
			"*.log",
			"*.tmp",
			"node_modules/**",
			".git/objects/**",
			".git/logs/**",
			"vendor/**",
			"__pycache__/**",
			".scribe/**",
		},
		Repos:        []string{"all"},
		PollInterval: 2 * time.Second,
	}
}

// Watcher watches for file system changes across one or more workspace roots,
// using recursive fsnotify watches with per-repo debounced batching.
type Watcher struct {
	config  Config
	logger  *logging.Logger
	handler ChangeHandler
	repos   map[string]*repoWatcher // repoPath -> watcher state

	fsWatcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// repoWatcher tracks the watched directories and pending-event batch for a
// single workspace root.
type repoWatcher struct {
	repoPath string
	dirs     map[string]bool
	batch    *BatchDebouncer
}

// New creates a new file system watcher
func New(config Config, logger *logging.Logger, handler ChangeHandler) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		config:  config,
		logger:  logger,
		handler: handler,
		repos:   make(map[string]*repoWatcher),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins watching
func (w *Watcher) Start() error {
	if !w.config.Enabled {
		w.logger.Info("File watcher is disabled", nil)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.fsWatcher = fsw
	w.mu.Unlock()

	w.logger.Info("Starting file watcher", map[string]interface{}{
		"debounceMs": w.config.DebounceMs,
	})

	w.wg.Add(1)
	go w.loop()

	return nil
}

// Stop stops watching
func (w *Watcher) Stop() error {
	w.logger.Info("Stopping file watcher", nil)
	w.cancel()

	w.mu.Lock()
	for _, rw := range w.repos {
		rw.batch.Cancel()
	}
	fsw := w.fsWatcher
	w.mu.Unlock()

	if fsw != nil {
		fsw.Close()
	}

	w.wg.Wait()
	w.logger.Info("File watcher stopped", nil)
	return nil
}

// loop drains fsnotify events and routes them to the owning repo's batch.
func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		w.mu.RLock()
		fsw := w.fsWatcher
		w.mu.RUnlock()
		if fsw == nil {
			return
		}

		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	var evType EventType
	switch {
	case ev.Op&fsnotify.Create != 0:
		evType = EventCreate
	case ev.Op&fsnotify.Write != 0:
		evType = EventModify
	case ev.Op&fsnotify.Remove != 0:
		evType = EventDelete
	case ev.Op&fsnotify.Rename != 0:
		evType = EventRename
	default:
		return // Chmod and other ops carry no content change
	}

	w.mu.Lock()
	rw := w.ownerLocked(ev.Name)
	if rw == nil {
		w.mu.Unlock()
		return
	}

	rel, err := filepath.Rel(rw.repoPath, ev.Name)
	if err == nil && w.IsIgnored(rel) {
		w.mu.Unlock()
		return
	}

	if evType == EventCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addDirLocked(rw, ev.Name)
		}
	}
	if evType == EventDelete || evType == EventRename {
		if rw.dirs[ev.Name] {
			w.fsWatcher.Remove(ev.Name)
			delete(rw.dirs, ev.Name)
		}
	}
	w.mu.Unlock()

	rw.batch.Add(Event{Type: evType, Path: ev.Name, Timestamp: time.Now()})
}

// ownerLocked returns the repoWatcher whose root is the longest matching
// prefix of path. Caller must hold w.mu.
func (w *Watcher) ownerLocked(path string) *repoWatcher {
	var best *repoWatcher
	bestLen := -1
	for _, rw := range w.repos {
		if strings.HasPrefix(path, rw.repoPath) && len(rw.repoPath) > bestLen {
			best = rw
			bestLen = len(rw.repoPath)
		}
	}
	return best
}

// WatchRepo starts watching a repository
func (w *Watcher) WatchRepo(repoPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.repos[repoPath]; exists {
		return nil // Already watching
	}

	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		return nil // Not a git repo
	}

	rw := &repoWatcher{
		repoPath: repoPath,
		dirs:     make(map[string]bool),
	}
	debounce := time.Duration(w.config.DebounceMs) * time.Millisecond
	rw.batch = NewBatchDebouncer(debounce, func(events []Event) {
		w.logger.Debug("File changes detected", map[string]interface{}{
			"repoPath":   repoPath,
			"eventCount": len(events),
		})
		if w.handler != nil {
			w.handler(repoPath, events)
		}
	})

	if w.fsWatcher != nil {
		filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(repoPath, path)
			if relErr == nil && rel != "." && w.IsIgnored(rel) {
				return filepath.SkipDir
			}
			w.addDirLocked(rw, path)
			return nil
		})
	}

	w.repos[repoPath] = rw

	w.logger.Info("Watching repository", map[string]interface{}{
		"path": repoPath,
	})

	return nil
}

// addDirLocked adds a directory to the underlying fsnotify watcher and
// records it against rw for later cleanup. Caller must hold w.mu.
func (w *Watcher) addDirLocked(rw *repoWatcher, dir string) {
	if rw.dirs[dir] {
		return
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch directory", map[string]interface{}{
			"path":  dir,
			"error": err.Error(),
		})
		return
	}
	rw.dirs[dir] = true
}

// UnwatchRepo stops watching a repository
func (w *Watcher) UnwatchRepo(repoPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rw, exists := w.repos[repoPath]
	if !exists {
		return
	}

	if w.fsWatcher != nil {
		for dir := range rw.dirs {
			w.fsWatcher.Remove(dir)
		}
	}
	rw.batch.Cancel()
	delete(w.repos, repoPath)

	w.logger.Info("Stopped watching repository", map[string]interface{}{
		"path": repoPath,
	})
}

// IsIgnored checks if a path matches ignore patterns
func (w *Watcher) IsIgnored(path string) bool {
	for _, pattern := range w.config.IgnorePatterns {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		if matched {
			return true
		}

		// Handle ** patterns
		if strings.Contains(pattern, "**") {
			// Simple glob matching for **
			parts := strings.Split(pattern, "**")
			if len(parts) == 2 {
				if strings.HasPrefix(path, strings.TrimSuffix(parts[0], "/")) &&
					(parts[1] == "" || strings.HasSuffix(path, strings.TrimPrefix(parts[1], "/"))) {
					return true
				}
			}
		}
	}
	return false
}

// WatchedRepos returns the list of watched repository paths
func (w *Watcher) WatchedRepos() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	repos := make([]string, 0, len(w.repos))
	for path := range w.repos {
		repos = append(repos, path)
	}
	return repos
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"enabled":        w.config.Enabled,
		"watchedRepos":   len(w.repos),
		"debounceMs":     w.config.DebounceMs,
		"ignorePatterns": len(w.config.IgnorePatterns),
	}
}
