package maintenance

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/repoindex"
	"scribe/internal/watcher"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: io.Discard})
}

func newTestMaintainer(t *testing.T) (*Maintainer, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	logger := testLogger()
	store := repoindex.NewStore(dir, ".scribe/index", logger)
	builder := repoindex.NewBuilder(dir, nil, repoindex.DefaultChunkConfig(), logger)

	cfg := Config{
		CPUBudget:       1,
		Parallelism:     2,
		RefreshDebounce: 20 * time.Millisecond,
		PersistDebounce: 20 * time.Millisecond,
	}
	wcfg := watcher.DefaultConfig()
	wcfg.DebounceMs = 10

	m := New(dir, store, builder, cfg, wcfg, logger)
	return m, dir
}

func TestMaintainerRefreshesDirtyFile(t *testing.T) {
	m, dir := newTestMaintainer(t)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	target := filepath.Join(dir, "main.go")
	if err := os.WriteFile(target, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stats := m.store.Stats()
		if n, ok := stats["entries"].(int); ok && n > 0 {
			return
		}
		time.Sleep(30 * time.Millisecond)
	}
	t.Error("expected the store to gain entries after a file was created")
}

func TestMaintainerDeleteIsImmediate(t *testing.T) {
	m, _ := newTestMaintainer(t)

	m.store.Upsert("gone.go", []repoindex.IndexEntry{{ID: "1", Path: "gone.go", TokenCount: 3}})
	m.handleChanges(m.repoRoot, []watcher.Event{
		{Type: watcher.EventDelete, Path: filepath.Join(m.repoRoot, "gone.go")},
	})

	stats := m.store.Stats()
	if n, ok := stats["entries"].(int); ok && n != 0 {
		t.Errorf("entries = %d, want 0 after delete", n)
	}
}

func TestCPUThrottlerYieldsOverBudget(t *testing.T) {
	th := newCPUThrottler(0.2)
	th.track(100 * time.Millisecond)
	th.windowStart = time.Now().Add(-100 * time.Millisecond)

	start := time.Now()
	th.throttle(context.Background())
	if time.Since(start) <= 0 {
		t.Error("expected throttle to take nonzero time when over budget")
	}
}

func TestCPUThrottlerNoBudgetNoop(t *testing.T) {
	th := newCPUThrottler(1)
	th.track(time.Second)
	start := time.Now()
	th.throttle(context.Background())
	if time.Since(start) > 10*time.Millisecond {
		t.Error("expected throttle to be a no-op when budget is 1 (unthrottled)")
	}
}

func TestFromIndexerConfig(t *testing.T) {
	ic := config.DefaultConfig().Indexer
	ic.RefreshDebounceMs = 1000
	ic.PersistDebounceMs = 2000

	cfg := FromIndexerConfig(ic)
	if cfg.RefreshDebounce != time.Second {
		t.Errorf("RefreshDebounce = %v, want 1s", cfg.RefreshDebounce)
	}
	if cfg.PersistDebounce != 2*time.Second {
		t.Errorf("PersistDebounce = %v, want 2s", cfg.PersistDebounce)
	}
	if cfg.Parallelism != ic.Parallelism {
		t.Errorf("Parallelism = %d, want %d", cfg.Parallelism, ic.Parallelism)
	}
}

func TestMaintainerFallsBackWhenRemoteLogMisconfigured(t *testing.T) {
	m, _ := newTestMaintainer(t)
	m.cfg.RemoteLog = &config.RemoteLogConfig{} // missing Endpoint

	logger := m.newJobSlogger(m.repoRoot)
	if logger == nil {
		t.Fatal("newJobSlogger() returned nil")
	}
	if m.lokiHandler != nil {
		t.Error("lokiHandler should stay nil when the Loki handler fails to initialize")
	}
}
