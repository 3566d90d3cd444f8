//go:build windows

package repoindex

import (
	"fmt"
	"os"
)

// AcquireLock takes a best-effort, PID-file based lock on Windows, where
// advisory flock semantics aren't available the way they are on Unix.
func (s *Store) AcquireLock() error {
	if err := os.MkdirAll(s.repoRoot+"/"+s.stateDir, 0755); err != nil {
		return fmt.Errorf("repoindex: create state dir: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("repoindex: open lock file: %w", err)
	}
	_, _ = f.WriteString(fmt.Sprintf("%d\n", os.Getpid()))

	s.lockFile = f
	return nil
}

// Close releases the lock file, if held.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	err := s.lockFile.Close()
	s.lockFile = nil
	return err
}
