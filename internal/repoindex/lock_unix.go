//go:build !windows

package repoindex

import (
	"fmt"
	"os"
	"syscall"
)

// AcquireLock takes an advisory flock over the index's state directory,
// preventing two processes from building or persisting the same index
// concurrently. The lock is released by Close.
func (s *Store) AcquireLock() error {
	if err := os.MkdirAll(s.repoRoot+"/"+s.stateDir, 0755); err != nil {
		return fmt.Errorf("repoindex: create state dir: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("repoindex: open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("repoindex: index locked by another process: %w", err)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteString(fmt.Sprintf("%d\n", os.Getpid()))

	s.lockFile = f
	return nil
}

// Close releases the advisory lock, if held.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	_ = syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	err := s.lockFile.Close()
	s.lockFile = nil
	return err
}
