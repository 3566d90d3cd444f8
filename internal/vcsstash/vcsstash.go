// Package vcsstash provides a git-stash-backed rollback checkpoint for the
// apply engine, used when a transaction's content is too large for an
// in-memory snapshot or the configured strategy prefers VCS state.
package vcsstash

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"scribe/internal/logging"
)

// Mode controls when a stash checkpoint is taken.
type Mode string

const (
	// Off disables VCS stashing entirely.
	Off Mode = "off"
	// DirtyOnly stashes only when the working tree has uncommitted changes
	// that overlap the transaction's files.
	DirtyOnly Mode = "dirty-only"
	// Always stashes unconditionally before every transaction.
	Always Mode = "always"
)

// Ref identifies a stash entry created for a transaction.
type Ref struct {
	TransactionID string
	StashSHA      string
	CreatedAt     time.Time
}

// Stasher creates and restores git stash checkpoints.
type Stasher struct {
	repoRoot string
	logger   *logging.Logger
	timeout  time.Duration
}

// New creates a Stasher rooted at repoRoot.
func New(repoRoot string, logger *logging.Logger, timeout time.Duration) *Stasher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Stasher{repoRoot: repoRoot, logger: logger, timeout: timeout}
}

// IsRepo reports whether repoRoot is inside a git working tree.
func (s *Stasher) IsRepo() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.git(ctx, "rev-parse", "--git-dir").Run() == nil
}

// IsDirty reports whether the working tree has any uncommitted changes.
func (s *Stasher) IsDirty(ctx context.Context) (bool, error) {
	out, err := s.output(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("vcsstash status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Create takes a stash checkpoint tagged with the transaction ID, keeping
// the working tree and index intact (--keep-index is not used; the engine
// writes directly to disk after the stash, so the tree must be clean
// going into the write phase).
func (s *Stasher) Create(ctx context.Context, transactionID string) (*Ref, error) {
	message := stashMessage(transactionID)
	if _, err := s.output(ctx, "stash", "push", "--include-untracked", "-m", message); err != nil {
		return nil, fmt.Errorf("vcsstash create: %w", err)
	}

	sha, err := s.output(ctx, "rev-parse", "stash@{0}")
	if err != nil {
		return nil, fmt.Errorf("vcsstash resolve sha: %w", err)
	}

	ref := &Ref{
		TransactionID: transactionID,
		StashSHA:      strings.TrimSpace(sha),
		CreatedAt:     time.Now(),
	}

	s.logger.Debug("vcs stash created", map[string]interface{}{
		"transactionId": transactionID,
		"stash":         ref.StashSHA,
	})

	return ref, nil
}

// Restore pops the stash entry back onto the working tree, undoing any
// writes the transaction made after the checkpoint.
func (s *Stasher) Restore(ctx context.Context, ref *Ref) error {
	if _, err := s.output(ctx, "checkout", "--", "."); err != nil {
		s.logger.Warn("vcsstash restore: checkout reset failed, continuing", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if _, err := s.output(ctx, "stash", "apply", ref.StashSHA); err != nil {
		return fmt.Errorf("vcsstash restore apply %s: %w", ref.StashSHA, err)
	}
	if err := s.drop(ctx, ref); err != nil {
		s.logger.Warn("vcsstash restore: drop failed after apply", map[string]interface{}{
			"stash": ref.StashSHA,
			"error": err.Error(),
		})
	}

	s.logger.Info("vcs stash restored", map[string]interface{}{
		"transactionId": ref.TransactionID,
		"stash":         ref.StashSHA,
	})
	return nil
}

// Discard drops the stash entry without applying it, called on commit.
func (s *Stasher) Discard(ctx context.Context, ref *Ref) error {
	return s.drop(ctx, ref)
}

func (s *Stasher) drop(ctx context.Context, ref *Ref) error {
	_, err := s.output(ctx, "stash", "drop", ref.StashSHA)
	return err
}

func (s *Stasher) git(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoRoot
	return cmd
}

func (s *Stasher) output(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.git(ctx, args...).Output()
	return string(out), err
}

func stashMessage(transactionID string) string {
	return fmt.Sprintf("scribe-apply:%s", transactionID)
}
