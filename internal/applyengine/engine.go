package applyengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "scribe/internal/errors"
	"scribe/internal/logging"
	"scribe/internal/paths"
	"scribe/internal/snapshot"
	"scribe/internal/vcsstash"
)

// CheckpointStrategy selects how a transaction's rollback point is taken.
type CheckpointStrategy string

const (
	StrategySnapshot CheckpointStrategy = "snapshot"
	StrategyStash    CheckpointStrategy = "stash"
	StrategyBranch   CheckpointStrategy = "branch"
	StrategyWorktree CheckpointStrategy = "worktree"
)

// SecretScanner detects likely credentials in edit content before it is
// written, consumed here as an interface so the apply engine does not
// depend on the secret-detection implementation directly.
type SecretScanner interface {
	ScanText(text string) (matched bool, redacted string)
}

// Config controls engine behavior; see internal/config.ApplyEngineConfig
// for the on-disk representation.
type Config struct {
	RepoRoot           string
	SnapshotMaxBytes   int64
	GitAutoStashMode   vcsstash.Mode
	CheckpointStrategy CheckpointStrategy
	StateDir           string
	GitTimeout         time.Duration
	TransactionTTL     time.Duration
	ScanForSecrets     bool
}

// Engine applies multi-file edit transactions atomically.
type Engine struct {
	cfg     Config
	logger  *logging.Logger
	snaps   *snapshot.Store
	stasher *vcsstash.Stasher
	scanner SecretScanner
	audit   AuditRecorder

	mu      sync.Mutex
	inFlight map[string]*inFlightTransaction
}

// AuditRecorder is the subset of the audit trail the engine writes to,
// consumed as an interface so applyengine does not import audittrail
// concretely (audittrail imports applyengine's result types instead).
type AuditRecorder interface {
	RecordTransaction(result *TransactionResult, req *TransactionRequest)
}

type inFlightTransaction struct {
	ID             string
	Request        TransactionRequest
	Snapshot       *snapshot.Snapshot
	StashRef       *vcsstash.Ref
	CheckpointKind string
	StartedAt      time.Time
}

// New creates an Engine rooted at cfg.RepoRoot.
func New(cfg Config, logger *logging.Logger, scanner SecretScanner, audit AuditRecorder) *Engine {
	if cfg.CheckpointStrategy == "" {
		cfg.CheckpointStrategy = StrategySnapshot
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".scribe/transactions"
	}
	if cfg.TransactionTTL <= 0 {
		cfg.TransactionTTL = 30 * time.Minute
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		snaps:    snapshot.NewStore(logger, cfg.SnapshotMaxBytes),
		stasher:  vcsstash.New(cfg.RepoRoot, logger, cfg.GitTimeout),
		scanner:  scanner,
		audit:    audit,
		inFlight: make(map[string]*inFlightTransaction),
	}
}

// Apply runs a transaction to completion: path safety checks, deterministic
// ordering, base-signature verification, checkpoint capture, the write
// phase, post-write verification, and commit or rollback.
func (e *Engine) Apply(ctx context.Context, req TransactionRequest) (*TransactionResult, error) {
	txID := uuid.New().String()
	result := &TransactionResult{
		TransactionID: txID,
		StartedAt:     time.Now(),
		Files:         make([]FileResult, 0, len(req.Edits)),
	}

	ordered, err := e.validateAndOrder(req.Edits)
	if err != nil {
		return e.fail(result, &req, err, CategoryWriteFailure)
	}

	bases, err := e.captureBaseSignatures(ordered)
	if err != nil {
		return e.fail(result, &req, err, CategoryWriteFailure)
	}

	if mismatch := e.checkBaseMismatch(ordered, bases); mismatch != nil {
		return e.fail(result, &req, mismatch, CategoryBaseMismatch)
	}

	if e.cfg.ScanForSecrets && e.scanner != nil {
		if found := e.scanForSecrets(ordered); found != "" {
			return e.fail(result, &req, apperrors.NewCkbError(
				apperrors.SecretDetected,
				fmt.Sprintf("edit for %s matched a secret pattern", found),
				nil, nil, nil,
			), CategorySecretDetected)
		}
	}

	flight := &inFlightTransaction{
		ID:        txID,
		Request:   req,
		StartedAt: result.StartedAt,
	}
	if err := e.checkpoint(ctx, flight, ordered); err != nil {
		return e.fail(result, &req, err, CategoryWriteFailure)
	}
	result.CheckpointKind = flight.CheckpointKind

	e.mu.Lock()
	e.inFlight[txID] = flight
	e.mu.Unlock()
	e.persistInFlight(flight)

	if err := e.recheckBaseSignatures(ordered, bases); err != nil {
		e.rollback(ctx, flight)
		result.Status = StatusRolledBack
		result.Error = err.Error()
		result.FinishedAt = time.Now()
		result.Files = append(result.Files, FileResult{ErrorCategory: CategoryBaseMismatch, Error: err.Error()})
		e.clearInFlight(txID)
		e.recordAudit(result, &req)
		return result, err
	}

	writeResults, writeErr := e.writePhase(ordered)
	result.Files = writeResults

	if writeErr != nil {
		e.rollback(ctx, flight)
		result.Status = StatusRolledBack
		result.Error = writeErr.Error()
		result.FinishedAt = time.Now()
		e.clearInFlight(txID)
		e.recordAudit(result, &req)
		return result, writeErr
	}

	if verifyErr := e.verify(req.ExpectedResults, ordered); verifyErr != nil {
		e.rollback(ctx, flight)
		result.Status = StatusRolledBack
		result.Error = verifyErr.Error()
		result.FinishedAt = time.Now()
		e.clearInFlight(txID)
		e.recordAudit(result, &req)
		return result, verifyErr
	}

	e.commit(flight)
	result.Status = StatusCommitted
	result.FinishedAt = time.Now()
	e.clearInFlight(txID)
	e.recordAudit(result, &req)

	return result, nil
}

func (e *Engine) fail(result *TransactionResult, req *TransactionRequest, err error, category string) (*TransactionResult, error) {
	result.Status = StatusFailed
	result.Error = err.Error()
	result.FinishedAt = time.Now()
	if len(result.Files) == 0 {
		result.Files = append(result.Files, FileResult{Error: err.Error(), ErrorCategory: category})
	}
	e.recordAudit(result, req)
	return result, err
}

// validateAndOrder checks every edit's path safety and returns the edits
// sorted by canonical URI, the deterministic write order the engine uses
// to avoid partial-order races between concurrent transactions.
func (e *Engine) validateAndOrder(edits []FileEditOperation) ([]FileEditOperation, error) {
	ordered := make([]FileEditOperation, len(edits))
	copy(ordered, edits)

	for _, op := range ordered {
		abs := e.resolveAbs(op.URI)
		if !paths.IsWithinRepo(abs, e.cfg.RepoRoot) {
			return nil, apperrors.NewCkbError(
				apperrors.PathUnsafe,
				fmt.Sprintf("edit path %q escapes repository root", op.URI),
				nil, nil, nil,
			)
		}
		if op.Kind == EditRename {
			absNew := e.resolveAbs(op.NewURI)
			if !paths.IsWithinRepo(absNew, e.cfg.RepoRoot) {
				return nil, apperrors.NewCkbError(
					apperrors.PathUnsafe,
					fmt.Sprintf("rename target %q escapes repository root", op.NewURI),
					nil, nil, nil,
				)
			}
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].URI < ordered[j].URI
	})

	return ordered, nil
}

func (e *Engine) resolveAbs(uri string) string {
	return paths.JoinRepoPath(e.cfg.RepoRoot, uri)
}

// captureBaseSignatures reads the current on-disk content hash for every
// URI under edit, used to detect edits computed against a stale base.
func (e *Engine) captureBaseSignatures(edits []FileEditOperation) (map[string]FileBaseSignature, error) {
	bases := make(map[string]FileBaseSignature, len(edits))
	for _, op := range edits {
		if _, ok := bases[op.URI]; ok {
			continue
		}
		abs := e.resolveAbs(op.URI)
		content, err := os.ReadFile(abs)
		if os.IsNotExist(err) {
			bases[op.URI] = FileBaseSignature{URI: op.URI, Existed: false}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read base %s: %w", op.URI, err)
		}
		bases[op.URI] = FileBaseSignature{
			URI:         op.URI,
			ContentHash: ContentHash(content),
			Existed:     true,
		}
	}
	return bases, nil
}

// checkBaseMismatch compares each edit's declared BaseHash (the hash the
// caller last observed) against the signature captured immediately before
// the write phase, closing the race window between planning and applying
// an edit.
func (e *Engine) checkBaseMismatch(edits []FileEditOperation, bases map[string]FileBaseSignature) error {
	for _, op := range edits {
		if op.BaseHash == "" {
			continue
		}
		base := bases[op.URI]
		if !base.Existed {
			return apperrors.NewCkbError(
				apperrors.BaseMismatch,
				fmt.Sprintf("%s: expected existing file with hash %s, file does not exist", op.URI, op.BaseHash),
				nil, apperrors.GetSuggestedFixes(apperrors.BaseMismatch), nil,
			)
		}
		if base.ContentHash != op.BaseHash {
			return apperrors.NewCkbError(
				apperrors.BaseMismatch,
				fmt.Sprintf("%s: on-disk content changed since base was computed", op.URI),
				nil, apperrors.GetSuggestedFixes(apperrors.BaseMismatch), nil,
			)
		}
	}
	return nil
}

// recheckBaseSignatures re-reads and re-hashes every touched URI immediately
// before the write phase and compares against the signatures captured in
// step 3, not the caller-declared BaseHash. Secret scanning and checkpoint
// capture both perform real disk I/O between the first base check and the
// write itself; this closes that window rather than shrinking it.
func (e *Engine) recheckBaseSignatures(edits []FileEditOperation, captured map[string]FileBaseSignature) error {
	current, err := e.captureBaseSignatures(edits)
	if err != nil {
		return fmt.Errorf("base re-check: %w", err)
	}
	for uri, before := range captured {
		after := current[uri]
		if before.Existed != after.Existed || before.ContentHash != after.ContentHash {
			return apperrors.NewCkbError(
				apperrors.BaseMismatch,
				fmt.Sprintf("%s: on-disk content changed during checkpoint capture", uri),
				nil, apperrors.GetSuggestedFixes(apperrors.BaseMismatch), nil,
			)
		}
	}
	return nil
}

func (e *Engine) scanForSecrets(edits []FileEditOperation) string {
	for _, op := range edits {
		if op.NewText == "" {
			continue
		}
		if matched, _ := e.scanner.ScanText(op.NewText); matched {
			return op.URI
		}
	}
	return ""
}

// checkpoint captures a rollback point using the configured strategy.
func (e *Engine) checkpoint(ctx context.Context, flight *inFlightTransaction, edits []FileEditOperation) error {
	strategy := e.cfg.CheckpointStrategy

	if strategy == StrategySnapshot {
		uris := uniqueURIs(edits)
		snap, err := e.snaps.Create(flight.ID, uris, e.resolveAbs, nil)
		if err == snapshot.ErrTooLarge && e.stasher.IsRepo() {
			e.logger.Info("snapshot too large, falling back to vcs stash", map[string]interface{}{
				"transactionId": flight.ID,
			})
			strategy = StrategyStash
		} else if err != nil {
			return fmt.Errorf("checkpoint snapshot: %w", err)
		} else {
			flight.Snapshot = snap
			flight.CheckpointKind = string(StrategySnapshot)
			return nil
		}
	}

	switch strategy {
	case StrategyStash, StrategyBranch, StrategyWorktree:
		if !e.stasher.IsRepo() {
			return fmt.Errorf("checkpoint strategy %s requires a git repository", strategy)
		}
		shouldStash := e.cfg.GitAutoStashMode == vcsstash.Always
		if e.cfg.GitAutoStashMode == vcsstash.DirtyOnly {
			dirty, err := e.stasher.IsDirty(ctx)
			if err != nil {
				return fmt.Errorf("checkpoint dirty check: %w", err)
			}
			shouldStash = dirty
		}
		if !shouldStash && e.cfg.GitAutoStashMode != vcsstash.Off {
			// Nothing to stash; fall through to an in-memory snapshot so a
			// rollback point still exists.
			uris := uniqueURIs(edits)
			snap, err := e.snaps.Create(flight.ID, uris, e.resolveAbs, nil)
			if err != nil {
				return fmt.Errorf("checkpoint fallback snapshot: %w", err)
			}
			flight.Snapshot = snap
			flight.CheckpointKind = string(StrategySnapshot)
			return nil
		}
		ref, err := e.stasher.Create(ctx, flight.ID)
		if err != nil {
			return fmt.Errorf("checkpoint stash: %w", err)
		}
		flight.StashRef = ref
		flight.CheckpointKind = string(strategy)
		return nil
	default:
		return fmt.Errorf("unknown checkpoint strategy %q", strategy)
	}
}

func uniqueURIs(edits []FileEditOperation) []string {
	seen := make(map[string]bool, len(edits))
	var uris []string
	for _, op := range edits {
		if !seen[op.URI] {
			seen[op.URI] = true
			uris = append(uris, op.URI)
		}
	}
	return uris
}

// writePhase applies every edit in deterministic order, stopping at the
// first failure so already-written files can be identified for rollback.
func (e *Engine) writePhase(edits []FileEditOperation) ([]FileResult, error) {
	results := make([]FileResult, 0, len(edits))

	for _, op := range edits {
		res, err := e.applyOne(op)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

func (e *Engine) applyOne(op FileEditOperation) (FileResult, error) {
	abs := e.resolveAbs(op.URI)

	if op.Kind == EditDelete {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return FileResult{URI: op.URI, ErrorCategory: CategoryWriteFailure, Error: err.Error()}, err
		}
		return FileResult{URI: op.URI, Applied: true}, nil
	}

	var current []byte
	if op.Kind == EditReplaceRange || op.Kind == EditRename {
		data, err := os.ReadFile(abs)
		if err != nil && !os.IsNotExist(err) {
			return FileResult{URI: op.URI, ErrorCategory: CategoryHunkApplyFailure, Error: err.Error()}, err
		}
		current = data
	}

	newContent, err := applyEdit(op, current)
	if err != nil {
		return FileResult{URI: op.URI, ErrorCategory: CategoryHunkApplyFailure, Error: err.Error()}, err
	}

	targetAbs := abs
	targetURI := op.URI
	if op.Kind == EditRename {
		targetAbs = e.resolveAbs(op.NewURI)
		targetURI = op.NewURI
	}

	if err := os.MkdirAll(filepath.Dir(targetAbs), 0755); err != nil {
		return FileResult{URI: op.URI, ErrorCategory: CategoryWriteFailure, Error: err.Error()}, err
	}
	if err := os.WriteFile(targetAbs, newContent, 0644); err != nil {
		return FileResult{URI: op.URI, ErrorCategory: CategoryWriteFailure, Error: err.Error()}, err
	}
	if op.Kind == EditRename && targetAbs != abs {
		_ = os.Remove(abs)
	}

	return FileResult{URI: targetURI, Applied: true, ResultHash: ContentHash(newContent)}, nil
}

// verify re-reads every file named in expected and checks its content hash
// matches, catching concurrent writers that raced the apply phase.
func (e *Engine) verify(expected []ExpectedFileResult, edits []FileEditOperation) error {
	if len(expected) == 0 {
		return nil
	}
	for _, exp := range expected {
		abs := e.resolveAbs(exp.URI)
		content, err := os.ReadFile(abs)
		if err != nil {
			return apperrors.NewCkbError(
				apperrors.VerificationFailure,
				fmt.Sprintf("%s: could not re-read for verification: %v", exp.URI, err),
				err, nil, nil,
			)
		}
		if got := ContentHash(content); got != exp.ExpectedHash {
			return apperrors.NewCkbError(
				apperrors.VerificationFailure,
				fmt.Sprintf("%s: post-write hash %s does not match expected %s", exp.URI, got, exp.ExpectedHash),
				nil, nil, nil,
			)
		}
	}
	return nil
}

func (e *Engine) commit(flight *inFlightTransaction) {
	if flight.Snapshot != nil {
		e.snaps.Discard(flight.ID)
	}
	if flight.StashRef != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GitTimeout)
		defer cancel()
		if err := e.stasher.Discard(ctx, flight.StashRef); err != nil {
			e.logger.Warn("failed to discard stash on commit", map[string]interface{}{
				"transactionId": flight.ID,
				"error":         err.Error(),
			})
		}
	}
	e.removeInFlightFile(flight.ID)
}

func (e *Engine) rollback(ctx context.Context, flight *inFlightTransaction) {
	if flight.Snapshot != nil {
		if err := e.snaps.Restore(flight.ID, e.resolveAbs); err != nil {
			e.logger.Error("snapshot rollback failed", map[string]interface{}{
				"transactionId": flight.ID,
				"error":         err.Error(),
			})
		}
		e.snaps.Discard(flight.ID)
	}
	if flight.StashRef != nil {
		if err := e.stasher.Restore(ctx, flight.StashRef); err != nil {
			e.logger.Error("stash rollback failed", map[string]interface{}{
				"transactionId": flight.ID,
				"error":         err.Error(),
			})
		}
	}
	e.removeInFlightFile(flight.ID)
}

func (e *Engine) clearInFlight(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

func (e *Engine) recordAudit(result *TransactionResult, req *TransactionRequest) {
	if e.audit != nil {
		e.audit.RecordTransaction(result, req)
	}
}

// persistInFlight writes a marker for the transaction to StateDir so a
// crashed process can detect and roll back an abandoned transaction on the
// next startup via RecoverAbandoned.
func (e *Engine) persistInFlight(flight *inFlightTransaction) {
	dir := filepath.Join(e.cfg.RepoRoot, e.cfg.StateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.logger.Warn("failed to create transaction state dir", map[string]interface{}{"error": err.Error()})
		return
	}
	marker := struct {
		ID             string    `json:"id"`
		CheckpointKind string    `json:"checkpointKind"`
		StashSHA       string    `json:"stashSha,omitempty"`
		StartedAt      time.Time `json:"startedAt"`
	}{
		ID:             flight.ID,
		CheckpointKind: flight.CheckpointKind,
		StartedAt:      flight.StartedAt,
	}
	if flight.StashRef != nil {
		marker.StashSHA = flight.StashRef.StashSHA
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, flight.ID+".json"), data, 0644)
}

func (e *Engine) removeInFlightFile(id string) {
	_ = os.Remove(filepath.Join(e.cfg.RepoRoot, e.cfg.StateDir, id+".json"))
}

// RecoverAbandoned scans StateDir for transaction markers left by a process
// that crashed mid-transaction and rolls each one back. Only snapshot
// markers without a surviving in-memory Snapshot are reported as
// unrecoverable, since the in-memory capture does not survive a crash;
// stash-backed transactions recover fully by restoring the named stash.
func (e *Engine) RecoverAbandoned(ctx context.Context) ([]string, []string, error) {
	dir := filepath.Join(e.cfg.RepoRoot, e.cfg.StateDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var recovered, unrecoverable []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var marker struct {
			ID             string `json:"id"`
			CheckpointKind string `json:"checkpointKind"`
			StashSHA       string `json:"stashSha"`
		}
		if err := json.Unmarshal(data, &marker); err != nil {
			continue
		}
		// Stash, branch, and worktree checkpoint strategies all capture their
		// rollback point as a git stash entry (checkpoint() above), so any
		// marker carrying a StashSHA is recoverable regardless of which of
		// those three strategies produced it.
		if marker.StashSHA != "" {
			ref := &vcsstash.Ref{TransactionID: marker.ID, StashSHA: marker.StashSHA}
			if err := e.stasher.Restore(ctx, ref); err != nil {
				unrecoverable = append(unrecoverable, marker.ID)
			} else {
				recovered = append(recovered, marker.ID)
			}
		} else {
			unrecoverable = append(unrecoverable, marker.ID)
			e.logger.Warn("abandoned transaction with no surviving checkpoint", map[string]interface{}{
				"transactionId": marker.ID,
			})
		}
		_ = os.Remove(filepath.Join(dir, entry.Name()))
	}

	return recovered, unrecoverable, nil
}
