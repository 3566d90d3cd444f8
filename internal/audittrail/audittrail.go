// Package audittrail records an append-only, fsync'd log of every apply
// transaction, with size-based rotation into zstd-compressed segments.
package audittrail

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"scribe/internal/applyengine"
	"scribe/internal/logging"
)

// Event is a single append-only audit record.
type Event struct {
	TransactionID string                        `json:"transactionId"`
	Status        applyengine.TransactionStatus `json:"status"`
	Description   string                        `json:"description,omitempty"`
	Files         []applyengine.FileResult      `json:"files"`
	CheckpointKind string                       `json:"checkpointKind,omitempty"`
	StartedAt     time.Time                     `json:"startedAt"`
	FinishedAt    time.Time                     `json:"finishedAt"`
	RecordedAt    time.Time                     `json:"recordedAt"`
}

// Log is an append-only JSON-lines audit trail with rotation.
type Log struct {
	logger      *logging.Logger
	path        string
	maxBytes    int64
	maxBackups  int

	mu   sync.Mutex
	file *os.File
	size int64
}

// Open opens (creating if necessary) the audit log at path. maxBytes is
// the rotation threshold; maxBackups bounds how many compressed segments
// are retained.
func Open(path string, maxBytes int64, maxBackups int, logger *logging.Logger) (*Log, error) {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("audittrail: create dir: %w", err)
	}

	l := &Log{logger: logger, path: path, maxBytes: maxBytes, maxBackups: maxBackups}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("audittrail: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("audittrail: stat: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// RecordTransaction implements applyengine.AuditRecorder.
func (l *Log) RecordTransaction(result *applyengine.TransactionResult, req *applyengine.TransactionRequest) {
	event := Event{
		TransactionID:  result.TransactionID,
		Status:         result.Status,
		Files:          result.Files,
		CheckpointKind: result.CheckpointKind,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		RecordedAt:     time.Now(),
	}
	if req != nil {
		event.Description = req.Description
	}
	if err := l.Append(event); err != nil {
		l.logger.Error("failed to append audit event", map[string]interface{}{
			"transactionId": result.TransactionID,
			"error":         err.Error(),
		})
	}
}

// Append writes one record, fsyncing before returning so the record
// survives a crash immediately after Apply reports success.
func (l *Log) Append(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audittrail: marshal: %w", err)
	}
	data = append(data, '\n')

	if l.size+int64(len(data)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			l.logger.Warn("audit log rotation failed, continuing without rotating", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("audittrail: write: %w", err)
	}
	l.size += int64(n)

	return l.file.Sync()
}

// Events reads the current (uncompressed) audit log segment at path and
// returns up to limit of its most recent events. limit <= 0 means no limit.
// Rotated, zstd-compressed backups are not read.
func Events(path string, limit int) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audittrail: read: %w", err)
	}

	var events []Event
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func (l *Log) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	backupPath := fmt.Sprintf("%s.%d.zst", l.path, time.Now().UnixNano())
	if err := compressToZstd(l.path, backupPath); err != nil {
		// Reopen the original file regardless so logging can continue.
		_ = l.open()
		return err
	}
	if err := os.Remove(l.path); err != nil {
		return err
	}

	l.pruneBackups()

	return l.open()
}

func compressToZstd(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	defer enc.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := enc.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return nil
}

func (l *Log) pruneBackups() {
	pattern := l.path + ".*.zst"
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) <= l.maxBackups {
		return
	}
	excess := len(matches) - l.maxBackups
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
