// Package checkpoint persists periodic session progress so an interrupted
// run can resume from its cursor instead of reprocessing the backlog.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/session"
)

var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one durable progress snapshot. Processed counts issues
// handled since the session started. Resumption itself is driven by the
// persisted issue statuses; LastIssueID names the most recently settled
// issue for resume logs and operator inspection.
type Checkpoint struct {
	SessionID   string           `json:"session_id"`
	LastIssueID string           `json:"last_issue_id"`
	Processed   int              `json:"processed"`
	Counters    session.Counters `json:"counters"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Writer stores checkpoints as one JSON file per session. Writes are
// atomic: the file never holds a partial checkpoint.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates the checkpoint directory if needed.
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

func (w *Writer) path(sessionID string) string {
	return filepath.Join(w.dir, sessionID+".checkpoint.json")
}

// Save writes the checkpoint durably.
func (w *Writer) Save(cp Checkpoint) error {
	cp.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	target := w.path(cp.SessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}

	w.logger.Debug("checkpoint saved",
		zap.String("sessionID", cp.SessionID),
		zap.Int("processed", cp.Processed))
	return nil
}

// Load returns the stored checkpoint for a session.
func (w *Writer) Load(sessionID string) (*Checkpoint, error) {
	data, err := os.ReadFile(w.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Clear removes a session's checkpoint after a clean finish.
func (w *Writer) Clear(sessionID string) error {
	if err := os.Remove(w.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// Due reports whether a checkpoint should be written after the given number
// of processed issues at the configured interval.
func Due(processed, interval int) bool {
	return interval > 0 && processed > 0 && processed%interval == 0
}
