// Package storage persists the dedup snapshot as a single JSON file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// FileStore reads and writes the whole snapshot at once. Flush goes
// through a temp file and an atomic rename so a crash mid-write leaves
// the previous snapshot intact. External consumers may read the file;
// this store is the only writer.
type FileStore struct {
	path   string
	logger *slog.Logger
}

var _ ports.StateStore = (*FileStore)(nil)

// NewFileStore wires the snapshot path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load returns the stored snapshot. A missing file is a first run and
// yields an empty snapshot; an unreadable or corrupt file is an error and
// must abort the run before any side effect.
func (s *FileStore) Load() (*domain.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}

	snapshot := domain.NewSnapshot()
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if snapshot.Processed == nil {
		snapshot.Processed = map[string]domain.DedupRecord{}
	}
	return snapshot, nil
}

// Flush durably replaces the stored snapshot: write to <path>.tmp, then
// rename over the old file. A stray temp file from a crashed run is
// simply overwritten by the next flush.
func (s *FileStore) Flush(snapshot *domain.Snapshot) error {
	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}

	if s.logger != nil {
		s.logger.Debug("state flushed", "path", s.path, "entries", snapshot.Len())
	}
	return nil
}
