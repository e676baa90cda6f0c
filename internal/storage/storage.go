// Package storage provides file-based persistence for collection runs.
//
// Store manages the output directory and writes every file atomically (temp file
// then rename), so a crash never leaves a half-written dataset or market list.
// Checkpoint is the append-only per-market log a run is resumed from, and
// SQLiteSink optionally mirrors the flat dataset into a SQLite database.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Well-known file names inside the output directory
const (
	CheckpointFile = "checkpoint.jsonl"
	MarketsFile    = "markets.json"
	RawMarketsFile = "raw_markets.json"
)

// Store manages files inside a single output directory
type Store struct {
	dir             string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// PersistenceFile wraps JSON payloads with a version and save time
type PersistenceFile struct {
	Version string          `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

const persistenceVersion = "1.0"

// New creates a Store rooted at dir. If dir is empty, uses OS-appropriate tmp directory.
func New(dir string, filePermissions, dirPermissions os.FileMode) *Store {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "polycalib")
	}
	if filePermissions == 0 {
		filePermissions = 0644
	}
	if dirPermissions == 0 {
		dirPermissions = 0755
	}
	return &Store{
		dir:             dir,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
}

// Dir returns the output directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute location of name inside the output directory
func (s *Store) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// FilePermissions returns the mode new files are created with
func (s *Store) FilePermissions() os.FileMode {
	return s.filePermissions
}

// DirPermissions returns the mode new directories are created with
func (s *Store) DirPermissions() os.FileMode {
	return s.dirPermissions
}

// WriteFile atomically writes name using the supplied writer function
func (s *Store) WriteFile(name string, write func(w io.Writer) error) error {
	path := s.Path(name)

	// Create data directory if needed
	if err := os.MkdirAll(filepath.Dir(path), s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	// Rename temp file to actual file
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// SaveJSON atomically persists v under name
func (s *Store) SaveJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	file := PersistenceFile{
		Version: persistenceVersion,
		SavedAt: time.Now().UTC(),
		Data:    data,
	}
	jsonData, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	return s.WriteFile(name, func(w io.Writer) error {
		_, err := w.Write(jsonData)
		return err
	})
}

// LoadJSON restores a payload written by SaveJSON. found is false when the
// file does not exist.
func (s *Store) LoadJSON(name string, v any) (found bool, err error) {
	path := s.Path(name)

	// Clean up any stale temp files from previous crashes
	tempPath := path + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	jsonData, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}

	var file PersistenceFile
	if err := json.Unmarshal(jsonData, &file); err != nil {
		return false, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if file.Version != persistenceVersion {
		return false, fmt.Errorf("unsupported file version %q in %s", file.Version, path)
	}
	if err := json.Unmarshal(file.Data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return true, nil
}
