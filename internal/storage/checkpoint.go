package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rewired-gh/polycalib/internal/models"
)

// Checkpoint is an append-only JSON-lines log of completed market records.
// Each Append is flushed to disk before returning, so after a crash the log
// holds every market finished before the in-flight one.
type Checkpoint struct {
	path      string
	file      *os.File
	completed map[string]bool
	mu        sync.Mutex
}

// ReplayResult is the content of a checkpoint log
type ReplayResult struct {
	Records []models.MarketRecord
	Corrupt int // lines that could not be decoded
}

// OpenCheckpoint opens (or creates) the log at path. With resume=false an
// existing log is rotated aside and a fresh one started. A torn final line
// left by a crash is truncated before new records are appended.
func OpenCheckpoint(path string, resume bool, filePermissions, dirPermissions os.FileMode) (*Checkpoint, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if !resume {
		if _, err := os.Stat(path); err == nil {
			rotated := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102_150405"))
			if err := os.Rename(path, rotated); err != nil {
				return nil, fmt.Errorf("failed to rotate checkpoint: %w", err)
			}
		}
	}

	if err := truncateTornTail(path); err != nil {
		return nil, err
	}

	completed := make(map[string]bool)
	replay, err := ReplayCheckpoint(path)
	if err != nil {
		return nil, err
	}
	for _, rec := range replay.Records {
		completed[rec.Market.ConditionID] = true
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}

	return &Checkpoint{
		path:      path,
		file:      f,
		completed: completed,
	}, nil
}

// Path returns the log location
func (c *Checkpoint) Path() string {
	return c.path
}

// Contains reports whether a record for conditionID is already in the log
func (c *Checkpoint) Contains(conditionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed[conditionID]
}

// Len returns the number of distinct markets recorded
func (c *Checkpoint) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completed)
}

// Append writes one record and syncs it to disk
func (c *Checkpoint) Append(rec models.MarketRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record for %s: %w", rec.Market.ConditionID, err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.file.Write(line); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	c.completed[rec.Market.ConditionID] = true
	return nil
}

// Close closes the underlying file
func (c *Checkpoint) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// ReplayCheckpoint reads every decodable record from the log at path. A missing
// file yields an empty result. Undecodable lines are skipped and counted.
func ReplayCheckpoint(path string) (*ReplayResult, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &ReplayResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	return replay(f)
}

func replay(r io.Reader) (*ReplayResult, error) {
	result := &ReplayResult{}
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec models.MarketRecord
			if jerr := json.Unmarshal(line, &rec); jerr != nil {
				result.Corrupt++
			} else {
				result.Records = append(result.Records, rec)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint: %w", err)
		}
	}
	return result, nil
}

// truncateTornTail drops bytes after the last newline, the remains of a write
// interrupted mid-record.
func truncateTornTail(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if err := os.Truncate(path, int64(keep)); err != nil {
		return fmt.Errorf("failed to truncate torn checkpoint record: %w", err)
	}
	return nil
}
