package audit

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"quantix/internal/portfolio"
)

// Checkpoint is a portfolio snapshot tagged with the last audit record it covers.
type Checkpoint struct {
	LastSeq   uint64             `json:"lastSeq"`
	Timestamp time.Time          `json:"timestamp"`
	Portfolio portfolio.Snapshot `json:"portfolio"`
}

// WriteCheckpoint writes cp to path as indented JSON, creating the directory.
func WriteCheckpoint(path string, cp Checkpoint) error {
	data, err := sonic.ConfigFastest.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadCheckpoint loads a checkpoint from disk.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := sonic.ConfigFastest.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}
