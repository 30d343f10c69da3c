// Package ckpt persists and restores training snapshots.
//
// A snapshot holds the minimal state needed to resume training at the
// control level: progress counters, optimizer state, combined schedule
// state, and the trainable (and EMA shadow) parameter values. Snapshots are
// JSON files named "ckpt<tag>.pt" in a single directory; "most recent" is
// decided by filesystem modification time, never by parsing the tag.
package ckpt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/stride-ml/stride/internal/optim"
)

const (
	filePrefix = "ckpt"
	fileExt    = ".pt"

	dirPermissions  = 0750
	filePermissions = 0600

	// FinalTag marks the terminal checkpoint written once after training.
	FinalTag = "_final"
)

// ErrNoCheckpoint is returned by Latest when the directory holds no
// snapshots.
var ErrNoCheckpoint = errors.New("ckpt: no checkpoint found")

// StepTag formats a training-step count as a checkpoint tag.
func StepTag(step int) string {
	return fmt.Sprintf("%06d", step)
}

// Snapshot is the serialized training state.
type Snapshot struct {
	RunID          string               `json:"run_id,omitempty"`
	SavedAt        time.Time            `json:"saved_at"`
	NSteps         int                  `json:"n_steps"`
	NStepsSkipped  int                  `json:"n_steps_skipped"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	Params         map[string][]float64 `json:"params"`
	EMAParams      map[string][]float64 `json:"ema_params,omitempty"`
	Optimizer      optim.State          `json:"optimizer"`
	Schedule       []json.RawMessage    `json:"schedule"`
}

// Store reads and writes snapshots in one directory.
//
// The store holds a file lock on the directory for its lifetime so two runs
// cannot interleave snapshots; construction fails if another process holds
// the lock. Snapshots are immutable once written and are never deleted by
// the store.
type Store struct {
	dir    string
	lock   *flock.Flock
	logger *slog.Logger
}

// New opens (creating if needed) the checkpoint directory and acquires its
// lock. Callers must Close the store to release the lock.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("ckpt: creating directory %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ckpt: locking directory %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("ckpt: directory %s is locked by another run", dir)
	}

	return &Store{dir: dir, lock: lock, logger: logger}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the directory lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Save writes a new snapshot named "ckpt<tag>.pt" and returns its path.
// The write is atomic (temp file + rename). Tags are constructed to be
// unique per call site; replacing a file left by an earlier interrupted run
// is logged, never silent. Non-finite values anywhere in the snapshot are a
// save-time error: committing them would poison the resumed run.
func (s *Store) Save(snap *Snapshot, tag string) (string, error) {
	snap.SavedAt = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		// encoding/json rejects NaN and Inf, which is exactly the
		// non-finite guard we want here.
		return "", fmt.Errorf("ckpt: encoding snapshot %q: %w", tag, err)
	}

	path := filepath.Join(s.dir, filePrefix+tag+fileExt)
	if _, err := os.Stat(path); err == nil {
		s.logger.Warn("replacing checkpoint from an earlier run", "path", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return "", fmt.Errorf("ckpt: writing snapshot %q: %w", tag, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("ckpt: committing snapshot %q: %w", tag, err)
	}

	s.logger.Info("saved checkpoint", "path", path, "step", snap.NSteps)
	return path, nil
}

// Latest returns the path of the snapshot with the most recent modification
// time, or ErrNoCheckpoint if none exist.
func (s *Store) Latest() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("ckpt: reading directory %s: %w", s.dir, err)
	}

	var (
		latest     string
		latestTime time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", fmt.Errorf("ckpt: stat %s: %w", name, err)
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latest = filepath.Join(s.dir, name)
			latestTime = info.ModTime()
		}
	}
	if latest == "" {
		return "", ErrNoCheckpoint
	}
	return latest, nil
}

// Load reads and decodes a snapshot. Decoding errors propagate unwrapped in
// meaning: the store performs no schema migration.
func (s *Store) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ckpt: reading %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("ckpt: decoding %s: %w", path, err)
	}
	return &snap, nil
}
