// Package state keeps a small on-disk record of the last suspend cycle,
// read back by the status command.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PersistentState holds cycle history that survives restarts.
type PersistentState struct {
	// LastCycleID is the correlation id of the most recent cycle.
	LastCycleID string `json:"last_cycle_id,omitempty"`

	// LastSuspend is when the most recent cycle started suspending.
	LastSuspend time.Time `json:"last_suspend,omitempty"`

	// LastResume is when the most recent cycle finished resuming.
	LastResume time.Time `json:"last_resume,omitempty"`

	// CycleCount is the number of cycles attempted.
	CycleCount int `json:"cycle_count"`

	// FailedCount is the number of cycles that ended in an error.
	FailedCount int `json:"failed_count"`

	// LastOrder is the suspend order of the most recent cycle.
	LastOrder []uint32 `json:"last_order,omitempty"`

	// LastError is the error of the most recent cycle, if any.
	LastError string `json:"last_error,omitempty"`

	// CleanCycle indicates if the most recent cycle completed without error.
	CleanCycle bool `json:"clean_cycle"`
}

// Cycle describes one finished suspend cycle.
type Cycle struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Order    []uint32
	Err      error
}

// StateFile manages persistent state storage.
type StateFile struct {
	path string
}

// NewStateFile creates a state file manager for path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Load reads the state from disk. A missing file is an empty state.
func (s *StateFile) Load() (*PersistentState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &PersistentState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	return &state, nil
}

// Save writes the state to disk.
func (s *StateFile) Save(state *PersistentState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write atomically
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return os.Rename(tmpPath, s.path)
}

// RecordCycle folds a finished cycle into the state.
func (s *StateFile) RecordCycle(c Cycle) error {
	state, err := s.Load()
	if err != nil {
		return err
	}

	state.LastCycleID = c.ID
	state.LastSuspend = c.Started
	state.LastResume = c.Finished
	state.LastOrder = c.Order
	state.CycleCount++
	state.CleanCycle = c.Err == nil
	state.LastError = ""
	if c.Err != nil {
		state.FailedCount++
		state.LastError = c.Err.Error()
	}

	return s.Save(state)
}

// Path returns the state file path.
func (s *StateFile) Path() string {
	return s.path
}
