// Package filestore keeps alarms and tasks in memory and mirrors every
// mutation into a single JSON snapshot file.
//
// Writes are atomic: the snapshot goes to a temporary file that is synced and
// then renamed over the durable file, so a crash at any point leaves either
// the old or the new snapshot on disk, never a torn one.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/domain/task"
	"github.com/spf13/afero"
)

// DefaultFileName is the snapshot file name inside the data directory.
const DefaultFileName = "records.json"

// snapshot is the on-disk layout.
type snapshot struct {
	Alarms []alarm.Alarm `json:"alarms"`
	Tasks  []task.Task   `json:"tasks"`
}

// Store is the record store. It implements alarm.Repository and
// task.Repository.
type Store struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	alarms []alarm.Alarm
	tasks  []task.Task
}

var (
	_ alarm.Repository = (*Store)(nil)
	_ task.Repository  = (*Store)(nil)
)

// Open loads the snapshot at path, creating an empty store when the file does
// not exist. Alarms are loaded with ringing cleared: playback is never resumed
// across restarts.
func Open(fs afero.Fs, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		fs:     fs,
		path:   path,
		logger: logger.With("component", "filestore"),
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	// A leftover temp file means a write was interrupted before rename; the
	// durable file is still the last good snapshot.
	if err := fs.Remove(s.tmpPath()); err == nil {
		s.logger.Warn("discarded interrupted snapshot write", "path", s.tmpPath())
	}

	data, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
		}
	}

	reset := 0
	for i := range snap.Alarms {
		if snap.Alarms[i].Ringing {
			snap.Alarms[i].Ringing = false
			reset++
		}
	}
	s.alarms = snap.Alarms
	s.tasks = snap.Tasks

	s.logger.Info("records loaded",
		"path", path,
		"alarms", len(s.alarms),
		"tasks", len(s.tasks),
		"ringing_reset", reset,
	)
	return s, nil
}

// Path returns the durable snapshot path.
func (s *Store) Path() string {
	return s.path
}

// ──────────────────────────────────────────────────────────────────────────────
// Alarms
// ──────────────────────────────────────────────────────────────────────────────

// ListAlarms returns copies of all alarms in insertion order.
func (s *Store) ListAlarms() []alarm.Alarm {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alarm.Alarm, len(s.alarms))
	for i, a := range s.alarms {
		out[i] = a.Clone()
	}
	return out
}

// GetAlarm returns a copy of one alarm.
func (s *Store) GetAlarm(id string) (alarm.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.alarmIndex(id)
	if i < 0 {
		return alarm.Alarm{}, shared.ErrAlarmNotFound
	}
	return s.alarms[i].Clone(), nil
}

// UpsertAlarm inserts a new alarm or replaces the one with the same id.
func (s *Store) UpsertAlarm(a alarm.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := slices.Clone(s.alarms)
	if i := s.alarmIndex(a.ID); i >= 0 {
		s.alarms[i] = a.Clone()
	} else {
		s.alarms = append(s.alarms, a.Clone())
	}
	if err := s.persistLocked(); err != nil {
		s.alarms = prev
		return err
	}
	return nil
}

// RemoveAlarm deletes an alarm.
func (s *Store) RemoveAlarm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.alarmIndex(id)
	if i < 0 {
		return shared.ErrAlarmNotFound
	}
	prev := slices.Clone(s.alarms)
	s.alarms = slices.Delete(s.alarms, i, i+1)
	if err := s.persistLocked(); err != nil {
		s.alarms = prev
		return err
	}
	return nil
}

// UpdateAlarm runs fn on a copy of the stored alarm and commits the copy only
// when fn succeeds and the snapshot is durable.
func (s *Store) UpdateAlarm(id string, fn func(a *alarm.Alarm) error) (alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.alarmIndex(id)
	if i < 0 {
		return alarm.Alarm{}, shared.ErrAlarmNotFound
	}
	next := s.alarms[i].Clone()
	if err := fn(&next); err != nil {
		return alarm.Alarm{}, err
	}

	prev := s.alarms[i]
	s.alarms[i] = next
	if err := s.persistLocked(); err != nil {
		s.alarms[i] = prev
		return alarm.Alarm{}, err
	}
	return next.Clone(), nil
}

// ClearRinging sets ringing to false. Clearing an alarm that is not ringing,
// or no longer exists, is a no-op.
func (s *Store) ClearRinging(id string) error {
	_, err := s.UpdateAlarm(id, func(a *alarm.Alarm) error {
		if !a.Ringing {
			return errNoChange
		}
		a.Ringing = false
		return nil
	})
	if errors.Is(err, errNoChange) || shared.IsNotFound(err) {
		return nil
	}
	return err
}

var errNoChange = errors.New("no change")

func (s *Store) alarmIndex(id string) int {
	return slices.IndexFunc(s.alarms, func(a alarm.Alarm) bool { return a.ID == id })
}

// ──────────────────────────────────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────────────────────────────────

// ListTasks returns copies of all tasks in insertion order.
func (s *Store) ListTasks() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tasks)
}

// GetTask returns a copy of one task.
func (s *Store) GetTask(id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.taskIndex(id)
	if i < 0 {
		return task.Task{}, shared.ErrTaskNotFound
	}
	return s.tasks[i], nil
}

// UpsertTask inserts a new task or replaces the one with the same id.
func (s *Store) UpsertTask(t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := slices.Clone(s.tasks)
	if i := s.taskIndex(t.ID); i >= 0 {
		s.tasks[i] = t
	} else {
		s.tasks = append(s.tasks, t)
	}
	if err := s.persistLocked(); err != nil {
		s.tasks = prev
		return err
	}
	return nil
}

// RemoveTask deletes a task.
func (s *Store) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.taskIndex(id)
	if i < 0 {
		return shared.ErrTaskNotFound
	}
	prev := slices.Clone(s.tasks)
	s.tasks = slices.Delete(s.tasks, i, i+1)
	if err := s.persistLocked(); err != nil {
		s.tasks = prev
		return err
	}
	return nil
}

// UpdateTask runs fn on a copy of the stored task and commits it when fn
// succeeds and the snapshot is durable.
func (s *Store) UpdateTask(id string, fn func(t *task.Task) error) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.taskIndex(id)
	if i < 0 {
		return task.Task{}, shared.ErrTaskNotFound
	}
	next := s.tasks[i]
	if err := fn(&next); err != nil {
		return task.Task{}, err
	}

	prev := s.tasks[i]
	s.tasks[i] = next
	if err := s.persistLocked(); err != nil {
		s.tasks[i] = prev
		return task.Task{}, err
	}
	return next, nil
}

func (s *Store) taskIndex(id string) int {
	return slices.IndexFunc(s.tasks, func(t task.Task) bool { return t.ID == id })
}

// ──────────────────────────────────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────────────────────────────────

func (s *Store) tmpPath() string {
	return s.path + ".tmp"
}

// persistLocked writes the full snapshot. Callers hold the write lock.
func (s *Store) persistLocked() error {
	snap := snapshot{Alarms: s.alarms, Tasks: s.tasks}
	if snap.Alarms == nil {
		snap.Alarms = []alarm.Alarm{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []task.Task{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return shared.WrapError("store", "Persist", shared.ErrPersistence, "encode snapshot", err)
	}
	if err := s.writeAtomic(data); err != nil {
		s.logger.Error("snapshot write failed", "path", s.path, "error", err)
		return shared.WrapError("store", "Persist", shared.ErrPersistence, "write snapshot", err)
	}
	return nil
}

func (s *Store) writeAtomic(data []byte) error {
	tmp := s.tmpPath()
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
