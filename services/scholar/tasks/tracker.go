// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks persists long-running ingestion job state so progress
// reporting survives process restarts and crashed workers never leave a
// job stuck in running.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianScholar/services/scholar/kvstore"
)

// Status is the lifecycle state of an ingestion task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned by Get for an unknown task ID.
var ErrNotFound = errors.New("task not found")

const keyPrefix = "task:"

// Task is one ingestion job's durable status record. Mutated only by the
// ingestion worker; retained after completion for audit and history.
type Task struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Tracker is the durable task store.
type Tracker struct {
	store *kvstore.Store
}

// NewTracker wraps an open kvstore.
func NewTracker(store *kvstore.Store) *Tracker {
	return &Tracker{store: store}
}

// Create registers a new queued task and returns its ID.
func (t *Tracker) Create() (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	task := Task{
		ID:        id,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.put(&task); err != nil {
		return "", err
	}
	return id, nil
}

// Update advances a task's status, progress, and message.
//
// # Description
//
// Progress is monotonic per task: a lower value than the stored one is
// ignored with a warning rather than silently regressing the reported
// progress. Terminal statuses (completed, failed) are never overwritten
// by a late update.
func (t *Tracker) Update(id string, status Status, progress int, message string) error {
	return t.mutate(id, func(task *Task) error {
		if task.Status == StatusCompleted || task.Status == StatusFailed {
			slog.Warn("Ignoring update to terminal task", "task", id, "status", task.Status)
			return nil
		}
		if progress < task.Progress {
			slog.Warn("Ignoring progress regression", "task", id,
				"stored", task.Progress, "update", progress)
			progress = task.Progress
		}
		if progress > 100 {
			progress = 100
		}
		task.Status = status
		task.Progress = progress
		task.Message = message
		task.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Complete marks the task finished with an optional result payload.
func (t *Tracker) Complete(id string, result any) error {
	var raw json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode task result: %w", err)
		}
		raw = encoded
	}
	return t.mutate(id, func(task *Task) error {
		task.Status = StatusCompleted
		task.Progress = 100
		task.Result = raw
		task.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Fail marks the task failed with the error message. Ingestion errors are
// recorded here instead of being thrown past the worker boundary.
func (t *Tracker) Fail(id string, errMsg string) error {
	return t.mutate(id, func(task *Task) error {
		task.Status = StatusFailed
		task.Error = errMsg
		task.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Get returns a snapshot of the task.
func (t *Tracker) Get(id string) (*Task, error) {
	var task *Task
	err := t.store.WithReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			task = &Task{}
			return json.Unmarshal(val, task)
		})
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// List returns all tasks, newest first.
func (t *Tracker) List() ([]*Task, error) {
	var out []*Task
	err := t.store.WithReadTxn(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var task Task
				if err := json.Unmarshal(val, &task); err != nil {
					return err
				}
				out = append(out, &task)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SweepStale marks every queued or running task as failed. Called once at
// startup: any task still in flight at that point belonged to a process
// that died, and must not stay running forever.
func (t *Tracker) SweepStale() (int, error) {
	tasks, err := t.List()
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, task := range tasks {
		if task.Status != StatusQueued && task.Status != StatusRunning {
			continue
		}
		if err := t.Fail(task.ID, "process restarted while task was in flight"); err != nil {
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		slog.Info("Marked stale in-flight tasks as failed", "count", swept)
	}
	return swept, nil
}

func (t *Tracker) put(task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	return t.store.WithTxn(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+task.ID), raw)
	})
}

func (t *Tracker) mutate(id string, fn func(task *Task) error) error {
	return t.store.WithTxn(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var task Task
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &task)
		}); err != nil {
			return err
		}
		if err := fn(&task); err != nil {
			return err
		}
		raw, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefix+id), raw)
	})
}
