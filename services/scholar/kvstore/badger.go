// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kvstore wraps BadgerDB for the service's embedded durable
// stores (task tracking and the citation page index).
//
// # Description
//
// Thin lifecycle wrapper: open with sane defaults, route Badger's logger
// into slog, run value-log GC in the background, and expose transaction
// helpers. Domain encoding stays in the consuming packages.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls how the store opens.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a non-durable store, used by tests.
	InMemory bool

	// SyncWrites fsyncs every write. Slower, but progress records survive
	// a hard kill, which the task tracker relies on.
	SyncWrites bool

	// GCInterval is the value-log GC cadence. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to Badger's RunValueLogGC. Zero uses 0.5.
	GCDiscardRatio float64
}

// Store is an open Badger database plus its GC loop.
type Store struct {
	db     *badger.DB
	cancel context.CancelFunc
}

// badgerLogger adapts Badger's logger interface onto slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debug(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debug(fmt.Sprintf(f, v...)) }

// Open opens the store and starts the GC loop when configured.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("kvstore path is required for a durable store")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{log: slog.Default()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %q: %w", cfg.Path, err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		var ctx context.Context
		ctx, s.cancel = context.WithCancel(context.Background())
		go s.gcLoop(ctx, cfg.GCInterval, ratio)
	}
	return s, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.db.Close()
}

// WithTxn runs fn in a read-write transaction.
func (s *Store) WithTxn(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction.
func (s *Store) WithReadTxn(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

func (s *Store) gcLoop(ctx context.Context, interval time.Duration, ratio float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Badger returns ErrNoRewrite when there was nothing to collect.
			if err := s.db.RunValueLogGC(ratio); err != nil && err != badger.ErrNoRewrite {
				slog.Warn("Badger value-log GC failed", "error", err)
			}
		}
	}
}
