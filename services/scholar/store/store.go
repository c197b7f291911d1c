// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the multi-tenant collection store: named, isolated
// vector indexes holding chunk embeddings, one collection per tenant plus
// the shared default collection.
//
// # Isolation
//
// Operations addressed to one handle must never read or write data under
// another handle, including under concurrent access. A violation is a
// programming error caught by tests, not a runtime condition to recover
// from.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
)

// Handle addresses one isolated collection. Obtain handles from
// CreateCollection (or Default) rather than constructing them ad hoc so
// tenant naming stays in one place.
type Handle struct {
	Collection string
}

// Default returns the handle for the shared corpus.
func Default() Handle {
	return Handle{Collection: datatypes.DefaultCollection}
}

// ForJob returns the handle for a job-scoped tenant collection.
func ForJob(jobID string) Handle {
	return Handle{Collection: "job-" + jobID}
}

// Named returns the handle for an existing collection addressed by name,
// as received from API requests.
func Named(collection string) Handle {
	if collection == "" {
		return Default()
	}
	return Handle{Collection: collection}
}

// CollectionStore is the write and query contract for chunk storage.
//
// # Description
//
// Upsert, DeleteDocument, and ReplaceDocument serialize per
// (collection, document): two operations on the same document never
// interleave, so a concurrent Query sees either the old generation or the
// new one, never a half-deleted document. Operations on different
// documents or different collections proceed in parallel.
type CollectionStore interface {
	// CreateCollection registers a tenant collection and returns its handle.
	// Creating an existing collection is a no-op returning the same handle.
	CreateCollection(ctx context.Context, tenantID string) (Handle, error)

	// Upsert writes chunks (all tiers) with their embedding vectors.
	// Chunks carrying a collection other than the handle's are rejected.
	Upsert(ctx context.Context, h Handle, chunks []datatypes.Chunk) error

	// Query returns up to k chunks ranked by vector similarity, restricted
	// to the handle's collection and the AND-combined filter conditions.
	// Unmatched filters yield an empty result, not an error.
	Query(ctx context.Context, h Handle, vector []float32, k int, filter []datatypes.FilterCondition) ([]datatypes.ScoredChunk, error)

	// DeleteDocument removes every chunk of the document at every tier.
	// Deleting an absent document is a no-op.
	DeleteDocument(ctx context.Context, h Handle, documentID string) error

	// ReplaceDocument atomically swaps a document's chunks: the old
	// generation is deleted and the new one inserted as one logical unit.
	ReplaceDocument(ctx context.Context, h Handle, documentID string, chunks []datatypes.Chunk) error

	// DeleteCollection removes the collection and everything in it.
	DeleteCollection(ctx context.Context, h Handle) error
}

// validateChunks rejects chunks addressed to a different collection than
// the handle before they reach storage.
func validateChunks(h Handle, chunks []datatypes.Chunk) error {
	for _, c := range chunks {
		if c.Collection != h.Collection {
			return fmt.Errorf("chunk %s belongs to collection %q, not %q", c.ID, c.Collection, h.Collection)
		}
	}
	return nil
}

// docLocks serializes writes per (collection, document). The lock is held
// across the full storage round trip for that document only; it is never a
// cross-tenant or cross-document lock. Entries are reference counted and
// evicted when the last holder releases, so the map is bounded by the
// number of in-flight writes, not by every document ever touched.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

func (d *docLocks) lock(h Handle, documentID string) func() {
	key := h.Collection + "/" + documentID
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &docLock{}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}
