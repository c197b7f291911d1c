// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP API. Handlers are closures over
// the Deps bundle so routes stay declarative.
package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianScholar/services/scholar/agent"
	"github.com/AleutianAI/AleutianScholar/services/scholar/citations"
	"github.com/AleutianAI/AleutianScholar/services/scholar/expansion"
	"github.com/AleutianAI/AleutianScholar/services/scholar/ingest"
	"github.com/AleutianAI/AleutianScholar/services/scholar/retrieval"
	"github.com/AleutianAI/AleutianScholar/services/scholar/storage"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
	"github.com/AleutianAI/AleutianScholar/services/scholar/tasks"
)

// Deps bundles everything the API layer needs. Controller may be nil in
// lightweight deployments without an LLM backend, and Objects may be nil
// when no object storage is configured.
type Deps struct {
	Store      store.CollectionStore
	Pipeline   *ingest.Pipeline
	Engine     *retrieval.Engine
	Controller *agent.Controller
	Verifier   *citations.Verifier
	Registry   *citations.Registry
	Tracker    *tasks.Tracker
	Objects    storage.ObjectStorage

	// SignedURLTTL is the lifetime of download links issued for archived
	// originals.
	SignedURLTTL time.Duration

	// tables holds the per-collection term expansion tables, configured
	// through the API and kept in memory.
	tablesMu sync.RWMutex
	tables   map[string]expansion.Table
}

// ExpansionTable returns the configured table for a collection, or nil.
func (d *Deps) ExpansionTable(collection string) expansion.Table {
	d.tablesMu.RLock()
	defer d.tablesMu.RUnlock()
	return d.tables[collection]
}

// SetExpansionTable installs a table for a collection. An empty table
// clears it.
func (d *Deps) SetExpansionTable(collection string, table expansion.Table) {
	d.tablesMu.Lock()
	defer d.tablesMu.Unlock()
	if d.tables == nil {
		d.tables = make(map[string]expansion.Table)
	}
	if len(table) == 0 {
		delete(d.tables, collection)
		return
	}
	d.tables[collection] = table
}

// collectionHandle resolves the tenant collection for a request from the
// "collection" query parameter, defaulting to the shared corpus.
func collectionHandle(c *gin.Context) store.Handle {
	return store.Named(c.Query("collection"))
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
