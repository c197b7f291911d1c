// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
	"github.com/AleutianAI/AleutianScholar/services/scholar/tasks"
)

// ListTasks returns every tracked ingestion task, newest first.
func ListTasks(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := deps.Tracker.List()
		if err != nil {
			slog.Error("Failed to list tasks", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
	}
}

// GetTask returns one task's status for polling.
func GetTask(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := deps.Tracker.Get(c.Param("taskId"))
		if errors.Is(err, tasks.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to load task", "task", c.Param("taskId"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// CreateCollectionRequest is the payload for POST /v1/collections.
type CreateCollectionRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}

// CreateCollection registers an isolated tenant collection.
func CreateCollection(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCollectionRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		h, err := deps.Store.CreateCollection(c.Request.Context(), req.TenantID)
		if err != nil {
			slog.Error("Failed to create collection", "tenant", req.TenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Created collection", "collection", h.Collection)
		c.JSON(http.StatusCreated, gin.H{"collection": h.Collection})
	}
}

// DeleteCollection removes a tenant collection and everything in it. The
// shared default collection cannot be deleted.
func DeleteCollection(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("collection")
		if name == datatypes.DefaultCollection {
			c.JSON(http.StatusBadRequest, gin.H{"error": "the default collection cannot be deleted"})
			return
		}
		h := store.Named(name)
		if err := deps.Store.DeleteCollection(c.Request.Context(), h); err != nil {
			slog.Error("Failed to delete collection", "collection", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Drop the registered documents and expansion table with it.
		docs, err := deps.Registry.List(name)
		if err == nil {
			for _, doc := range docs {
				if derr := deps.Registry.Delete(doc.ID); derr != nil {
					slog.Warn("Failed to drop document record", "document", doc.ID, "error", derr)
				}
			}
		}
		deps.SetExpansionTable(name, nil)

		slog.Info("Deleted collection", "collection", name)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "collection": name})
	}
}
