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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/observability"
	"github.com/AleutianAI/AleutianScholar/services/scholar/retrieval"
)

// SearchRequest is the payload for POST /v1/search.
type SearchRequest struct {
	Query   string                      `json:"query" binding:"required"`
	K       int                         `json:"k"`
	Rerank  bool                        `json:"rerank"`
	Filters []datatypes.FilterCondition `json:"filters"`
}

// Search runs the retrieval pipeline and returns ranked chunks.
func Search(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SearchRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		h := collectionHandle(c)

		start := time.Now()
		result, err := deps.Engine.Search(c.Request.Context(), h, req.Query, req.K, req.Filters, req.Rerank, deps.ExpansionTable(h.Collection))
		observability.RetrievalDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			status := http.StatusInternalServerError
			if re, ok := retrieval.IsRetrievalError(err); ok {
				status = re.StatusCode
			}
			slog.Error("Search failed", "collection", h.Collection, "error", err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		if result.Degraded {
			observability.RetrievalDegraded.Inc()
		}

		c.JSON(http.StatusOK, gin.H{
			"chunks":   result.Chunks,
			"variants": result.Variants,
			"degraded": result.Degraded,
		})
	}
}

// AskRequest is the payload for POST /v1/ask.
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Ask runs the synthesis loop and returns a cited answer.
func Ask(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Controller == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "answer synthesis is not configured"})
			return
		}
		var req AskRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		h := collectionHandle(c)

		answer, err := deps.Controller.Ask(c.Request.Context(), h, req.Question, deps.ExpansionTable(h.Collection))
		if err != nil {
			status := http.StatusInternalServerError
			if re, ok := retrieval.IsRetrievalError(err); ok {
				status = re.StatusCode
			}
			slog.Error("Synthesis failed", "collection", h.Collection, "error", err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		for _, s := range answer.Stats.Transitions {
			observability.AgentTransitions.WithLabelValues(string(s)).Inc()
		}
		for _, check := range answer.Citations {
			outcome := "failed"
			if check.Verified {
				outcome = "verified"
			}
			observability.CitationChecks.WithLabelValues(outcome).Inc()
		}

		c.JSON(http.StatusOK, answer)
	}
}

// VerifyRequest is the payload for POST /v1/verify. Quote is optional;
// without one the check is page existence only.
type VerifyRequest struct {
	Author string `json:"author" binding:"required"`
	Year   int    `json:"year" binding:"required"`
	Page   int    `json:"page" binding:"required"`
	Quote  string `json:"quote"`
}

// Verify checks one claimed citation against the page index.
func Verify(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		result, err := deps.Verifier.Verify(req.Author, req.Year, req.Page, req.Quote)
		if err != nil {
			slog.Error("Citation verification failed", "author", req.Author, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		outcome := "failed"
		if result.Exists {
			outcome = "verified"
		}
		observability.CitationChecks.WithLabelValues(outcome).Inc()

		c.JSON(http.StatusOK, result)
	}
}

// ExpansionBody is the payload for PUT /v1/collections/:collection/expansion.
type ExpansionBody struct {
	Table map[string][]string `json:"table" binding:"required"`
}

// SetExpansion installs a collection's term expansion table.
func SetExpansion(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExpansionBody
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		collection := c.Param("collection")
		deps.SetExpansionTable(collection, req.Table)
		slog.Info("Updated expansion table", "collection", collection, "concepts", len(req.Table))
		c.JSON(http.StatusOK, gin.H{"status": "ok", "concepts": len(req.Table)})
	}
}

// GetExpansion returns a collection's term expansion table.
func GetExpansion(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := deps.ExpansionTable(c.Param("collection"))
		if table == nil {
			table = map[string][]string{}
		}
		c.JSON(http.StatusOK, gin.H{"table": table})
	}
}

// statusClass folds an HTTP status into its class label, e.g. "2xx".
func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// Metrics is gin middleware recording the request counter.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.RequestTotal.WithLabelValues(route, statusClass(c.Writer.Status())).Inc()
	}
}
