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
	"bytes"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianScholar/services/scholar/chunker"
	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/ingest"
)

// IngestDocumentRequest is the payload for POST /v1/documents. Pages carry
// the pre-extracted text; Content optionally carries the original bytes
// base64-encoded for archival.
type IngestDocumentRequest struct {
	DocumentID string     `json:"document_id"`
	Filename   string     `json:"filename" binding:"required"`
	Pages      []PageBody `json:"pages" binding:"required"`
	Authors    []string   `json:"authors"`
	Year       string     `json:"year"`
	Title      string     `json:"title"`
	DOI        string     `json:"doi"`
	Topic      string     `json:"topic"`
	Source     string     `json:"source"`
	Content    string     `json:"content"`
}

// PageBody is one extracted page.
type PageBody struct {
	Number int    `json:"number" binding:"required"`
	Text   string `json:"text"`
}

// IngestDocument queues an ingestion task and returns its ID.
func IngestDocument(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.DocumentID == "" {
			req.DocumentID = uuid.NewString()
		}

		var raw io.Reader
		if req.Content != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64-encoded"})
				return
			}
			raw = bytes.NewReader(decoded)
		}

		pages := make([]chunker.Page, len(req.Pages))
		for i, p := range req.Pages {
			pages[i] = chunker.Page{Number: p.Number, Text: p.Text}
		}

		taskID, err := deps.Pipeline.IngestAsync(c.Request.Context(), ingest.Request{
			Handle:     collectionHandle(c),
			DocumentID: req.DocumentID,
			Filename:   req.Filename,
			Raw:        raw,
			Pages:      pages,
			Metadata: datatypes.RawMetadata{
				Authors: req.Authors,
				Year:    req.Year,
				Title:   req.Title,
				DOI:     req.DOI,
			},
			Topic:  req.Topic,
			Source: req.Source,
		})
		if err != nil {
			slog.Error("Failed to queue ingestion", "filename", req.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Queued document ingestion",
			"document", req.DocumentID, "filename", req.Filename, "pages", len(pages))
		c.JSON(http.StatusAccepted, gin.H{
			"task_id":     taskID,
			"document_id": req.DocumentID,
		})
	}
}

// ListDocuments returns the registered documents in a collection.
func ListDocuments(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := collectionHandle(c)
		docs, err := deps.Registry.List(h.Collection)
		if err != nil {
			slog.Error("Failed to list documents", "collection", h.Collection, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
	}
}

// GetDocument returns one registered document record.
func GetDocument(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := strings.TrimSpace(c.Param("documentId"))
		doc, err := deps.Registry.Get(docID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// DownloadDocument issues a signed download link for the archived
// original.
func DownloadDocument(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := strings.TrimSpace(c.Param("documentId"))
		doc, err := deps.Registry.Get(docID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return
		}
		if deps.Objects == nil || doc.StorageKey == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "No archived original for this document"})
			return
		}
		url, err := deps.Objects.SignedURL(c.Request.Context(), doc.StorageKey, deps.SignedURLTTL)
		if err != nil {
			slog.Error("Failed to sign download URL", "document", docID, "error", err)
			c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url, "expires_in_seconds": int(deps.SignedURLTTL.Seconds())})
	}
}

// DeleteDocument removes a document from the index, the page registry,
// and object storage.
func DeleteDocument(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := collectionHandle(c)
		docID := strings.TrimSpace(c.Param("documentId"))
		if docID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document ID is required"})
			return
		}
		if err := deps.Pipeline.Remove(c.Request.Context(), h, docID); err != nil {
			slog.Error("Failed to delete document", "document", docID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Deleted document", "collection", h.Collection, "document", docID)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "document_id": docID})
	}
}
