// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest runs the document ingestion pipeline: store the original
// bytes, normalize metadata, chunk, embed, and index. Ingestion is
// all-or-nothing per document; a failure at any stage rolls back every
// artifact the run produced.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScholar/services/scholar/chunker"
	"github.com/AleutianAI/AleutianScholar/services/scholar/citations"
	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/observability"
	"github.com/AleutianAI/AleutianScholar/services/scholar/storage"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
	"github.com/AleutianAI/AleutianScholar/services/scholar/tasks"
)

var tracer = otel.Tracer("scholar/ingest")

const (
	// embedBatchSize bounds one embedding request; providers cap both item
	// count and total tokens per call.
	embedBatchSize = 64

	// embedConcurrency bounds parallel embedding calls.
	embedConcurrency = 4
)

// Request describes one document to ingest. Pages carry the extracted
// text; extraction itself happens upstream of this service.
type Request struct {
	Handle     store.Handle
	DocumentID string
	Filename   string

	// Raw is the original document bytes, archived to object storage when
	// non-nil.
	Raw         io.Reader
	ContentType string

	Pages    []chunker.Page
	Metadata datatypes.RawMetadata
	Topic    string
	Source   string
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	store    store.CollectionStore
	chunker  *chunker.Chunker
	embedder llm.Embedder
	registry *citations.Registry
	tracker  *tasks.Tracker
	objects  storage.ObjectStorage
}

// NewPipeline builds a pipeline. objects may be nil when no object
// storage is configured; originals are then not archived.
func NewPipeline(s store.CollectionStore, c *chunker.Chunker, e llm.Embedder, r *citations.Registry, t *tasks.Tracker, o storage.ObjectStorage) (*Pipeline, error) {
	if s == nil || c == nil || e == nil || r == nil || t == nil {
		return nil, fmt.Errorf("store, chunker, embedder, registry, and tracker are required")
	}
	return &Pipeline{store: s, chunker: c, embedder: e, registry: r, tracker: t, objects: o}, nil
}

// IngestAsync registers a task and runs the pipeline in the background.
// The task ID is returned immediately for polling.
func (p *Pipeline) IngestAsync(ctx context.Context, req Request) (string, error) {
	taskID, err := p.tracker.Create()
	if err != nil {
		return "", fmt.Errorf("failed to create ingestion task: %w", err)
	}
	go func() {
		// Detach from the request context; the upload outlives the HTTP call.
		p.run(context.WithoutCancel(ctx), taskID, req)
	}()
	return taskID, nil
}

// Ingest runs the pipeline synchronously under a fresh task.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (string, error) {
	taskID, err := p.tracker.Create()
	if err != nil {
		return "", fmt.Errorf("failed to create ingestion task: %w", err)
	}
	p.run(ctx, taskID, req)
	task, err := p.tracker.Get(taskID)
	if err != nil {
		return taskID, err
	}
	if task.Status == tasks.StatusFailed {
		return taskID, fmt.Errorf("ingestion failed: %s", task.Error)
	}
	return taskID, nil
}

// run executes the stages, recording progress on the task. Errors are
// written to the task instead of propagating; the task record is the
// caller's view of the outcome.
func (p *Pipeline) run(ctx context.Context, taskID string, req Request) {
	start := time.Now()
	observability.IngestionsActive.Inc()
	defer func() {
		observability.IngestionsActive.Dec()
		observability.IngestionDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracer.Start(ctx, "ingest.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", req.Handle.Collection),
		attribute.String("document", req.DocumentID),
	)

	if req.DocumentID == "" || strings.TrimSpace(req.Filename) == "" {
		p.fail(taskID, req, false, fmt.Errorf("document ID and filename are required"))
		return
	}
	_ = p.tracker.Update(taskID, tasks.StatusRunning, 5, "archiving original")

	storageKey := ""
	if p.objects != nil && req.Raw != nil {
		storageKey = storage.DocumentKey(req.Handle.Collection, req.DocumentID, req.Filename)
		if err := p.objects.Put(ctx, storageKey, req.Raw, req.ContentType); err != nil {
			p.fail(taskID, req, false, fmt.Errorf("failed to archive original: %w", err))
			return
		}
	}

	doc := datatypes.Document{
		ID:         req.DocumentID,
		Collection: req.Handle.Collection,
		Metadata:   datatypes.NormalizeMetadata(req.Metadata),
		Source:     req.Source,
		PageCount:  len(req.Pages),
		StorageKey: storageKey,
	}
	if doc.Source == "" {
		doc.Source = req.Filename
	}

	_ = p.tracker.Update(taskID, tasks.StatusRunning, 15, "chunking")
	chunks, err := p.chunker.Chunk(doc, req.Pages)
	if err != nil {
		p.fail(taskID, req, false, fmt.Errorf("chunking failed: %w", err))
		return
	}
	if len(chunks) == 0 {
		p.fail(taskID, req, false, fmt.Errorf("document has no extractable text"))
		return
	}
	for i := range chunks {
		chunks[i].Topic = req.Topic
	}

	_ = p.tracker.Update(taskID, tasks.StatusRunning, 30, "embedding chunks")
	if err := p.embed(ctx, chunks); err != nil {
		p.fail(taskID, req, false, fmt.Errorf("embedding failed: %w", err))
		return
	}

	_ = p.tracker.Update(taskID, tasks.StatusRunning, 75, "indexing chunks")
	if err := p.store.ReplaceDocument(ctx, req.Handle, req.DocumentID, chunks); err != nil {
		p.fail(taskID, req, true, fmt.Errorf("failed to index chunks: %w", err))
		return
	}

	_ = p.tracker.Update(taskID, tasks.StatusRunning, 90, "registering citations")
	if err := p.registry.Register(doc, req.Pages); err != nil {
		p.fail(taskID, req, true, fmt.Errorf("failed to register page index: %w", err))
		return
	}

	_ = p.tracker.Complete(taskID, map[string]any{
		"document_id": req.DocumentID,
		"collection":  req.Handle.Collection,
		"chunks":      len(chunks),
		"pages":       len(req.Pages),
	})
	slog.Info("Document ingested",
		"collection", req.Handle.Collection,
		"document", req.DocumentID,
		"chunks", len(chunks))
}

// embed fills chunk vectors in place, batching requests through an
// errgroup with bounded concurrency.
func (p *Pipeline) embed(ctx context.Context, chunks []datatypes.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			vectors, err := p.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// fail rolls back the run's artifacts and records the error on the task.
// indexed says whether chunks may already have reached the store.
func (p *Pipeline) fail(taskID string, req Request, indexed bool, cause error) {
	// Rollback runs on a fresh context; the triggering failure may have
	// come from a cancelled one.
	ctx := context.Background()

	if indexed {
		if err := p.store.DeleteDocument(ctx, req.Handle, req.DocumentID); err != nil {
			slog.Error("Rollback: failed to delete indexed chunks",
				"document", req.DocumentID, "error", err)
		}
		if err := p.registry.Delete(req.DocumentID); err != nil {
			slog.Error("Rollback: failed to delete page index",
				"document", req.DocumentID, "error", err)
		}
	}
	if p.objects != nil && req.Raw != nil {
		key := storage.DocumentKey(req.Handle.Collection, req.DocumentID, req.Filename)
		if err := p.objects.Delete(ctx, key); err != nil {
			slog.Error("Rollback: failed to delete archived original",
				"document", req.DocumentID, "error", err)
		}
	}

	slog.Error("Ingestion failed",
		"collection", req.Handle.Collection,
		"document", req.DocumentID,
		"error", cause)
	_ = p.tracker.Fail(taskID, cause.Error())
}

// Remove deletes a document everywhere: chunk index, page index, and the
// archived original.
func (p *Pipeline) Remove(ctx context.Context, h store.Handle, docID string) error {
	doc, err := p.registry.Get(docID)
	if err != nil && !errors.Is(err, citations.ErrNotFound) {
		return err
	}
	if err := p.store.DeleteDocument(ctx, h, docID); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	if err := p.registry.Delete(docID); err != nil {
		return fmt.Errorf("failed to delete page index for %s: %w", docID, err)
	}
	if p.objects != nil && doc != nil && doc.StorageKey != "" {
		if err := p.objects.Delete(ctx, doc.StorageKey); err != nil {
			return fmt.Errorf("failed to delete archived original for %s: %w", docID, err)
		}
	}
	return nil
}
