// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AleutianAI/AleutianScholar/services/scholar/chunker"
	"github.com/AleutianAI/AleutianScholar/services/scholar/citations"
	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/kvstore"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/observability"
	"github.com/AleutianAI/AleutianScholar/services/scholar/storage"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
	"github.com/AleutianAI/AleutianScholar/services/scholar/tasks"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// brokenStore fails every ReplaceDocument to exercise the post-index
// rollback path.
type brokenStore struct {
	store.CollectionStore
}

func (b *brokenStore) ReplaceDocument(context.Context, store.Handle, string, []datatypes.Chunk) error {
	return errors.New("vector store unavailable")
}

type env struct {
	pipeline *Pipeline
	store    store.CollectionStore
	registry *citations.Registry
	tracker  *tasks.Tracker
	objects  storage.ObjectStorage
	handle   store.Handle
}

func newEnv(t *testing.T, embedder llm.Embedder, wrap func(store.CollectionStore) store.CollectionStore) *env {
	t.Helper()
	ctx := context.Background()

	s := store.CollectionStore(store.NewMemoryStore())
	h, err := s.(*store.MemoryStore).CreateCollection(ctx, "thesis-1")
	if err != nil {
		t.Fatal(err)
	}
	if wrap != nil {
		s = wrap(s)
	}

	kv, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	registry := citations.NewRegistry(kv)
	tracker := tasks.NewTracker(kv)

	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ch, err := chunker.New(chunker.Config{CoarseSize: 200, MediumSize: 100, FineSize: 50, Overlap: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewPipeline(s, ch, embedder, registry, tracker, objects)
	if err != nil {
		t.Fatal(err)
	}
	return &env{pipeline: p, store: s, registry: registry, tracker: tracker, objects: objects, handle: h}
}

func thelenRequest(h store.Handle) Request {
	return Request{
		Handle:     h,
		DocumentID: "doc-thelen",
		Filename:   "thelen-2012.pdf",
		Raw:        strings.NewReader("original pdf bytes"),
		Pages: []chunker.Page{
			{Number: 1, Text: "Varieties of capitalism shape regional adjustment. Coordinated market economies respond through negotiated reform."},
			{Number: 2, Text: "Institutional complementarities matter for trajectories of liberalization across political economies."},
		},
		Metadata: datatypes.RawMetadata{Authors: []string{"Kathleen Thelen"}, Year: "2012", Title: "Varieties of Capitalism"},
		Topic:    "comparative political economy",
	}
}

func TestIngestHappyPath(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &stubEmbedder{}, nil)

	taskID, err := e.pipeline.Ingest(ctx, thelenRequest(e.handle))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	task, err := e.tracker.Get(taskID)
	if err != nil {
		t.Fatalf("Get task failed: %v", err)
	}
	if task.Status != tasks.StatusCompleted || task.Progress != 100 {
		t.Errorf("task = %+v", task)
	}

	results, err := e.store.Query(ctx, e.handle, []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no chunks indexed")
	}
	if results[0].Chunk.Authors != "Kathleen Thelen" || results[0].Chunk.Year != 2012 {
		t.Errorf("chunk metadata = %+v", results[0].Chunk)
	}

	doc, err := e.registry.Get("doc-thelen")
	if err != nil {
		t.Fatalf("document not registered: %v", err)
	}
	if doc.StorageKey == "" {
		t.Error("storage key missing from document record")
	}
	if _, ok, _ := e.registry.PageText("doc-thelen", 2); !ok {
		t.Error("page 2 not indexed")
	}
	if _, err := e.objects.Get(ctx, doc.StorageKey); err != nil {
		t.Errorf("original not archived: %v", err)
	}
}

func TestIngestFailsBeforeIndexLeavesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &stubEmbedder{err: errors.New("embedding quota exhausted")}, nil)

	taskID, err := e.pipeline.Ingest(ctx, thelenRequest(e.handle))
	if err == nil {
		t.Fatal("expected ingestion error")
	}

	task, _ := e.tracker.Get(taskID)
	if task.Status != tasks.StatusFailed || !strings.Contains(task.Error, "embedding") {
		t.Errorf("task = %+v", task)
	}

	results, _ := e.store.Query(ctx, e.handle, []float32{1, 0, 0}, 10, nil)
	if len(results) != 0 {
		t.Errorf("chunks leaked: %d", len(results))
	}
	if _, err := e.registry.Get("doc-thelen"); !errors.Is(err, citations.ErrNotFound) {
		t.Error("document record leaked")
	}
	key := storage.DocumentKey(e.handle.Collection, "doc-thelen", "thelen-2012.pdf")
	if _, err := e.objects.Get(ctx, key); err == nil {
		t.Error("archived original leaked after rollback")
	}
}

func TestIngestRollsBackAfterIndexFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &stubEmbedder{}, func(s store.CollectionStore) store.CollectionStore {
		return &brokenStore{CollectionStore: s}
	})

	taskID, err := e.pipeline.Ingest(ctx, thelenRequest(e.handle))
	if err == nil {
		t.Fatal("expected ingestion error")
	}
	task, _ := e.tracker.Get(taskID)
	if task.Status != tasks.StatusFailed {
		t.Errorf("task = %+v", task)
	}
	key := storage.DocumentKey(e.handle.Collection, "doc-thelen", "thelen-2012.pdf")
	if _, err := e.objects.Get(ctx, key); err == nil {
		t.Error("archived original leaked after rollback")
	}
}

func TestIngestRejectsEmptyDocument(t *testing.T) {
	e := newEnv(t, &stubEmbedder{}, nil)

	req := thelenRequest(e.handle)
	req.Pages = []chunker.Page{{Number: 1, Text: "   "}}
	req.Raw = nil

	if _, err := e.pipeline.Ingest(context.Background(), req); err == nil {
		t.Fatal("document without text must fail ingestion")
	}
}

// gaugeEmbedder samples the active-ingestions gauge from inside the run,
// where exactly one ingestion must be in flight.
type gaugeEmbedder struct {
	stubEmbedder
	seen []float64
}

func (g *gaugeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.seen = append(g.seen, testutil.ToFloat64(observability.IngestionsActive))
	return g.stubEmbedder.EmbedBatch(ctx, texts)
}

func TestIngestTracksActiveGauge(t *testing.T) {
	ctx := context.Background()
	embedder := &gaugeEmbedder{}
	e := newEnv(t, embedder, nil)

	if _, err := e.pipeline.Ingest(ctx, thelenRequest(e.handle)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if len(embedder.seen) == 0 {
		t.Fatal("embedder never called")
	}
	for _, v := range embedder.seen {
		if v != 1 {
			t.Errorf("active gauge during run = %v, want 1", v)
		}
	}
	if v := testutil.ToFloat64(observability.IngestionsActive); v != 0 {
		t.Errorf("active gauge after run = %v, want 0", v)
	}
}

func TestRemoveDeletesEverything(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &stubEmbedder{}, nil)

	if _, err := e.pipeline.Ingest(ctx, thelenRequest(e.handle)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if err := e.pipeline.Remove(ctx, e.handle, "doc-thelen"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	results, _ := e.store.Query(ctx, e.handle, []float32{1, 0, 0}, 10, nil)
	if len(results) != 0 {
		t.Error("chunks survived removal")
	}
	if _, err := e.registry.Get("doc-thelen"); !errors.Is(err, citations.ErrNotFound) {
		t.Error("document record survived removal")
	}
	key := storage.DocumentKey(e.handle.Collection, "doc-thelen", "thelen-2012.pdf")
	if _, err := e.objects.Get(ctx, key); err == nil {
		t.Error("archived original survived removal")
	}
}
