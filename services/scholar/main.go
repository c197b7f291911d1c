// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianScholar/services/scholar/agent"
	"github.com/AleutianAI/AleutianScholar/services/scholar/chunker"
	"github.com/AleutianAI/AleutianScholar/services/scholar/citations"
	"github.com/AleutianAI/AleutianScholar/services/scholar/config"
	"github.com/AleutianAI/AleutianScholar/services/scholar/expansion"
	"github.com/AleutianAI/AleutianScholar/services/scholar/handlers"
	"github.com/AleutianAI/AleutianScholar/services/scholar/ingest"
	"github.com/AleutianAI/AleutianScholar/services/scholar/kvstore"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/retrieval"
	"github.com/AleutianAI/AleutianScholar/services/scholar/routes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/storage"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
	"github.com/AleutianAI/AleutianScholar/services/scholar/tasks"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("scholar-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newCollectionStore connects to Weaviate when a valid URL is configured,
// falling back to the in-memory store so the service still comes up for
// development and demos.
func newCollectionStore(ctx context.Context, rawURL string) store.CollectionStore {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("Weaviate URL not set. Running on the in-memory store (non-durable).")
		return store.NewMemoryStore()
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("Weaviate URL is invalid. Running on the in-memory store (non-durable).",
			"url", rawURL, "error", err)
		return store.NewMemoryStore()
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client, falling back to in-memory store", "error", err)
		return store.NewMemoryStore()
	}
	ws, err := store.NewWeaviateStore(ctx, client)
	if err != nil {
		slog.Error("Failed to verify Weaviate schema, falling back to in-memory store", "error", err)
		return store.NewMemoryStore()
	}
	return ws
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) storage.ObjectStorage {
	if cfg.Bucket != "" {
		gcsStore, err := storage.NewGCSStorage(ctx, cfg.Bucket, cfg.CredentialsSA)
		if err != nil {
			log.Fatalf("Failed to initialize GCS storage: %v", err)
		}
		slog.Info("Archiving originals to GCS", "bucket", cfg.Bucket)
		return gcsStore
	}
	if cfg.LocalDir != "" {
		localStore, err := storage.NewLocalStorage(cfg.LocalDir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		slog.Info("Archiving originals to local directory", "dir", cfg.LocalDir)
		return localStore
	}
	slog.Warn("No object storage configured. Originals will not be archived.")
	return nil
}

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg, err := config.Load(os.Getenv("SCHOLAR_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	collectionStore := newCollectionStore(ctx, cfg.Weaviate.URL)
	objects := newObjectStorage(ctx, cfg.Storage)

	// Embeddings and generation share the OpenAI client.
	openaiClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("Failed to initialize OpenAI client: %v", err)
	}

	var reranker llm.Reranker
	if cfg.Retrieval.RerankerURL != "" {
		reranker = llm.NewHTTPReranker(cfg.Retrieval.RerankerURL, cfg.Retrieval.RerankModel)
		slog.Info("Reranker enabled", "url", cfg.Retrieval.RerankerURL, "model", cfg.Retrieval.RerankModel)
	}

	// Embedded stores: one for task state, one for the citation page index.
	taskStore, err := kvstore.Open(kvstore.Config{
		Path:       cfg.Data.TasksPath,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer taskStore.Close()

	citationStore, err := kvstore.Open(kvstore.Config{
		Path:       cfg.Data.CitationsPath,
		GCInterval: 10 * time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to open citation store: %v", err)
	}
	defer citationStore.Close()

	tracker := tasks.NewTracker(taskStore)
	if _, err := tracker.SweepStale(); err != nil {
		log.Fatalf("Failed to sweep stale tasks: %v", err)
	}
	registry := citations.NewRegistry(citationStore)
	verifier := citations.NewVerifier(registry, cfg.Citations.FuzzyFloor)

	docChunker, err := chunker.New(chunker.Config{
		CoarseSize: cfg.Chunking.CoarseSize,
		MediumSize: cfg.Chunking.MediumSize,
		FineSize:   cfg.Chunking.FineSize,
		Overlap:    cfg.Chunking.Overlap,
	})
	if err != nil {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}

	expander := expansion.New(cfg.Expansion.Enabled, cfg.Expansion.MaxExpansions)
	engine, err := retrieval.NewEngine(collectionStore, openaiClient, reranker, expander, retrieval.Config{
		DefaultK:      cfg.Retrieval.DefaultK,
		RerankEnabled: cfg.Retrieval.RerankEnabled && reranker != nil,
		CandidateK:    cfg.Retrieval.RerankCandidateK,
	})
	if err != nil {
		log.Fatalf("Failed to initialize retrieval engine: %v", err)
	}

	controller, err := agent.NewController(engine, openaiClient, verifier, agent.Config{
		MaxRetrievalRetries:  cfg.Agent.MaxRetrievalRetries,
		MaxGenerationRetries: cfg.Agent.MaxGenerationRetries,
		SufficiencyScore:     cfg.Agent.SufficiencyScore,
		CitationAccuracyMin:  cfg.Agent.CitationAccuracyMin,
		SimpleMaxLen:         cfg.Agent.SimpleMaxLen,
		MediumMaxLen:         cfg.Agent.MediumMaxLen,
		ComplexMinTopics:     cfg.Agent.ComplexMinTopics,
		DefaultK:             cfg.Retrieval.DefaultK,
	})
	if err != nil {
		log.Fatalf("Failed to initialize synthesis controller: %v", err)
	}

	pipeline, err := ingest.NewPipeline(collectionStore, docChunker, openaiClient, registry, tracker, objects)
	if err != nil {
		log.Fatalf("Failed to initialize ingestion pipeline: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("scholar-service"))

	routes.SetupRoutes(router, &handlers.Deps{
		Store:      collectionStore,
		Pipeline:   pipeline,
		Engine:     engine,
		Controller: controller,
		Verifier:   verifier,
		Registry:   registry,
		Tracker:    tracker,
		Objects:    objects,

		SignedURLTTL: time.Duration(cfg.Storage.SignedURLMins) * time.Minute,
	})

	log.Println("Starting the scholar server on port ", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
