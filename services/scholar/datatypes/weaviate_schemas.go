// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClassName is the single Weaviate class holding all chunks. Tenant
// isolation rides on the collection property, which every query must filter
// on; see the store package.
const ChunkClassName = "ScholarChunk"

// GetChunkSchema returns the Weaviate class definition for chunk storage.
//
// Vectorizer is "none": embeddings are computed by the ingestion pipeline
// and supplied explicitly on every object. Fields used in query filters are
// marked filterable.
func GetChunkSchema() *models.Class {
	vTrue := true
	vFalse := false

	return &models.Class{
		Class:       ChunkClassName,
		Description: "A hierarchical chunk of an academic document",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "collection",
				DataType:        []string{"text"},
				Description:     "Tenant collection this chunk belongs to",
				IndexFilterable: &vTrue,
				IndexSearchable: &vFalse,
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Owning document identifier",
				IndexFilterable: &vTrue,
				IndexSearchable: &vFalse,
			},
			{
				Name:            "tier",
				DataType:        []string{"text"},
				Description:     "Hierarchy tier: coarse, medium, or fine",
				IndexFilterable: &vTrue,
				IndexSearchable: &vFalse,
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of the chunk within its tier",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "parent_id",
				DataType:        []string{"text"},
				Description:     "Chunk at the next-coarser tier, empty at coarse",
				IndexFilterable: &vTrue,
				IndexSearchable: &vFalse,
			},
			{
				Name:        "content",
				DataType:    []string{"text"},
				Description: "Raw chunk text",
			},
			{
				Name:            "page_start",
				DataType:        []string{"int"},
				Description:     "First 1-based page the span covers",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "page_end",
				DataType:        []string{"int"},
				Description:     "Last 1-based page the span covers",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "authors",
				DataType:        []string{"text"},
				Description:     "Canonical comma-joined author string",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "year",
				DataType:        []string{"int"},
				Description:     "Publication year, 0 when unknown",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "title",
				DataType:        []string{"text"},
				Description:     "Normalized document title",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "topic",
				DataType:        []string{"text"},
				Description:     "Optional topic label assigned at ingestion",
				IndexFilterable: &vTrue,
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Original source filename",
				IndexFilterable: &vTrue,
			},
		},
	}
}

// EnsureChunkSchema creates the chunk class if it does not already exist.
//
// # Description
//
// Idempotent startup helper. An existing class is left untouched so
// restarts never disturb indexed data.
//
// # Inputs
//
//   - ctx: request-scoped context.
//   - client: connected Weaviate client.
//
// # Outputs
//
//   - error: non-nil if the existence check or creation failed.
func EnsureChunkSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(ChunkClassName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for class %s: %w", ChunkClassName, err)
	}
	if exists {
		slog.Debug("Weaviate class already present", "class", ChunkClassName)
		return nil
	}

	if err := client.Schema().ClassCreator().
		WithClass(GetChunkSchema()).
		Do(ctx); err != nil {
		return fmt.Errorf("failed to create class %s: %w", ChunkClassName, err)
	}
	slog.Info("Created Weaviate class", "class", ChunkClassName)
	return nil
}
