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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// GetChunkSchema Tests
// =============================================================================

func TestGetChunkSchema_ReturnsValidClass(t *testing.T) {
	schema := GetChunkSchema()

	require.NotNil(t, schema)
	assert.Equal(t, ChunkClassName, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)
	assert.Contains(t, schema.Description, "chunk")
}

func TestGetChunkSchema_HasRequiredProperties(t *testing.T) {
	schema := GetChunkSchema()

	expectedProperties := []string{
		"collection",
		"document_id",
		"tier",
		"chunk_index",
		"parent_id",
		"content",
		"page_start",
		"page_end",
		"authors",
		"year",
		"title",
		"topic",
		"source",
	}

	require.NotNil(t, schema.Properties)
	assert.Len(t, schema.Properties, len(expectedProperties))

	propertyNames := make(map[string]bool)
	for _, prop := range schema.Properties {
		propertyNames[prop.Name] = true
	}

	for _, expected := range expectedProperties {
		assert.True(t, propertyNames[expected], "Missing property: %s", expected)
	}
}

func TestGetChunkSchema_PropertyDataTypes(t *testing.T) {
	schema := GetChunkSchema()

	propertyDataTypes := map[string]string{
		"collection":  "text",
		"document_id": "text",
		"tier":        "text",
		"chunk_index": "int",
		"parent_id":   "text",
		"content":     "text",
		"page_start":  "int",
		"page_end":    "int",
		"authors":     "text",
		"year":        "int",
		"title":       "text",
		"topic":       "text",
		"source":      "text",
	}

	for _, prop := range schema.Properties {
		expectedType, exists := propertyDataTypes[prop.Name]
		if exists {
			require.NotEmpty(t, prop.DataType, "DataType for %s should not be empty", prop.Name)
			assert.Equal(t, expectedType, prop.DataType[0], "DataType mismatch for %s", prop.Name)
		}
	}
}

func TestGetChunkSchema_IsolationFieldsAreFilterable(t *testing.T) {
	schema := GetChunkSchema()

	// Queries filter on these on every request; they must stay filterable.
	mustFilter := map[string]bool{
		"collection":  true,
		"document_id": true,
		"tier":        true,
	}

	for _, prop := range schema.Properties {
		if !mustFilter[prop.Name] {
			continue
		}
		require.NotNil(t, prop.IndexFilterable, "IndexFilterable unset for %s", prop.Name)
		assert.True(t, *prop.IndexFilterable, "%s must be filterable", prop.Name)
	}
}

// =============================================================================
// ChunkResult Tests
// =============================================================================

func TestChunkResult_ToScoredChunk(t *testing.T) {
	r := ChunkResult{
		Collection: "thesis-1",
		DocumentID: "doc-1",
		Tier:       "fine",
		ChunkIndex: 3,
		ParentID:   "parent-1",
		Content:    "some passage",
		PageStart:  4,
		PageEnd:    5,
		Authors:    "Kathleen Thelen",
		Year:       2012,
		Title:      "Varieties of Capitalism",
		Topic:      "institutions",
		Source:     "thelen-2012.pdf",
	}
	r.Additional.ID = "chunk-uuid"
	r.Additional.Certainty = 0.91

	sc := r.ToScoredChunk()

	assert.Equal(t, "chunk-uuid", sc.Chunk.ID)
	assert.Equal(t, TierFine, sc.Chunk.Tier)
	assert.Equal(t, 3, sc.Chunk.Index)
	assert.Equal(t, "thesis-1", sc.Chunk.Collection)
	assert.Equal(t, 4, sc.Chunk.PageStart)
	assert.Equal(t, 0.91, sc.Score)
}
