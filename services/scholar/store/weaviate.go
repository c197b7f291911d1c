// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
)

// chunkFields is the property selection for chunk queries, including the
// certainty score Weaviate computes for NearVector search.
var chunkFields = []graphql.Field{
	{Name: "collection"},
	{Name: "document_id"},
	{Name: "tier"},
	{Name: "chunk_index"},
	{Name: "parent_id"},
	{Name: "content"},
	{Name: "page_start"},
	{Name: "page_end"},
	{Name: "authors"},
	{Name: "year"},
	{Name: "title"},
	{Name: "topic"},
	{Name: "source"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// WeaviateStore implements CollectionStore on a single Weaviate class.
//
// # Description
//
// All tenants share the ScholarChunk class; isolation rides on the
// collection property, which every query and delete unconditionally
// filters on. Weaviate handles concurrent reads; writes to one document
// are serialized by the embedded lock table.
type WeaviateStore struct {
	client *weaviate.Client
	locks  *docLocks
}

var _ CollectionStore = (*WeaviateStore)(nil)

// NewWeaviateStore ensures the chunk schema exists and returns the store.
func NewWeaviateStore(ctx context.Context, client *weaviate.Client) (*WeaviateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client must not be nil")
	}
	if err := datatypes.EnsureChunkSchema(ctx, client); err != nil {
		return nil, err
	}
	return &WeaviateStore{client: client, locks: newDocLocks()}, nil
}

// CreateCollection registers a tenant collection. With a shared class the
// collection exists as soon as its name does, so this only normalizes the
// handle; it is idempotent by construction.
func (s *WeaviateStore) CreateCollection(_ context.Context, tenantID string) (Handle, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Default(), nil
	}
	if tenantID == datatypes.DefaultCollection {
		return Default(), nil
	}
	return ForJob(tenantID), nil
}

func (s *WeaviateStore) Upsert(ctx context.Context, h Handle, chunks []datatypes.Chunk) error {
	if err := validateChunks(h, chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	byDoc := make(map[string][]datatypes.Chunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for docID, docChunks := range byDoc {
		unlock := s.locks.lock(h, docID)
		err := s.upsertLocked(ctx, docChunks)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *WeaviateStore) upsertLocked(ctx context.Context, chunks []datatypes.Chunk) error {
	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class:  datatypes.ChunkClassName,
			ID:     strfmt.UUID(c.ID),
			Vector: models.C11yVector(c.Vector),
			Properties: map[string]interface{}{
				"collection":  c.Collection,
				"document_id": c.DocumentID,
				"tier":        string(c.Tier),
				"chunk_index": c.Index,
				"parent_id":   c.ParentID,
				"content":     c.Content,
				"page_start":  c.PageStart,
				"page_end":    c.PageEnd,
				"authors":     c.Authors,
				"year":        c.Year,
				"title":       c.Title,
				"topic":       c.Topic,
				"source":      c.Source,
			},
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch insert failed: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate rejected object %s: %s", item.ID, item.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *WeaviateStore) Query(ctx context.Context, h Handle, vector []float32, k int, filter []datatypes.FilterCondition) ([]datatypes.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	where, err := buildWhere(h, filter)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ChunkClassName).
		WithFields(chunkFields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkGetResponse](resp)
	if err != nil {
		return nil, err
	}

	results := make([]datatypes.ScoredChunk, 0, len(parsed.Get.ScholarChunk))
	for _, r := range parsed.Get.ScholarChunk {
		results = append(results, r.ToScoredChunk())
	}
	return results, nil
}

func (s *WeaviateStore) DeleteDocument(ctx context.Context, h Handle, documentID string) error {
	unlock := s.locks.lock(h, documentID)
	defer unlock()
	return s.deleteWhere(ctx, filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			collectionFilter(h),
			filters.Where().
				WithPath([]string{"document_id"}).
				WithOperator(filters.Equal).
				WithValueString(documentID),
		}))
}

func (s *WeaviateStore) ReplaceDocument(ctx context.Context, h Handle, documentID string, chunks []datatypes.Chunk) error {
	if err := validateChunks(h, chunks); err != nil {
		return err
	}

	unlock := s.locks.lock(h, documentID)
	defer unlock()

	err := s.deleteWhere(ctx, filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			collectionFilter(h),
			filters.Where().
				WithPath([]string{"document_id"}).
				WithOperator(filters.Equal).
				WithValueString(documentID),
		}))
	if err != nil {
		return err
	}
	return s.upsertLocked(ctx, chunks)
}

func (s *WeaviateStore) DeleteCollection(ctx context.Context, h Handle) error {
	slog.Info("Deleting collection", "collection", h.Collection)
	return s.deleteWhere(ctx, collectionFilter(h))
}

func (s *WeaviateStore) deleteWhere(ctx context.Context, where *filters.WhereBuilder) error {
	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ChunkClassName).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch delete failed: %w", err)
	}
	if resp != nil && resp.Results != nil {
		slog.Debug("Batch delete finished", "matches", resp.Results.Matches, "failed", resp.Results.Failed)
	}
	return nil
}

// collectionFilter is the isolation guard: every query and delete includes
// it, so one tenant's operations cannot reach another tenant's chunks.
func collectionFilter(h Handle) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"collection"}).
		WithOperator(filters.Equal).
		WithValueString(h.Collection)
}

// filterableFields maps the public filter surface onto class properties.
var filterableFields = map[string]bool{
	"document_id": true,
	"tier":        true,
	"authors":     true,
	"year":        true,
	"title":       true,
	"topic":       true,
	"source":      true,
	"page_start":  true,
	"page_end":    true,
}

func buildWhere(h Handle, filter []datatypes.FilterCondition) (*filters.WhereBuilder, error) {
	operands := []*filters.WhereBuilder{collectionFilter(h)}
	for _, cond := range filter {
		if !filterableFields[cond.Field] {
			return nil, fmt.Errorf("field %q is not filterable", cond.Field)
		}
		var op filters.WhereOperator
		switch cond.Op {
		case datatypes.FilterEq:
			op = filters.Equal
		case datatypes.FilterGte:
			op = filters.GreaterThanEqual
		case datatypes.FilterLte:
			op = filters.LessThanEqual
		default:
			return nil, fmt.Errorf("unsupported filter op %q", cond.Op)
		}

		builder := filters.Where().WithPath([]string{cond.Field}).WithOperator(op)
		switch v := cond.Value.(type) {
		case string:
			builder = builder.WithValueString(v)
		case int:
			builder = builder.WithValueInt(int64(v))
		case int64:
			builder = builder.WithValueInt(v)
		case float64:
			// JSON numbers decode as float64; integer-valued fields take ints.
			if v == float64(int64(v)) {
				builder = builder.WithValueInt(int64(v))
			} else {
				builder = builder.WithValueNumber(v)
			}
		case bool:
			builder = builder.WithValueBoolean(v)
		default:
			return nil, fmt.Errorf("unsupported filter value type %T for field %q", cond.Value, cond.Field)
		}
		operands = append(operands, builder)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}
