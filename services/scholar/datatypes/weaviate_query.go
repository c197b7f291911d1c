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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// ChunkResult mirrors one ScholarChunk object in a GraphQL Get response.
type ChunkResult struct {
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Tier       string `json:"tier"`
	ChunkIndex int    `json:"chunk_index"`
	ParentID   string `json:"parent_id"`
	Content    string `json:"content"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
	Authors    string `json:"authors"`
	Year       int    `json:"year"`
	Title      string `json:"title"`
	Topic      string `json:"topic"`
	Source     string `json:"source"`
	Additional struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
		Distance  float64 `json:"distance"`
	} `json:"_additional"`
}

// ToScoredChunk converts a GraphQL result row into the domain type, using
// Weaviate's certainty as the score.
func (r ChunkResult) ToScoredChunk() ScoredChunk {
	return ScoredChunk{
		Chunk: Chunk{
			ID:         r.Additional.ID,
			DocumentID: r.DocumentID,
			Collection: r.Collection,
			Tier:       ChunkTier(r.Tier),
			Index:      r.ChunkIndex,
			ParentID:   r.ParentID,
			Content:    r.Content,
			PageStart:  r.PageStart,
			PageEnd:    r.PageEnd,
			Authors:    r.Authors,
			Year:       r.Year,
			Title:      r.Title,
			Topic:      r.Topic,
			Source:     r.Source,
		},
		Score: r.Additional.Certainty,
	}
}

// ChunkGetResponse is the shape of a GraphQL Get response for the chunk
// class: {"Get": {"ScholarChunk": [...]}}.
type ChunkGetResponse struct {
	Get struct {
		ScholarChunk []ChunkResult `json:"ScholarChunk"`
	} `json:"Get"`
}

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response into T via
// the marshal/unmarshal round trip the client library expects.
//
// # Limitations
//
//   - GraphQL-level errors are collapsed into a single joined error string.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("graphql query returned errors: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}
	var parsed T
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return &parsed, nil
}
