// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage keeps the original uploaded documents so they can be
// re-chunked or audited later. The backend is GCS in deployment and a
// local directory for development and tests.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ObjectStorage stores original document bytes under hierarchical keys,
// e.g. "collections/default/doc-thelen.pdf".
type ObjectStorage interface {
	// Put writes the object, replacing any existing content at the key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SignedURL returns a time-limited download link, or an error when the
	// backend cannot sign (the local backend never can).
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DocumentKey builds the canonical object key for an ingested document.
func DocumentKey(collection, docID, filename string) string {
	return fmt.Sprintf("collections/%s/%s/%s", collection, docID, filename)
}
