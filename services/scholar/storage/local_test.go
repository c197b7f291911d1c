// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLocalPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}

	key := DocumentKey("default", "doc-thelen", "thelen-2012.pdf")
	if err := s.Put(ctx, key, strings.NewReader("pdf bytes"), "application/pdf"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil || string(data) != "pdf bytes" {
		t.Errorf("read %q, err %v", data, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, key); err == nil {
		t.Error("Get after Delete should fail")
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalPutReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Put(ctx, "a/b.txt", strings.NewReader("one"), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "a/b.txt", strings.NewReader("two"), ""); err != nil {
		t.Fatal(err)
	}
	r, err := s.Get(ctx, "a/b.txt")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"../escape", "/etc/passwd", "a/../../escape"} {
		if err := s.Put(context.Background(), key, strings.NewReader("x"), ""); err == nil {
			t.Errorf("key %q should be rejected", key)
		}
	}
}

func TestLocalSignedURLUnsupported(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignedURL(context.Background(), "a", time.Minute); err == nil {
		t.Error("local backend must not sign URLs")
	}
}
