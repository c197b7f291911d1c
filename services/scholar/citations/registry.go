// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citations maintains the per-document page index and verifies
// quoted citations against it.
//
// # Description
//
// Every ingested document is registered here with its full page text, so a
// claimed citation like (Thelen 2012, p. 14) can be checked against the
// actual page content. The registry stores document records and page text
// in the embedded kvstore; the Verifier resolves a citation and matches
// the quote.
package citations

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianScholar/services/scholar/chunker"
	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/kvstore"
)

// ErrNotFound is returned when a document ID is not registered.
var ErrNotFound = errors.New("document not registered")

const (
	docKeyPrefix  = "citation:doc:"
	pageKeyPrefix = "citation:page:"
)

func docKey(docID string) []byte {
	return []byte(docKeyPrefix + docID)
}

func pageKey(docID string, page int) []byte {
	return []byte(fmt.Sprintf("%s%s:%05d", pageKeyPrefix, docID, page))
}

// Registry is the durable document and page-text index.
type Registry struct {
	store *kvstore.Store
}

// NewRegistry wraps an open kvstore.
func NewRegistry(store *kvstore.Store) *Registry {
	return &Registry{store: store}
}

// Register writes the document record and indexes its page text. Writing
// the record and all pages happens in one transaction, so a registered
// document always has its full page index.
func (r *Registry) Register(doc datatypes.Document, pages []chunker.Page) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	return r.store.WithTxn(func(txn *badger.Txn) error {
		if err := txn.Set(docKey(doc.ID), raw); err != nil {
			return err
		}
		for _, p := range pages {
			if err := txn.Set(pageKey(doc.ID, p.Number), []byte(p.Text)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the document record and its page index. Idempotent.
func (r *Registry) Delete(docID string) error {
	return r.store.WithTxn(func(txn *badger.Txn) error {
		if err := txn.Delete(docKey(docID)); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pageKeyPrefix + docID + ":")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the registered document record.
func (r *Registry) Get(docID string) (*datatypes.Document, error) {
	var doc *datatypes.Document
	err := r.store.WithReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(docID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			doc = &datatypes.Document{}
			return json.Unmarshal(val, doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns all registered documents, optionally restricted to one
// collection. An empty collection returns everything.
func (r *Registry) List(collection string) ([]datatypes.Document, error) {
	var out []datatypes.Document
	err := r.store.WithReadTxn(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var doc datatypes.Document
				if err := json.Unmarshal(val, &doc); err != nil {
					return err
				}
				if collection == "" || doc.Collection == collection {
					out = append(out, doc)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByAuthorYear returns documents whose author field contains the given
// name (case-insensitive) and whose publication year matches. Documents
// without a parsed year never match.
func (r *Registry) FindByAuthorYear(author string, year int) ([]datatypes.Document, error) {
	docs, err := r.List("")
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(author))
	if needle == "" {
		return nil, nil
	}
	var out []datatypes.Document
	for _, doc := range docs {
		if doc.Metadata.Year == nil || *doc.Metadata.Year != year {
			continue
		}
		if strings.Contains(strings.ToLower(doc.Metadata.Authors), needle) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// PageText returns the indexed text of one page. The second return is
// false when the document has no such page.
func (r *Registry) PageText(docID string, page int) (string, bool, error) {
	var text string
	found := false
	err := r.store.WithReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(docID, page))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			text = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return text, found, nil
}
