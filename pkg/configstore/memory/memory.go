// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory provides an in-memory configstore.Store for tests and
// single-node deployments. Documents are deep-copied on every read and
// write so external mutation cannot corrupt stored state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
)

// InMemoryStore is a thread-safe in-memory document store. Collections are
// created on first write; reads against a missing collection report the
// collection as absent rather than failing.
//
// For tests, per-item read and write failures can be injected with
// FailGet/FailWrite, and a batch-level error with FailBulk.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]configstore.Document

	getErrs   map[string]error // collection/id -> error
	writeErrs map[string]error
	bulkErr   map[string]error // collection -> batch-level error
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]configstore.Document),
		getErrs:     make(map[string]error),
		writeErrs:   make(map[string]error),
		bulkErr:     make(map[string]error),
	}
}

func itemKey(collection, id string) string {
	return collection + "/" + id
}

// FailGet makes every MultiGet item for the given document fail with err.
func (s *InMemoryStore) FailGet(collection, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErrs[itemKey(collection, id)] = err
}

// FailWrite makes every BulkWrite item for the given document fail with err.
func (s *InMemoryStore) FailWrite(collection, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrs[itemKey(collection, id)] = err
}

// FailBulk makes whole batched calls against the collection fail with err.
func (s *InMemoryStore) FailBulk(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkErr[collection] = err
}

// DropCollection removes a collection entirely, simulating a config store
// that has never been initialized.
func (s *InMemoryStore) DropCollection(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
}

// CollectionExists reports whether the collection has been created.
func (s *InMemoryStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.collections[collection]

	return ok, nil
}

// Get fetches a single document.
func (s *InMemoryStore) Get(ctx context.Context, collection, id string) (configstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, ok := s.collections[collection]
	if !ok {
		return nil, configstore.ErrNotFound
	}

	doc, ok := docs[id]
	if !ok {
		return nil, configstore.ErrNotFound
	}

	return copyDocument(doc)
}

// MultiGet fetches many documents in one call, one result per id.
func (s *InMemoryStore) MultiGet(ctx context.Context, collection string, ids []string) ([]configstore.GetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.bulkErr[collection]; err != nil {
		return nil, err
	}

	docs := s.collections[collection]
	results := make([]configstore.GetResult, 0, len(ids))

	for _, id := range ids {
		if err := s.getErrs[itemKey(collection, id)]; err != nil {
			results = append(results, configstore.GetResult{ID: id, Err: err})
			continue
		}

		doc, ok := docs[id]
		if !ok {
			results = append(results, configstore.GetResult{ID: id, Found: false})
			continue
		}

		copied, err := copyDocument(doc)
		if err != nil {
			results = append(results, configstore.GetResult{ID: id, Err: err})
			continue
		}

		results = append(results, configstore.GetResult{ID: id, Found: true, Doc: copied})
	}

	return results, nil
}

// BulkWrite upserts many documents in one call, one result per op.
func (s *InMemoryStore) BulkWrite(ctx context.Context, collection string, ops []configstore.WriteOp) ([]configstore.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bulkErr[collection]; err != nil {
		return nil, err
	}

	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string]configstore.Document)
	}

	results := make([]configstore.WriteResult, 0, len(ops))

	for _, op := range ops {
		if op.ID == "" {
			results = append(results, configstore.WriteResult{ID: op.ID, Err: errors.New("missing document id")})
			continue
		}

		if err := s.writeErrs[itemKey(collection, op.ID)]; err != nil {
			results = append(results, configstore.WriteResult{ID: op.ID, Err: err})
			continue
		}

		if op.Doc == nil {
			delete(s.collections[collection], op.ID)
			results = append(results, configstore.WriteResult{ID: op.ID})
			continue
		}

		copied, err := copyDocument(op.Doc)
		if err != nil {
			results = append(results, configstore.WriteResult{ID: op.ID, Err: err})
			continue
		}

		s.collections[collection][op.ID] = copied
		results = append(results, configstore.WriteResult{ID: op.ID})
	}

	return results, nil
}

// Delete removes a single document; missing documents are ignored.
func (s *InMemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if docs, ok := s.collections[collection]; ok {
		delete(docs, id)
	}

	return nil
}

func copyDocument(doc configstore.Document) (configstore.Document, error) {
	var copied configstore.Document
	if err := deepcopy.Copy(&copied, doc); err != nil {
		return nil, fmt.Errorf("failed to deep copy document: %w", err)
	}

	return copied, nil
}

var _ configstore.Store = (*InMemoryStore)(nil)
