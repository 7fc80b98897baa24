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

// Package configstore defines the document store holding the system's own
// control documents: managed-index state records, scheduler job documents
// and the legacy metadata-migration markers. All lookups and writes are
// batched with per-item results so one bad item never fails its siblings.
package configstore

import (
	"context"
	"errors"
)

// Collection names.
const (
	// CollectionManagedIndexMetadata holds one state record per managed
	// index, keyed by index UUID.
	CollectionManagedIndexMetadata = "managed-index-metadata"

	// CollectionSchedulerJobs holds the job control documents the scheduler
	// consults, keyed by index UUID.
	CollectionSchedulerJobs = "scheduler-jobs"

	// CollectionMetadataMigration holds legacy metadata markers for indices
	// whose records have not finished migrating to the current layout.
	CollectionMetadataMigration = "metadata-migration"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a schemaless store document.
type Document map[string]any

// GetResult is the per-item outcome of a batched read.
type GetResult struct {
	ID    string
	Found bool
	Doc   Document
	Err   error
}

// WriteOp is one item of a batched write. A nil Doc deletes the document.
type WriteOp struct {
	ID  string
	Doc Document
}

// WriteResult is the per-item outcome of a batched write.
type WriteResult struct {
	ID  string
	Err error
}

// Store is the config document store. Batched operations return one result
// per requested item, in request order; item failures are reported in the
// per-item result, and the call-level error is reserved for failures of the
// batch itself (transport, blocked cluster).
type Store interface {
	// CollectionExists reports whether the collection exists at all.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Get fetches a single document.
	Get(ctx context.Context, collection, id string) (Document, error)

	// MultiGet fetches many documents in one round trip.
	MultiGet(ctx context.Context, collection string, ids []string) ([]GetResult, error)

	// BulkWrite upserts (or deletes, for nil docs) many documents in one
	// round trip.
	BulkWrite(ctx context.Context, collection string, ops []WriteOp) ([]WriteResult, error)

	// Delete removes a single document. Deleting a missing document is not
	// an error.
	Delete(ctx context.Context, collection, id string) error
}
