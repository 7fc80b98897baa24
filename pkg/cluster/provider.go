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

// Package cluster abstracts the search cluster the lifecycle system manages:
// resolving index name patterns against the cluster state and issuing the
// per-index operations the policy steps execute.
package cluster

import (
	"context"
)

// IndexInfo is one concrete index resolved from a name pattern. The UUID is
// stable across index renames and keys all store documents.
type IndexInfo struct {
	Name string
	UUID string
}

// AckResult is the outcome of an index operation. Unacknowledged results
// are not errors at the transport level but fail the issuing step.
// RolledOver is only meaningful for rollover operations: acknowledged but
// not rolled over means the rollover conditions were not met yet.
type AckResult struct {
	Acknowledged bool
	RolledOver   bool
}

// Provider is the cluster state provider and operation surface.
type Provider interface {
	// ResolveIndices expands name patterns to concrete indices using strict
	// expansion: explicitly named indices must exist, wildcard patterns may
	// match zero indices. The context carries the request-scoped deadline.
	ResolveIndices(ctx context.Context, patterns []string) ([]IndexInfo, error)

	// OpenIndex opens a closed index.
	OpenIndex(ctx context.Context, index string) (AckResult, error)

	// CloseIndex closes an open index.
	CloseIndex(ctx context.Context, index string) (AckResult, error)

	// RolloverAlias rolls the write alias of an index over to a new index.
	RolloverAlias(ctx context.Context, alias string) (AckResult, error)
}
