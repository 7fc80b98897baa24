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

package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider for tests and local runs. It
// holds a seeded set of indices and supports scripted per-operation
// failures and unacknowledged results.
type MemoryProvider struct {
	mu      sync.RWMutex
	indices map[string]IndexInfo // name -> info

	resolveErr error
	opErrs     map[string]error // "open/idx" -> error
	unacked    map[string]bool
	notMet     map[string]bool
}

// NewMemoryProvider creates a provider seeded with the given index names;
// UUIDs are generated.
func NewMemoryProvider(names ...string) *MemoryProvider {
	p := &MemoryProvider{
		indices: make(map[string]IndexInfo),
		opErrs:  make(map[string]error),
		unacked: make(map[string]bool),
		notMet:  make(map[string]bool),
	}
	for _, name := range names {
		p.indices[name] = IndexInfo{Name: name, UUID: uuid.NewString()}
	}

	return p
}

// AddIndex seeds an index with a fixed UUID.
func (p *MemoryProvider) AddIndex(name, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indices[name] = IndexInfo{Name: name, UUID: id}
}

// UUIDOf returns the UUID of a seeded index.
func (p *MemoryProvider) UUIDOf(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.indices[name].UUID
}

// FailResolve makes ResolveIndices fail with err.
func (p *MemoryProvider) FailResolve(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveErr = err
}

// FailOperation makes the given operation ("open", "close", "rollover")
// against the given index fail with err.
func (p *MemoryProvider) FailOperation(op, index string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opErrs[op+"/"+index] = err
}

// Unacknowledge makes the given operation return an unacknowledged result.
func (p *MemoryProvider) Unacknowledge(op, index string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unacked[op+"/"+index] = true
}

// ConditionsNotMet makes a rollover against the given alias acknowledge
// without rolling over.
func (p *MemoryProvider) ConditionsNotMet(alias string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notMet["rollover/"+alias] = true
}

// ResolveIndices expands patterns against the seeded indices. Explicit
// names must exist; patterns ending in '*' match by prefix and may match
// nothing.
func (p *MemoryProvider) ResolveIndices(ctx context.Context, patterns []string) ([]IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.resolveErr != nil {
		return nil, p.resolveErr
	}

	var resolved []IndexInfo
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "*") {
			prefix := strings.TrimSuffix(pattern, "*")
			for name, info := range p.indices {
				if strings.HasPrefix(name, prefix) && !seen[name] {
					seen[name] = true
					resolved = append(resolved, info)
				}
			}

			continue
		}

		info, ok := p.indices[pattern]
		if !ok {
			return nil, fmt.Errorf("no such index: %s", pattern)
		}
		if !seen[pattern] {
			seen[pattern] = true
			resolved = append(resolved, info)
		}
	}

	return resolved, nil
}

func (p *MemoryProvider) operate(ctx context.Context, op, index string) (AckResult, error) {
	if err := ctx.Err(); err != nil {
		return AckResult{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.opErrs[op+"/"+index]; err != nil {
		return AckResult{}, err
	}
	if p.unacked[op+"/"+index] {
		return AckResult{Acknowledged: false}, nil
	}
	if _, ok := p.indices[index]; !ok {
		return AckResult{}, fmt.Errorf("no such index: %s", index)
	}

	return AckResult{Acknowledged: true, RolledOver: !p.notMet[op+"/"+index]}, nil
}

// OpenIndex opens a seeded index.
func (p *MemoryProvider) OpenIndex(ctx context.Context, index string) (AckResult, error) {
	return p.operate(ctx, "open", index)
}

// CloseIndex closes a seeded index.
func (p *MemoryProvider) CloseIndex(ctx context.Context, index string) (AckResult, error) {
	return p.operate(ctx, "close", index)
}

// RolloverAlias rolls over a seeded alias.
func (p *MemoryProvider) RolloverAlias(ctx context.Context, alias string) (AckResult, error) {
	return p.operate(ctx, "rollover", alias)
}

var _ Provider = (*MemoryProvider)(nil)
