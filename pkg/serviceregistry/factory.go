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

// Package serviceregistry provides a centralized registry for the shared
// services reconcile loops depend on, so that managers and instances receive
// their dependencies through a single injection point.
package serviceregistry

import (
	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore/memory"
	"github.com/united-manufacturing-hub/ilm-core/pkg/service/filesystem"
)

// Provider is the dependency surface handed to Reconcile calls.
type Provider interface {
	// GetFileSystem returns the filesystem service.
	GetFileSystem() filesystem.Service

	// GetStore returns the document store holding job and metadata records.
	GetStore() configstore.Store

	// GetCluster returns the cluster provider used for index operations.
	GetCluster() cluster.Provider
}

// Registry bundles the concrete services wired at startup.
type Registry struct {
	FileSystem filesystem.Service
	Store      configstore.Store
	Cluster    cluster.Provider
}

// NewRegistry creates a registry around the given store and cluster provider.
func NewRegistry(store configstore.Store, provider cluster.Provider) *Registry {
	return &Registry{
		FileSystem: filesystem.NewDefaultService(),
		Store:      store,
		Cluster:    provider,
	}
}

// NewMockRegistry creates a registry backed entirely by in-memory services.
func NewMockRegistry() *Registry {
	return &Registry{
		FileSystem: filesystem.NewMockFileSystem(),
		Store:      memory.NewInMemoryStore(),
		Cluster:    cluster.NewMemoryProvider(),
	}
}

// GetFileSystem returns the filesystem service.
func (r *Registry) GetFileSystem() filesystem.Service {
	return r.FileSystem
}

// GetStore returns the document store.
func (r *Registry) GetStore() configstore.Store {
	return r.Store
}

// GetCluster returns the cluster provider.
func (r *Registry) GetCluster() cluster.Provider {
	return r.Cluster
}
