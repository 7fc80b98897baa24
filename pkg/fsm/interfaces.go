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

// Package fsm provides the generic manager and instance plumbing that drives
// every reconcile loop: a manager owns a set of FSM instances, creates and
// removes them to match configuration, and reconciles each one toward its
// desired state every tick.
package fsm

import (
	"context"
	"errors"
	"time"

	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
)

// ErrInstanceRemoved signals that an instance has reached the removed
// lifecycle state. Reconcile loops treat it as a normal stop condition, not
// a failure; the manager deletes the instance on its next pass.
var ErrInstanceRemoved = errors.New("instance removed")

// ObservedState is a marker interface for type safety of state implementations
type ObservedState interface {
	// IsObservedState is a marker method to ensure type safety
	IsObservedState()
}

// FSMInstance defines the interface for a finite state machine instance.
// Each instance has a current state and a desired state, and can be reconciled
// to move toward the desired state.
type FSMInstance interface {
	// GetCurrentFSMState returns the current state of the instance
	GetCurrentFSMState() string
	// GetDesiredFSMState returns the desired state of the instance
	GetDesiredFSMState() string
	// SetDesiredFSMState sets the desired state of the instance
	SetDesiredFSMState(desiredState string) error
	// Reconcile moves the instance toward its desired state.
	// Returns an error if reconciliation fails, and a boolean indicating
	// whether a change was made to the instance's state.
	Reconcile(ctx context.Context, snapshot SystemSnapshot, services serviceregistry.Provider) (error, bool)
	// Remove initiates the removal process for this instance
	Remove(ctx context.Context) error
	// GetLastObservedState returns the last known state of the instance
	// This is cached data from the last reconciliation cycle
	GetLastObservedState() ObservedState
	// GetExpectedMaxP95ExecutionTimePerInstance returns the expected max p95 execution time of the instance
	GetExpectedMaxP95ExecutionTimePerInstance() time.Duration
}

// FSMManager defines the interface for managing multiple FSM instances.
// It provides methods for retrieving and reconciling instances.
type FSMManager[C any] interface {
	// GetInstances returns all instances managed by this manager
	GetInstances() map[string]FSMInstance
	// GetInstance returns an instance by name
	GetInstance(name string) (FSMInstance, bool)
	// Reconcile ensures that all instances are moving toward their desired state.
	// The snapshot carries the current configuration and the tick counter used
	// for operation rate limiting.
	Reconcile(ctx context.Context, snapshot SystemSnapshot, services serviceregistry.Provider) (error, bool)
	// GetManagerName returns the name of this manager for logging and metrics
	GetManagerName() string
}
