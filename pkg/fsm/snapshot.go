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

package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/config"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
)

const (
	// IndexManagerName identifies the managed-index manager inside snapshots.
	IndexManagerName = constants.ManagedIndexManagerName
)

// ObservedStateSnapshot represents a deep copy of an observed state
type ObservedStateSnapshot interface {
	// IsObservedStateSnapshot is a marker method to ensure type safety
	IsObservedStateSnapshot()
}

// FSMInstanceSnapshot contains the immutable state of an FSM instance
type FSMInstanceSnapshot struct {
	ID                string
	CurrentState      string
	DesiredState      string
	LastError         string
	LastErrorTime     time.Time
	LastObservedState ObservedStateSnapshot
	CreatedAt         time.Time
	LastUpdatedAt     time.Time
}

// ManagerSnapshot defines the interface for manager-specific snapshots
type ManagerSnapshot interface {
	// GetName returns the name of the manager
	GetName() string
	// GetInstances returns the snapshots of all instances.
	// Warning: treat the returned snapshots as read-only and do not modify
	// them inside the control loop; consumers outside the loop receive a
	// deep copy. The pointers are needed to avoid unexported fields when
	// doing deep copies.
	GetInstances() map[string]*FSMInstanceSnapshot
	// GetSnapshotTime returns the time the snapshot was created
	GetSnapshotTime() time.Time
	// GetManagerTick returns the current manager-specific tick
	GetManagerTick() uint64
}

// BaseManagerSnapshot contains the basic immutable state common to all manager types
type BaseManagerSnapshot struct {
	Name            string
	Instances       map[string]*FSMInstanceSnapshot // pointers avoid unexported fields when deep copying
	ManagerTick     uint64
	LastAddTick     uint64
	LastUpdateTick  uint64
	LastRemoveTick  uint64
	LastStateChange uint64
	SnapshotTime    time.Time
}

// GetName returns the name of the manager
func (s *BaseManagerSnapshot) GetName() string {
	return s.Name
}

// GetInstances returns the snapshots of all instances.
// Warning: treat the returned snapshots as read-only and do not modify them.
func (s *BaseManagerSnapshot) GetInstances() map[string]*FSMInstanceSnapshot {
	return s.Instances
}

// GetSnapshotTime returns the time the snapshot was created
func (s *BaseManagerSnapshot) GetSnapshotTime() time.Time {
	return s.SnapshotTime
}

// GetManagerTick returns the current manager-specific tick
func (s *BaseManagerSnapshot) GetManagerTick() uint64 {
	return s.ManagerTick
}

// SystemSnapshot contains a thread-safe snapshot of the entire system state
type SystemSnapshot struct {
	CurrentConfig config.FullConfig
	Managers      map[string]ManagerSnapshot
	SnapshotTime  time.Time
	Tick          uint64
}

// SnapshotManager manages thread-safe creation, storage, and retrieval of system snapshots
type SnapshotManager struct {
	mu           sync.RWMutex
	lastSnapshot *SystemSnapshot
}

// NewSnapshotManager creates a new snapshot manager
func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{
		lastSnapshot: &SystemSnapshot{
			Managers:     make(map[string]ManagerSnapshot),
			SnapshotTime: time.Now(),
		},
	}
}

// UpdateSnapshot replaces the stored snapshot with the given one
func (s *SnapshotManager) UpdateSnapshot(snapshot *SystemSnapshot) {
	if s == nil || snapshot == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSnapshot = snapshot
}

// GetSnapshot returns the most recent system snapshot
func (s *SnapshotManager) GetSnapshot() *SystemSnapshot {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSnapshot
}

// GetDeepCopySnapshot returns a deep copy of the most recent system snapshot,
// safe to hand to consumers outside the control loop.
func (s *SnapshotManager) GetDeepCopySnapshot() SystemSnapshot {
	if s == nil {
		return SystemSnapshot{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshotCopy SystemSnapshot
	if err := deepcopy.Copy(&snapshotCopy, s.lastSnapshot); err != nil {
		return SystemSnapshot{}
	}
	return snapshotCopy
}

// ManagerSnapshotCreator is an interface for managers that can create their own snapshots
type ManagerSnapshotCreator interface {
	CreateSnapshot() ManagerSnapshot
}

// GetManagerSnapshots extracts snapshots from all FSM managers
func GetManagerSnapshots(managers []FSMManager[any], currentTick uint64, cfg config.FullConfig) (*SystemSnapshot, error) {
	if managers == nil {
		return nil, fmt.Errorf("managers list is nil")
	}

	snapshot := &SystemSnapshot{
		CurrentConfig: cfg,
		Managers:      make(map[string]ManagerSnapshot),
		SnapshotTime:  time.Now(),
		Tick:          currentTick,
	}

	for _, manager := range managers {
		if manager == nil {
			continue
		}

		managerName := manager.GetManagerName()
		if managerName == "" {
			continue
		}

		var managerSnapshot ManagerSnapshot

		if snapshotCreator, ok := manager.(ManagerSnapshotCreator); ok {
			managerSnapshot = snapshotCreator.CreateSnapshot()
		} else {
			managerSnapshot = getManagerSnapshot(manager)
		}

		if managerSnapshot != nil {
			snapshot.Managers[managerName] = managerSnapshot
		}
	}

	return snapshot, nil
}

// getManagerSnapshot extracts a snapshot from a single manager without
// requiring it to implement ManagerSnapshotCreator.
func getManagerSnapshot(manager FSMManager[any]) ManagerSnapshot {
	if manager == nil {
		return nil
	}

	snapshot := &BaseManagerSnapshot{
		Name:         manager.GetManagerName(),
		Instances:    make(map[string]*FSMInstanceSnapshot),
		SnapshotTime: time.Now(),
	}

	if baseManager, ok := manager.(*BaseFSMManager[any]); ok {
		snapshot.ManagerTick = baseManager.GetManagerTick()
		snapshot.LastAddTick = baseManager.GetLastAddTick()
		snapshot.LastUpdateTick = baseManager.GetLastUpdateTick()
		snapshot.LastRemoveTick = baseManager.GetLastRemoveTick()
		snapshot.LastStateChange = baseManager.GetLastStateChange()
	}

	for name, instance := range manager.GetInstances() {
		if instance == nil {
			continue
		}

		instanceSnapshot := FSMInstanceSnapshot{
			ID:           name,
			CurrentState: instance.GetCurrentFSMState(),
			DesiredState: instance.GetDesiredFSMState(),
		}

		if observedState := instance.GetLastObservedState(); observedState != nil {
			if converter, ok := instance.(ObservedStateConverter); ok {
				instanceSnapshot.LastObservedState = converter.CreateObservedStateSnapshot()
			}
		}

		snapshot.Instances[name] = &instanceSnapshot
	}

	return snapshot
}

// FindManager finds a manager in the system snapshot.
// Returns nil and false if the manager is not found.
func FindManager(snap SystemSnapshot, managerName string) (ManagerSnapshot, bool) {
	mgr, ok := snap.Managers[managerName]
	if !ok || mgr == nil {
		return nil, false
	}
	return mgr, true
}

// FindInstance finds an instance in the system snapshot.
// Returns nil and false if the instance is not found.
func FindInstance(snap SystemSnapshot, managerName, instanceName string) (*FSMInstanceSnapshot, bool) {
	mgr, ok := FindManager(snap, managerName)
	if !ok {
		return nil, false
	}
	inst, ok := mgr.GetInstances()[instanceName]
	return inst, ok
}
