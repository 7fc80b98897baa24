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

package managedindex

import (
	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
)

// ManagedIndexObservedStateSnapshot is a copy of the observed record and
// job so the manager can store snapshots.
type ManagedIndexObservedStateSnapshot struct {
	Config          ManagedIndexConfig
	Record          metadata.ManagedIndexMetadata
	HasRecord       bool
	Job             scheduler.JobDocument
	HasJob          bool
	LastStateChange int64
}

// Ensure it satisfies fsm.ObservedStateSnapshot
func (m *ManagedIndexObservedStateSnapshot) IsObservedStateSnapshot() {}

// CreateObservedStateSnapshot is called by the manager to record the state
func (m *ManagedIndexInstance) CreateObservedStateSnapshot() fsm.ObservedStateSnapshot {
	snapshot := &ManagedIndexObservedStateSnapshot{
		HasRecord:       m.ObservedState.HasRecord,
		HasJob:          m.ObservedState.HasJob,
		Job:             m.ObservedState.Job,
		LastStateChange: m.ObservedState.LastStateChange,
	}

	// Deep copy config
	err := deepcopy.Copy(&snapshot.Config, &m.config)
	if err != nil {
		sentry.ReportFSMError(m.baseFSMInstance.GetLogger(), m.baseFSMInstance.GetID(), "managedindex", "CreateObservedStateSnapshot", err)
		return nil
	}

	// The record's With* helpers already hand out deep copies.
	snapshot.Record = m.ObservedState.Record.Copy()

	return snapshot
}
