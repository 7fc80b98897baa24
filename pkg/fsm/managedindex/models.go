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

// Package managedindex implements the policy driver: one FSM instance per
// managed index that walks the index through the states and actions its
// policy declares, persisting every step outcome in the index's state
// record. The driver is the only writer of step and action metadata; the
// recovery pipeline only ever rewrites whole records.
package managedindex

import (
	internal_fsm "github.com/united-manufacturing-hub/ilm-core/internal/fsm"
	publicfsm "github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/history"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/policy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
)

// These are the policy-driver operational states, in addition to the
// lifecycle states from internal_fsm.
const (
	// stopped parks the driver: the scheduler job is disabled or the index
	// is awaiting removal. No policy work happens here.
	OperationalStateStopped = "stopped"

	// action_pending means the driver has (or is about to have) selected the
	// current action from the policy but has not started executing it.
	OperationalStateActionPending = "action_pending"

	// step_running means the driver is executing the current step of the
	// current action.
	OperationalStateStepRunning = "step_running"

	// step_completed means the last step execution finished without failing;
	// the driver decides next whether the action has more steps and advances
	// a finished action to the next action or policy state.
	OperationalStateStepCompleted = "step_completed"

	// step_failed means the last step execution failed; the driver decides
	// next whether the retry budget allows another attempt.
	OperationalStateStepFailed = "step_failed"

	// action_completed means the last action of the policy's terminal state
	// completed; the lifecycle is finished and the instance parks here.
	OperationalStateActionCompleted = "action_completed"

	// action_failed is the terminal failure state: the retry budget is
	// exhausted and the record is marked failed. Only the recovery pipeline
	// re-arms the driver out of this state.
	OperationalStateActionFailed = "action_failed"
)

// IsOperationalState returns true if the given state is one of the driver
// states. (Note that the instance might be in lifecycle states too.)
func IsOperationalState(state string) bool {
	switch state {
	case OperationalStateStopped,
		OperationalStateActionPending,
		OperationalStateStepRunning,
		OperationalStateStepCompleted,
		OperationalStateStepFailed,
		OperationalStateActionCompleted,
		OperationalStateActionFailed:
		return true
	}
	return false
}

// IsRunningState returns whether the given state is part of an active
// action execution cycle.
func IsRunningState(state string) bool {
	switch state {
	case OperationalStateActionPending,
		OperationalStateStepRunning,
		OperationalStateStepCompleted,
		OperationalStateStepFailed:
		return true
	}
	return false
}

// Operational events
// (We also rely on the standard lifecycle events from internal_fsm.)
const (
	EventStart = "start_managing"
	EventStop  = "stop_managing"

	EventStepStart   = "execute_step"
	EventStepSucceed = "step_succeeded"
	EventStepError   = "step_errored"
	EventActionDone  = "action_succeeded"
	EventActionError = "action_errored"
	EventNextAction  = "advance"
	EventRetryArmed  = "retry_armed"
)

// ManagedIndexConfig is the per-index configuration the manager derives
// from an index attachment after pattern resolution.
type ManagedIndexConfig struct {
	// IndexName is the concrete resolved index name, also the instance ID.
	IndexName string
	// IndexUUID keys all store documents for this index.
	IndexUUID string
	// PolicyID references the policy governing this index.
	PolicyID string
	// Policy is the resolved policy document.
	Policy policy.Policy
	// DesiredFSMState is stopped when the scheduler job is disabled,
	// action_pending otherwise.
	DesiredFSMState string
	// IntervalMinutes is the scheduler job interval.
	IntervalMinutes int
}

// ManagedIndexObservedState holds the last fetched state record and
// scheduler job of the index.
type ManagedIndexObservedState struct {
	// Record is the index's state record from the store.
	Record metadata.ManagedIndexMetadata
	// HasRecord is false until the record exists in the store.
	HasRecord bool
	// Job is the scheduler job document of the index.
	Job scheduler.JobDocument
	// HasJob is false until the job document exists in the store.
	HasJob bool
	// LastStateChange is the timestamp of the last observed state change.
	LastStateChange int64
}

// Ensure it implements the ObservedState interface
func (m ManagedIndexObservedState) IsObservedState() {}

// Verify at compile time that we implement fsm.FSMInstance
var _ publicfsm.FSMInstance = (*ManagedIndexInstance)(nil)

// ManagedIndexInstance drives one managed index through its policy.
type ManagedIndexInstance struct {
	// This embeds the "BaseFSMInstance" which handles lifecycle states,
	// desired state, removal, etc.
	baseFSMInstance *internal_fsm.BaseFSMInstance

	// ObservedState: last fetched record and job, updated in reconcile
	ObservedState ManagedIndexObservedState

	// recorder appends every persisted record to the audit history.
	// It may be nil, in which case no history is written.
	recorder *history.Recorder

	config ManagedIndexConfig
}

// GetLastObservedState returns the last fetched record and job
func (m *ManagedIndexInstance) GetLastObservedState() publicfsm.ObservedState {
	return m.ObservedState
}

// GetConfig returns the per-index configuration.
func (m *ManagedIndexInstance) GetConfig() ManagedIndexConfig {
	return m.config
}

// SetConfig replaces the per-index configuration. The manager calls this
// when the attachment or the policy document changed.
func (m *ManagedIndexInstance) SetConfig(cfg ManagedIndexConfig) {
	m.config = cfg
}
