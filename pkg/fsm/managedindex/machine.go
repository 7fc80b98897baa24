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
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	internal_fsm "github.com/united-manufacturing-hub/ilm-core/internal/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/history"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
)

// NewManagedIndexInstance creates a new driver instance with the standard
// transitions. The recorder may be nil when no audit history is wanted.
func NewManagedIndexInstance(cfg ManagedIndexConfig, recorder *history.Recorder) *ManagedIndexInstance {
	fsmCfg := internal_fsm.BaseFSMInstanceConfig{
		ID: cfg.IndexName,
		// The manager sets "action_pending" for enabled jobs and "stopped"
		// for disabled ones.
		DesiredFSMState:              cfg.DesiredFSMState,
		OperationalStateAfterCreate:  OperationalStateStopped,
		OperationalStateBeforeRemove: OperationalStateStopped,
		OperationalTransitions: []fsm.EventDesc{
			// from stopped -> action_pending when the job is enabled
			{
				Name: EventStart,
				Src:  []string{OperationalStateStopped},
				Dst:  OperationalStateActionPending,
			},

			// from any operational state -> stopped when the job is disabled
			{
				Name: EventStop,
				Src: []string{
					OperationalStateActionPending,
					OperationalStateStepRunning,
					OperationalStateStepCompleted,
					OperationalStateStepFailed,
					OperationalStateActionCompleted,
					OperationalStateActionFailed,
				},
				Dst: OperationalStateStopped,
			},

			// the driver starts the first step, the next step of the action,
			// or retries a failed step within the budget
			{
				Name: EventStepStart,
				Src: []string{
					OperationalStateActionPending,
					OperationalStateStepCompleted,
					OperationalStateStepFailed,
				},
				Dst: OperationalStateStepRunning,
			},

			// step execution outcome
			{
				Name: EventStepSucceed,
				Src:  []string{OperationalStateStepRunning},
				Dst:  OperationalStateStepCompleted,
			},
			{
				Name: EventStepError,
				Src:  []string{OperationalStateStepRunning},
				Dst:  OperationalStateStepFailed,
			},

			// last action of the terminal policy state completed; the
			// lifecycle parks in action_completed
			{
				Name: EventActionDone,
				Src:  []string{OperationalStateStepCompleted},
				Dst:  OperationalStateActionCompleted,
			},

			// retry budget exhausted, or the record already carries a failed
			// marker when the driver picks the index up
			{
				Name: EventActionError,
				Src: []string{
					OperationalStateStepFailed,
					OperationalStateActionPending,
				},
				Dst: OperationalStateActionFailed,
			},

			// a finished non-terminal action moves on to the next action or
			// the next policy state
			{
				Name: EventNextAction,
				Src:  []string{OperationalStateStepCompleted},
				Dst:  OperationalStateActionPending,
			},

			// the recovery pipeline rewrote the record, resume work
			{
				Name: EventRetryArmed,
				Src:  []string{OperationalStateActionFailed},
				Dst:  OperationalStateActionPending,
			},
		},
	}

	baseFSM := internal_fsm.NewBaseFSMInstance(
		fsmCfg,
		backoff.DefaultConfig(cfg.IndexName, logger.For(cfg.IndexName)),
		logger.For(cfg.IndexName),
	)

	instance := &ManagedIndexInstance{
		baseFSMInstance: baseFSM,
		recorder:        recorder,
		config:          cfg,
	}

	instance.registerCallbacks()

	metrics.InitErrorCounter(metrics.ComponentIndexInstance, cfg.IndexName)

	return instance
}

// SetDesiredFSMState safely updates the desired state but ensures that it is
// a reasonable top-level state: only parked or managing, never one of the
// intermediate step states.
func (m *ManagedIndexInstance) SetDesiredFSMState(state string) error {
	if state != OperationalStateActionPending &&
		state != OperationalStateStopped {
		return fmt.Errorf("invalid desired state: %s (only '%s' or '%s' allowed)",
			state, OperationalStateActionPending, OperationalStateStopped)
	}
	m.baseFSMInstance.SetDesiredFSMState(state)
	return nil
}

// GetCurrentFSMState returns the current operational or lifecycle state
func (m *ManagedIndexInstance) GetCurrentFSMState() string {
	return m.baseFSMInstance.GetCurrentFSMState()
}

// GetDesiredFSMState returns what we want operationally
func (m *ManagedIndexInstance) GetDesiredFSMState() string {
	return m.baseFSMInstance.GetDesiredFSMState()
}

// Remove initiates the removal lifecycle
func (m *ManagedIndexInstance) Remove(ctx context.Context) error {
	return m.baseFSMInstance.Remove(ctx)
}

func (m *ManagedIndexInstance) IsRemoved() bool {
	return m.baseFSMInstance.IsRemoved()
}

func (m *ManagedIndexInstance) IsRemoving() bool {
	return m.baseFSMInstance.IsRemoving()
}

func (m *ManagedIndexInstance) IsStopped() bool {
	return m.baseFSMInstance.GetCurrentFSMState() == OperationalStateStopped
}

// WantsToBeStopped reports whether the manager parked the instance.
func (m *ManagedIndexInstance) WantsToBeStopped() bool {
	return m.baseFSMInstance.GetDesiredFSMState() == OperationalStateStopped
}

// PrintState logs the current reconcile-relevant state of the instance.
func (m *ManagedIndexInstance) PrintState() {
	m.baseFSMInstance.GetLogger().Debugf("Current state: %s, Desired state: %s, Policy: %s, Record present: %t",
		m.baseFSMInstance.GetCurrentFSMState(), m.baseFSMInstance.GetDesiredFSMState(),
		m.config.PolicyID, m.ObservedState.HasRecord)
}

// GetExpectedMaxP95ExecutionTimePerInstance returns the per-tick time
// budget of one instance. Step execution dominates it.
func (m *ManagedIndexInstance) GetExpectedMaxP95ExecutionTimePerInstance() time.Duration {
	return constants.DefaultExpectedMaxP95ExecutionTimePerInstance
}

// GetError returns the last reconcile error of the instance.
func (m *ManagedIndexInstance) GetError() error {
	return m.baseFSMInstance.GetError()
}
