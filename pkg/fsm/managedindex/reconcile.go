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
	"errors"
	"fmt"
	"time"

	internal_fsm "github.com/united-manufacturing-hub/ilm-core/internal/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/action"
	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
)

// Reconcile examines the ManagedIndexInstance and, in three steps:
//  1. Check if a previous transition failed; if so, verify whether the
//     backoff has elapsed.
//  2. Refresh the observed state (state record and scheduler job).
//  3. Attempt the required state transition by sending the appropriate event.
//
// This function is intended to be called repeatedly from the control loop.
// Over multiple calls, it converges the actual state to the desired state,
// executing at most one policy step per tick. Transitions that fail are
// retried in subsequent reconcile calls after a backoff period.
func (m *ManagedIndexInstance) Reconcile(ctx context.Context, snapshot fsm.SystemSnapshot, services serviceregistry.Provider) (err error, reconciled bool) {
	start := time.Now()
	instanceName := m.baseFSMInstance.GetID()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, instanceName, time.Since(start))
		metrics.UpdateIndexState(metrics.ComponentIndexInstance, instanceName,
			m.baseFSMInstance.GetCurrentFSMState(), m.baseFSMInstance.GetDesiredFSMState())
		if err != nil {
			m.baseFSMInstance.GetLogger().Errorf("error reconciling managed index %s: %s", instanceName, err)
			m.PrintState()
			metrics.IncErrorCount(metrics.ComponentIndexInstance, instanceName)
		}
	}()

	if ctx.Err() != nil {
		return ctx.Err(), false
	}

	// Step 1: If there's a lastError, see if we've waited enough.
	if m.baseFSMInstance.ShouldSkipReconcileBecauseOfError(snapshot.Tick) {
		backErr := m.baseFSMInstance.GetBackoffError(snapshot.Tick)
		if backoff.IsPermanentFailureError(backErr) {
			// For permanent errors the instance is taken out of the system:
			// through the normal lifecycle while it still responds, or by
			// cleaning up its store documents directly when it does not.
			return m.baseFSMInstance.HandlePermanentError(
				ctx,
				backErr,
				func() bool {
					return m.IsRemoved() || m.IsRemoving() || m.IsStopped() || m.WantsToBeStopped()
				},
				func(ctx context.Context) error {
					return m.Remove(ctx)
				},
				func(ctx context.Context) error {
					return m.forceCleanup(ctx, services)
				},
			)
		}
		m.baseFSMInstance.GetLogger().Debugf("Skipping reconcile for managed index %s: %v", instanceName, backErr)
		return nil, false
	}

	// Step 2: Refresh the observed state.
	if err = m.reconcileExternalChanges(ctx, services, snapshot.Tick); err != nil {
		if m.baseFSMInstance.IsDeadlineExceededAndHandle(err, snapshot.Tick, "refreshing observed state") {
			return nil, false
		}

		m.baseFSMInstance.SetError(err, snapshot.Tick)
		m.baseFSMInstance.GetLogger().Errorf("error refreshing observed state: %s", err)
		return nil, false // We don't want to return an error here, because we want to continue reconciling
	}

	// Step 3: Attempt to reconcile the state.
	err, reconciled = m.reconcileStateTransition(ctx, services)
	if err != nil {
		// If the instance is removed, we don't want to return an error here, because we want to continue reconciling
		if errors.Is(err, fsm.ErrInstanceRemoved) {
			return nil, false
		}

		if m.baseFSMInstance.IsDeadlineExceededAndHandle(err, snapshot.Tick, "state transition") {
			return nil, false
		}

		m.baseFSMInstance.SetError(err, snapshot.Tick)
		m.baseFSMInstance.GetLogger().Errorf("error reconciling state: %s", err)
		return nil, false // We don't want to return an error here, because we want to continue reconciling
	}

	// It went all right, so clear the error
	m.baseFSMInstance.ResetState()

	return nil, reconciled
}

// reconcileExternalChanges fetches the state record and scheduler job under
// a bounded deadline so slow store round trips never starve the loop.
func (m *ManagedIndexInstance) reconcileExternalChanges(ctx context.Context, services serviceregistry.Provider, tick uint64) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, m.baseFSMInstance.GetID()+".reconcileExternalChanges", time.Since(start))
	}()

	observedCtx, cancel := context.WithTimeout(ctx, constants.UpdateObservedStateTimeout)
	defer cancel()

	return m.UpdateObservedStateOfInstance(observedCtx, services, tick)
}

// reconcileStateTransition compares the current state with the desired state
// and, if needed, sends events to transition the FSM towards the desired
// state. Lifecycle states take precedence over operational states.
func (m *ManagedIndexInstance) reconcileStateTransition(ctx context.Context, services serviceregistry.Provider) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, m.baseFSMInstance.GetID()+".reconcileStateTransition", time.Since(start))
	}()

	currentState := m.baseFSMInstance.GetCurrentFSMState()
	desiredState := m.baseFSMInstance.GetDesiredFSMState()

	if internal_fsm.IsLifecycleState(currentState) {
		err, reconciled := m.reconcileLifecycleStates(ctx, services, currentState)
		if err != nil {
			return err, false
		}
		return nil, reconciled
	}

	if IsOperationalState(currentState) {
		err, reconciled := m.reconcileOperationalStates(ctx, services, currentState, desiredState)
		if err != nil {
			return err, false
		}
		return nil, reconciled
	}

	return fmt.Errorf("invalid state: %s", currentState), false
}

// reconcileLifecycleStates handles to_be_created, creating, removing and removed.
func (m *ManagedIndexInstance) reconcileLifecycleStates(ctx context.Context, services serviceregistry.Provider, currentState string) (err error, reconciled bool) {
	switch currentState {
	case internal_fsm.LifecycleStateToBeCreated:
		if err := m.CreateInstance(ctx, services); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, internal_fsm.LifecycleEventCreate), true

	case internal_fsm.LifecycleStateCreating:
		// Creation only writes the initial record, which CreateInstance
		// already did.
		return m.baseFSMInstance.SendEvent(ctx, internal_fsm.LifecycleEventCreateDone), true

	case internal_fsm.LifecycleStateRemoving:
		if err := m.RemoveInstance(ctx, services); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, internal_fsm.LifecycleEventRemoveDone), true

	case internal_fsm.LifecycleStateRemoved:
		// The manager will clean this up eventually
		return fsm.ErrInstanceRemoved, true

	default:
		return nil, false
	}
}

// reconcileOperationalStates drives the policy execution cycle.
func (m *ManagedIndexInstance) reconcileOperationalStates(ctx context.Context, services serviceregistry.Provider, currentState string, desiredState string) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, m.baseFSMInstance.GetID()+".reconcileOperationalStates", time.Since(start))
	}()

	switch desiredState {
	case OperationalStateActionPending:
		return m.reconcileTransitionToManaging(ctx, services, currentState)
	case OperationalStateStopped:
		return m.reconcileTransitionToStopped(ctx, currentState)
	default:
		return fmt.Errorf("invalid desired state: %s", desiredState), false
	}
}

// reconcileTransitionToStopped parks the instance, leaving the record where
// it is.
func (m *ManagedIndexInstance) reconcileTransitionToStopped(ctx context.Context, currentState string) (err error, reconciled bool) {
	if currentState == OperationalStateStopped {
		return nil, false
	}

	return m.baseFSMInstance.SendEvent(ctx, EventStop), true
}

// reconcileTransitionToManaging drives one policy transition per tick while
// the job is enabled.
func (m *ManagedIndexInstance) reconcileTransitionToManaging(ctx context.Context, services serviceregistry.Provider, currentState string) (err error, reconciled bool) {
	switch currentState {
	case OperationalStateStopped:
		if err := m.StartInstance(ctx, services); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, EventStart), true

	case OperationalStateActionPending:
		return m.reconcileActionPending(ctx, services)

	case OperationalStateStepRunning:
		return m.reconcileStepRunning(ctx, services)

	case OperationalStateStepCompleted:
		return m.reconcileStepCompleted(ctx, services)

	case OperationalStateStepFailed:
		return m.reconcileStepFailed(ctx, services)

	case OperationalStateActionCompleted:
		return m.reconcileActionCompleted()

	case OperationalStateActionFailed:
		return m.reconcileActionFailed(ctx)

	default:
		return fmt.Errorf("invalid current state: %s", currentState), false
	}
}

// reconcileActionPending positions the record on the current policy state
// and action, honoring a pending transition, and starts step execution.
func (m *ManagedIndexInstance) reconcileActionPending(ctx context.Context, services serviceregistry.Provider) (err error, reconciled bool) {
	rec := m.ObservedState.Record

	// A record that already carries a failure marker must not silently
	// resume; only recovery clears it.
	if m.ObservedState.HasRecord && rec.IsFailed() {
		return m.baseFSMInstance.SendEvent(ctx, EventActionError), true
	}

	stateName := m.targetStateName(rec)
	state, ok := m.config.Policy.StateFor(stateName)
	if !ok {
		return fmt.Errorf("policy %s has no state %s", m.config.PolicyID, stateName), false
	}

	now := metadata.NowMillis()
	entering := rec.TransitionTo != "" || rec.State == nil || rec.State.Name != stateName
	if entering {
		rec = rec.WithState(&metadata.StateMetadata{Name: stateName, StartTime: now}).
			WithAction(nil).
			WithStep(nil).
			WithTransitionTo("")
	}

	actionIdx := 0
	if rec.Action != nil {
		actionIdx = rec.Action.Index
	}

	if actionIdx >= len(state.Actions) {
		// The state has no (more) actions; move on or park in place.
		next, hasNext := m.config.Policy.NextState(stateName)
		if !hasNext {
			return nil, false
		}
		rec = rec.WithTransitionTo(next.Name)
		if err := m.persistRecord(ctx, services, rec); err != nil {
			return err, false
		}
		return nil, true
	}

	if rec.Action == nil {
		spec := state.Actions[actionIdx]
		rec = rec.WithAction(&metadata.ActionMetadata{
			Name:      string(spec.Type),
			StartTime: now,
			Index:     actionIdx,
		}).WithStep(nil)
	}

	if err := m.persistRecord(ctx, services, rec); err != nil {
		return err, false
	}

	return m.baseFSMInstance.SendEvent(ctx, EventStepStart), true
}

// reconcileStepRunning executes the current step of the current action and
// folds the outcome into the record.
func (m *ManagedIndexInstance) reconcileStepRunning(ctx context.Context, services serviceregistry.Provider) (err error, reconciled bool) {
	rec := m.ObservedState.Record

	act, err := m.currentAction(services)
	if err != nil {
		return err, false
	}

	s := act.StepToExecute(rec)
	if s == nil {
		// The record already shows the last step completed.
		return m.baseFSMInstance.SendEvent(ctx, EventStepSucceed), true
	}

	stepCtx, cancel := context.WithTimeout(ctx, constants.StepExecutionTimeout)
	s.Execute(stepCtx)
	cancel()

	rec = s.UpdatedMetadata(rec)

	switch s.Status() {
	case metadata.StepStatusFailed:
		if rec.Action != nil {
			a := *rec.Action
			a.ConsumedRetries++
			a.LastRetryTime = metadata.NowMillis()
			rec = rec.WithAction(&a)
		}
		if err := m.persistRecord(ctx, services, rec); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, EventStepError), true

	case metadata.StepStatusCompleted, metadata.StepStatusConditionNotMet:
		if err := m.persistRecord(ctx, services, rec); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, EventStepSucceed), true

	default:
		// The step did not reach a terminal status; try again next tick.
		if err := m.persistRecord(ctx, services, rec); err != nil {
			return err, false
		}
		return nil, false
	}
}

// reconcileStepCompleted decides whether the action has more steps, advances
// a finished action to the next action or policy state, and hands a finished
// lifecycle over to the terminal action_completed park.
func (m *ManagedIndexInstance) reconcileStepCompleted(ctx context.Context, services serviceregistry.Provider) (err error, reconciled bool) {
	rec := m.ObservedState.Record

	act, err := m.currentAction(nil)
	if err != nil {
		return err, false
	}

	if !act.IsFinished(rec) {
		// More steps, or a condition_not_met step that must be re-evaluated.
		return m.baseFSMInstance.SendEvent(ctx, EventStepStart), true
	}

	if rec.State == nil {
		return fmt.Errorf("record of %s has no state metadata in step_completed", m.baseFSMInstance.GetID()), false
	}

	state, ok := m.config.Policy.StateFor(rec.State.Name)
	if !ok {
		return fmt.Errorf("policy %s has no state %s", m.config.PolicyID, rec.State.Name), false
	}

	actionIdx := 0
	if rec.Action != nil {
		actionIdx = rec.Action.Index
	}

	if actionIdx+1 < len(state.Actions) {
		spec := state.Actions[actionIdx+1]
		rec = rec.WithAction(&metadata.ActionMetadata{
			Name:      string(spec.Type),
			StartTime: metadata.NowMillis(),
			Index:     actionIdx + 1,
		}).WithStep(nil)
		if err := m.persistRecord(ctx, services, rec); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, EventNextAction), true
	}

	if next, hasNext := m.config.Policy.NextState(rec.State.Name); hasNext {
		rec = rec.WithTransitionTo(next.Name).WithAction(nil).WithStep(nil)
		if err := m.persistRecord(ctx, services, rec); err != nil {
			return err, false
		}
		return m.baseFSMInstance.SendEvent(ctx, EventNextAction), true
	}

	// Last action of the policy's terminal state: the lifecycle is complete.
	return m.baseFSMInstance.SendEvent(ctx, EventActionDone), true
}

// reconcileStepFailed retries the failed step while the action's retry
// budget allows it, and gives up past the budget by marking the record
// failed.
func (m *ManagedIndexInstance) reconcileStepFailed(ctx context.Context, services serviceregistry.Provider) (err error, reconciled bool) {
	rec := m.ObservedState.Record

	act, err := m.currentAction(nil)
	if err != nil {
		return err, false
	}

	consumed := 0
	if rec.Action != nil {
		consumed = rec.Action.ConsumedRetries
	}

	// The first failure consumes no retry; the budget counts re-attempts.
	if consumed <= act.MaxRetries() {
		m.baseFSMInstance.GetLogger().Infof("Retrying step for %s (%d of %d retries consumed)",
			m.baseFSMInstance.GetID(), consumed, act.MaxRetries()+1)
		return m.baseFSMInstance.SendEvent(ctx, EventStepStart), true
	}

	rec = rec.WithRetry(&metadata.RetryInfo{Failed: true, ConsumedRetries: consumed})
	if rec.Action != nil {
		a := *rec.Action
		a.Failed = true
		rec = rec.WithAction(&a)
	}

	if err := m.persistRecord(ctx, services, rec); err != nil {
		return err, false
	}

	return m.baseFSMInstance.SendEvent(ctx, EventActionError), true
}

// reconcileActionCompleted holds a finished lifecycle in place. Only the
// last action of the policy's terminal state enters this state, so there is
// nothing left to advance.
func (m *ManagedIndexInstance) reconcileActionCompleted() (err error, reconciled bool) {
	return nil, false
}

// reconcileActionFailed waits for the recovery pipeline to rewrite the
// record and re-arms the driver once it has.
func (m *ManagedIndexInstance) reconcileActionFailed(ctx context.Context) (err error, reconciled bool) {
	if !m.ObservedState.HasRecord {
		return nil, false
	}

	if m.ObservedState.Record.IsFailed() {
		return nil, false
	}

	m.baseFSMInstance.GetLogger().Infof("Managed index %s was re-armed, resuming policy work", m.baseFSMInstance.GetID())
	return m.baseFSMInstance.SendEvent(ctx, EventRetryArmed), true
}

// targetStateName resolves the policy state the driver should be working
// in: a pending transition wins, then the recorded state, then the policy's
// default state.
func (m *ManagedIndexInstance) targetStateName(rec metadata.ManagedIndexMetadata) string {
	if rec.TransitionTo != "" {
		return rec.TransitionTo
	}
	if rec.State != nil {
		return rec.State.Name
	}

	return m.config.Policy.DefaultState
}

// currentAction rebuilds the action the record points at. The services
// parameter may be nil for decisions that never execute a step.
func (m *ManagedIndexInstance) currentAction(services serviceregistry.Provider) (action.Action, error) {
	rec := m.ObservedState.Record
	if rec.State == nil || rec.Action == nil {
		return nil, fmt.Errorf("record of %s has no action metadata", m.baseFSMInstance.GetID())
	}

	state, ok := m.config.Policy.StateFor(rec.State.Name)
	if !ok {
		return nil, fmt.Errorf("policy %s has no state %s", m.config.PolicyID, rec.State.Name)
	}
	if rec.Action.Index >= len(state.Actions) {
		return nil, fmt.Errorf("record of %s points past the actions of state %s", m.baseFSMInstance.GetID(), rec.State.Name)
	}

	var provider cluster.Provider
	if services != nil {
		provider = services.GetCluster()
	}

	return action.Build(state.Actions[rec.Action.Index], provider, m.config.IndexName)
}
