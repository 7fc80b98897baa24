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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
)

// BaseFSMInstance implements the shared logic for all FSM-based instances.
// Concrete instances (e.g., the managed-index instance) embed or wrap this
// to handle their domain logic.
type BaseFSMInstance struct {
	cfg BaseFSMInstanceConfig

	// mu is a mutex for protecting concurrent access to fields
	mu sync.RWMutex

	// fsm is the finite state machine that manages instance state
	fsm *fsm.FSM

	// Registered "enter_state" callbacks, purely for logging or minor side-effects.
	callbacks map[string]fsm.Callback

	// Handles exponential backoff for repeated transient errors,
	// culminating in a "permanent failure" if max retries are exceeded.
	backoffManager *backoff.BackoffManager

	// logger is the logger for the FSM
	logger *zap.SugaredLogger

	// Each concrete instance must provide these actions
	FSMInstanceActions

	// Each concrete instance must provide these reconcile methods
	FSMInstanceReconcile
}

// BaseFSMInstanceConfig holds parameters for setting up the base FSM.
type BaseFSMInstanceConfig struct {
	ID              string
	DesiredFSMState string

	// OperationalStateAfterCreate is the operational state after the create event
	OperationalStateAfterCreate string
	// OperationalStateBeforeRemove is the operational state before the remove event
	// The lifecycle state removing is only allowed from this state
	// This is usually "stopped"
	OperationalStateBeforeRemove string
	// OperationalStateBeforeBeforeRemove is the operational state before
	// OperationalStateBeforeRemove, usually "stopping". It can be left empty
	// when there is no equivalent.
	OperationalStateBeforeBeforeRemove string

	// OperationalTransitions are the transitions that are allowed in the operational state
	OperationalTransitions []fsm.EventDesc

	UpdateObservedStateTimeout time.Duration
}

// NewBaseFSMInstance sets up a new FSM with the standard lifecycle transitions plus
// your operational transitions.
func NewBaseFSMInstance(cfg BaseFSMInstanceConfig, backoffConfig backoff.Config, logger *zap.SugaredLogger) *BaseFSMInstance {
	baseInstance := &BaseFSMInstance{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	baseInstance.backoffManager = backoff.NewBackoffManager(backoffConfig)

	// Lifecycle transitions + user-supplied operational transitions
	events := []fsm.EventDesc{
		{Name: LifecycleEventCreate, Src: []string{LifecycleStateToBeCreated}, Dst: LifecycleStateCreating},
		{Name: LifecycleEventCreateDone, Src: []string{LifecycleStateCreating}, Dst: cfg.OperationalStateAfterCreate},
		{Name: LifecycleEventRemove, Src: []string{cfg.OperationalStateBeforeRemove}, Dst: LifecycleStateRemoving},
		{Name: LifecycleEventRemoveDone, Src: []string{LifecycleStateRemoving}, Dst: LifecycleStateRemoved},
	}
	events = append(events, cfg.OperationalTransitions...)

	baseInstance.fsm = fsm.NewFSM(
		LifecycleStateToBeCreated,
		fsm.Events(events),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				// Call registered callback for this state if exists
				if cb, ok := baseInstance.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	// Register default lifecycle callbacks

	baseInstance.AddCallback("enter_"+LifecycleStateRemoved, func(ctx context.Context, e *fsm.Event) {
		baseInstance.logger.Debugf("Entering removed state for FSM %s", baseInstance.cfg.ID)
	})

	baseInstance.AddCallback("enter_"+LifecycleStateCreating, func(ctx context.Context, e *fsm.Event) {
		baseInstance.logger.Debugf("Entering creating state for FSM %s", baseInstance.cfg.ID)
	})

	baseInstance.AddCallback("enter_"+LifecycleStateToBeCreated, func(ctx context.Context, e *fsm.Event) {
		baseInstance.logger.Debugf("Entering to be created state for FSM %s", baseInstance.cfg.ID)
	})

	baseInstance.AddCallback("enter_"+LifecycleStateRemoving, func(ctx context.Context, e *fsm.Event) {
		baseInstance.logger.Debugf("Entering removing state for FSM %s", baseInstance.cfg.ID)
	})

	return baseInstance
}

// AddCallback adds a callback for a given event name
func (s *BaseFSMInstance) AddCallback(eventName string, callback fsm.Callback) {
	s.callbacks[eventName] = callback
}

// GetError returns the last error that occurred during a transition
func (s *BaseFSMInstance) GetError() error {
	return s.backoffManager.GetLastError()
}

// SetError sets the last error that occurred during a transition
// and returns true if the error is considered a permanent failure
func (s *BaseFSMInstance) SetError(err error, tick uint64) bool {
	isPermanent := s.backoffManager.SetError(err, tick)
	if isPermanent {
		sentry.ReportFSMErrorf(s.logger, s.cfg.ID, "BaseFSM", "permanent_failure", "FSM has reached permanent failure state: %v", err)
	}
	return isPermanent
}

// SetDesiredFSMState safely updates the desired state
// but does not check if the desired state is valid
func (s *BaseFSMInstance) SetDesiredFSMState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DesiredFSMState = state
	s.logger.Infof("Setting desired state of FSM %s to %s", s.cfg.ID, state)
}

// GetDesiredFSMState returns the desired state of the FSM
func (s *BaseFSMInstance) GetDesiredFSMState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.DesiredFSMState
}

// GetCurrentFSMState returns the current state of the FSM
func (s *BaseFSMInstance) GetCurrentFSMState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fsm.Current()
}

// SetCurrentFSMState sets the current state of the FSM
// This should only be called in tests
func (s *BaseFSMInstance) SetCurrentFSMState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fsm.SetState(state)
}

// SendEvent sends an event to the FSM and returns whether the event was processed.
//
// Problem: Context expiration during FSM transitions can lead to deadlocks:
// - When a context expires mid-transition, the FSM's internal transition state remains set
// - This causes future events to fail with "event X inappropriate because previous transition did not complete"
// - After multiple retries, the backoff manager marks the instance as permanently failed
// - The entire instance then gets unnecessarily removed from the system
//
// Solution: This method implements protective measures to prevent deadlocks:
// 1. Rejects event sending if the context is already cancelled
// 2. Refuses to start transitions when insufficient time remains before a deadline
func (s *BaseFSMInstance) SendEvent(ctx context.Context, eventName string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < constants.ExpectedMaxP95ExecutionTimePerEvent {
			return fmt.Errorf("context deadline exceeded")
		}
	}

	return s.fsm.Event(ctx, eventName, args...)
}

// ClearError clears any error state and resets the backoff
func (s *BaseFSMInstance) ClearError() {
	s.backoffManager.Reset()
}

// IsDeadlineExceededAndHandle records a context deadline expiry as a
// transient error so the backoff manager retries on a later tick. It
// returns true when the error was a deadline expiry and has been handled.
func (s *BaseFSMInstance) IsDeadlineExceededAndHandle(err error, tick uint64, operation string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		s.SetError(err, tick)
		s.logger.Warnf("Context deadline exceeded during %s for FSM %s, will retry", operation, s.cfg.ID)
		return true
	}

	return false
}

// HandlePermanentError drives an instance that has exhausted its retry
// budget out of the system. While the instance can still move through the
// normal lifecycle, removeFn is used; once it is already shut down (or a
// previous removal attempt failed), forceRemoveFn cleans up directly. The
// returned error is the permanent failure itself so the manager evicts the
// instance on the next pass.
func (s *BaseFSMInstance) HandlePermanentError(ctx context.Context, backErr error, isShutdownFn func() bool, removeFn func(ctx context.Context) error, forceRemoveFn func(ctx context.Context) error) (error, bool) {
	if isShutdownFn() {
		s.logger.Errorf("FSM %s is permanently failed and shut down, force removing: %v", s.cfg.ID, backErr)
		if err := forceRemoveFn(ctx); err != nil {
			return fmt.Errorf("failed to force remove %s: %w", s.cfg.ID, err), false
		}

		return backErr, true
	}

	s.logger.Errorf("FSM %s is permanently failed, removing: %v", s.cfg.ID, backErr)
	if err := removeFn(ctx); err != nil {
		if forceErr := forceRemoveFn(ctx); forceErr != nil {
			return fmt.Errorf("failed to force remove %s after removal failed: %w", s.cfg.ID, forceErr), false
		}

		return backErr, true
	}

	return nil, true
}

// Remove attempts a normal removal via the lifecycle. If we see a permanent error
// or if removal fails, we can do a forced removal (skipping graceful steps).
func (s *BaseFSMInstance) Remove(ctx context.Context) error {
	// Set the desired state to the state before remove
	s.SetDesiredFSMState(s.cfg.OperationalStateBeforeRemove)
	return s.SendEvent(ctx, LifecycleEventRemove)
}

// IsRemoved returns true if the instance has been removed
func (s *BaseFSMInstance) IsRemoved() bool {
	return s.fsm.Current() == LifecycleStateRemoved
}

// IsRemoving returns true if the instance is in the removing state
func (s *BaseFSMInstance) IsRemoving() bool {
	return s.fsm.Current() == LifecycleStateRemoving
}

// IsStopping returns true if the FSM is in a stopping state
func (s *BaseFSMInstance) IsStopping() bool {
	return s.fsm.Current() == s.cfg.OperationalStateBeforeBeforeRemove
}

// IsStopped returns true if the FSM is in a stopped state
func (s *BaseFSMInstance) IsStopped() bool {
	return s.fsm.Current() == s.cfg.OperationalStateBeforeRemove
}

// ShouldSkipReconcileBecauseOfError returns true if the reconcile should be skipped
// because of an error that occurred in the last reconciliation and the backoff
// period has not yet elapsed, or if the FSM is in permanent failure state
func (s *BaseFSMInstance) ShouldSkipReconcileBecauseOfError(tick uint64) bool {
	return s.backoffManager.ShouldSkipOperation(tick)
}

// ResetState clears the error and backoff after a successful reconcile
func (s *BaseFSMInstance) ResetState() {
	s.backoffManager.Reset()
}

// IsPermanentlyFailed returns true if the FSM has reached a permanent failure state
// after exceeding the maximum retry attempts
func (s *BaseFSMInstance) IsPermanentlyFailed() bool {
	return s.backoffManager.IsPermanentlyFailed()
}

// GetBackoffError returns a structured error that includes backoff information
// This will return a permanent failure error or a temporary backoff error
// depending on the current state
func (s *BaseFSMInstance) GetBackoffError(tick uint64) error {
	return s.backoffManager.GetBackoffError(tick)
}

func (s *BaseFSMInstance) GetID() string {
	return s.cfg.ID
}

func (s *BaseFSMInstance) GetLogger() *zap.SugaredLogger {
	return s.logger
}

func (s *BaseFSMInstance) GetLastError() error {
	return s.backoffManager.GetLastError()
}

// Create provides a default implementation that can be overridden
func (s *BaseFSMInstance) Create(ctx context.Context, services serviceregistry.Provider) error {
	return fmt.Errorf("create action not implemented for %s", s.cfg.ID)
}

// RemoveAction provides a default implementation that can be overridden.
// It is separate from the Remove method, which drives removal through
// state transitions.
func (s *BaseFSMInstance) RemoveAction(ctx context.Context, services serviceregistry.Provider) error {
	return fmt.Errorf("remove action not implemented for %s", s.cfg.ID)
}

// Start provides a default implementation that can be overridden
func (s *BaseFSMInstance) Start(ctx context.Context, services serviceregistry.Provider) error {
	return fmt.Errorf("start action not implemented for %s", s.cfg.ID)
}

// Stop provides a default implementation that can be overridden
func (s *BaseFSMInstance) Stop(ctx context.Context, services serviceregistry.Provider) error {
	return fmt.Errorf("stop action not implemented for %s", s.cfg.ID)
}

// UpdateObservedState provides a default implementation that can be overridden
func (s *BaseFSMInstance) UpdateObservedState(ctx context.Context, services serviceregistry.Provider, tick uint64) error {
	return fmt.Errorf("updateObservedState action not implemented for %s", s.cfg.ID)
}
