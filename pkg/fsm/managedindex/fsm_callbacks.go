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

	"github.com/looplab/fsm"
)

// registerCallbacks sets up logging on entering states.
func (m *ManagedIndexInstance) registerCallbacks() {
	m.baseFSMInstance.AddCallback("enter_"+OperationalStateStopped, func(ctx context.Context, e *fsm.Event) {
		m.baseFSMInstance.GetLogger().Infof("Managed index %s parked", m.baseFSMInstance.GetID())
	})

	m.baseFSMInstance.AddCallback("enter_"+OperationalStateActionPending, func(ctx context.Context, e *fsm.Event) {
		m.baseFSMInstance.GetLogger().Debugf("Managed index %s entered state: action_pending", m.baseFSMInstance.GetID())
	})

	m.baseFSMInstance.AddCallback("enter_"+OperationalStateStepRunning, func(ctx context.Context, e *fsm.Event) {
		m.baseFSMInstance.GetLogger().Debugf("Managed index %s entered state: step_running", m.baseFSMInstance.GetID())
	})

	m.baseFSMInstance.AddCallback("enter_"+OperationalStateStepFailed, func(ctx context.Context, e *fsm.Event) {
		m.baseFSMInstance.GetLogger().Warnf("Managed index %s entered state: step_failed", m.baseFSMInstance.GetID())
	})

	m.baseFSMInstance.AddCallback("enter_"+OperationalStateActionCompleted, func(ctx context.Context, e *fsm.Event) {
		m.baseFSMInstance.GetLogger().Infof("Managed index %s entered state: action_completed", m.baseFSMInstance.GetID())
	})

	m.baseFSMInstance.AddCallback("enter_"+OperationalStateActionFailed, func(ctx context.Context, e *fsm.Event) {
		m.baseFSMInstance.GetLogger().Errorf("Managed index %s entered state: action_failed", m.baseFSMInstance.GetID())
	})
}
