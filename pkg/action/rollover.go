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

package action

import (
	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/policy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/step"
)

// NameRollover is the action identifier of the rollover action.
const NameRollover = "rollover"

// RolloverAction rolls a write alias over to a fresh index once the cluster
// reports its rollover conditions met. Its single attempt_rollover step is
// re-evaluated on every pass while the conditions are pending.
type RolloverAction struct {
	baseAction
}

// NewRolloverAction builds the rollover action for the alias named by the
// spec.
func NewRolloverAction(provider cluster.Provider, spec policy.ActionSpec) *RolloverAction {
	return &RolloverAction{
		baseAction: baseAction{
			name:       NameRollover,
			steps:      []step.Step{step.NewAttemptRolloverStep(provider, spec.RolloverAlias)},
			maxRetries: spec.Retry.MaxRetries,
		},
	}
}
