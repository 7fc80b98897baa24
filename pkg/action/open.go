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

// NameOpen is the action identifier of the open action.
const NameOpen = "open"

// OpenAction opens a closed index. It consists of the single attempt_open
// step.
type OpenAction struct {
	baseAction
}

// NewOpenAction builds the open action for the given index.
func NewOpenAction(provider cluster.Provider, index string, spec policy.ActionSpec) *OpenAction {
	return &OpenAction{
		baseAction: baseAction{
			name:       NameOpen,
			steps:      []step.Step{step.NewAttemptOpenStep(provider, index)},
			maxRetries: spec.Retry.MaxRetries,
		},
	}
}
