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

// NameClose is the action identifier of the close action.
const NameClose = "close"

// CloseAction closes an open index. It consists of the single attempt_close
// step.
type CloseAction struct {
	baseAction
}

// NewCloseAction builds the close action for the given index.
func NewCloseAction(provider cluster.Provider, index string, spec policy.ActionSpec) *CloseAction {
	return &CloseAction{
		baseAction: baseAction{
			name:       NameClose,
			steps:      []step.Step{step.NewAttemptCloseStep(provider, index)},
			maxRetries: spec.Retry.MaxRetries,
		},
	}
}
