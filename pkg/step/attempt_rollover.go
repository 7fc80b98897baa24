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

package step

import (
	"context"
	"fmt"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
)

// NameAttemptRollover is the step identifier of the rollover operation.
const NameAttemptRollover = "attempt_rollover"

// AttemptRolloverStep rolls a write alias over to a fresh index. An
// acknowledged response that did not roll over means the rollover conditions
// were not met yet; the step reports that as a retryable non-failure so the
// driver re-evaluates on the next pass.
type AttemptRolloverStep struct {
	baseStep

	provider cluster.Provider
	alias    string
}

// NewAttemptRolloverStep builds the rollover step for the given alias.
func NewAttemptRolloverStep(provider cluster.Provider, alias string) *AttemptRolloverStep {
	return &AttemptRolloverStep{
		baseStep: newBaseStep(NameAttemptRollover),
		provider: provider,
		alias:    alias,
	}
}

// Execute issues the rollover call and classifies the outcome.
func (s *AttemptRolloverStep) Execute(ctx context.Context) {
	defer s.guard()

	result, err := s.provider.RolloverAlias(ctx, s.alias)
	if err == nil && result.Acknowledged && !result.RolledOver {
		s.conditionNotMet(fmt.Sprintf("Rollover conditions not met [alias=%s]", s.alias))

		return
	}

	s.finishAck(
		fmt.Sprintf("Failed to roll over alias [alias=%s]", s.alias),
		fmt.Sprintf("Successfully rolled over alias [alias=%s]", s.alias),
		result, err,
	)
}
