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

// NameAttemptOpen is the step identifier of the open operation.
const NameAttemptOpen = "attempt_open"

// AttemptOpenStep opens a closed index.
type AttemptOpenStep struct {
	baseStep

	provider cluster.Provider
	index    string
}

// NewAttemptOpenStep builds the open step for the given index.
func NewAttemptOpenStep(provider cluster.Provider, index string) *AttemptOpenStep {
	return &AttemptOpenStep{
		baseStep: newBaseStep(NameAttemptOpen),
		provider: provider,
		index:    index,
	}
}

// Execute issues the open call and classifies the outcome.
func (s *AttemptOpenStep) Execute(ctx context.Context) {
	defer s.guard()

	result, err := s.provider.OpenIndex(ctx, s.index)
	s.finishAck(
		fmt.Sprintf("Failed to open index [index=%s]", s.index),
		fmt.Sprintf("Successfully opened index [index=%s]", s.index),
		result, err,
	)
}
