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

// NameAttemptClose is the step identifier of the close operation.
const NameAttemptClose = "attempt_close"

// AttemptCloseStep closes an open index.
type AttemptCloseStep struct {
	baseStep

	provider cluster.Provider
	index    string
}

// NewAttemptCloseStep builds the close step for the given index.
func NewAttemptCloseStep(provider cluster.Provider, index string) *AttemptCloseStep {
	return &AttemptCloseStep{
		baseStep: newBaseStep(NameAttemptClose),
		provider: provider,
		index:    index,
	}
}

// Execute issues the close call and classifies the outcome.
func (s *AttemptCloseStep) Execute(ctx context.Context) {
	defer s.guard()

	result, err := s.provider.CloseIndex(ctx, s.index)
	s.finishAck(
		fmt.Sprintf("Failed to close index [index=%s]", s.index),
		fmt.Sprintf("Successfully closed index [index=%s]", s.index),
		result, err,
	)
}
