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

// Package action groups steps into the resumable units a policy state is
// made of. An action owns an ordered step list and a retry budget;
// StepToExecute positions execution from persisted step metadata, so a
// restarted process resumes exactly where the record says it stopped.
package action

import (
	"fmt"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/policy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/step"
)

// Action is one resumable unit of lifecycle work within a policy state.
type Action interface {
	// Name returns the action identifier persisted in action metadata.
	Name() string
	// Steps returns the ordered step list.
	Steps() []step.Step
	// StepToExecute returns the step the record points at: the first step
	// when the record carries no step of this action, the failed or
	// unfinished step for a retry, or the successor of a completed step.
	// It returns nil once the last step has completed.
	StepToExecute(m metadata.ManagedIndexMetadata) step.Step
	// IsFinished reports whether the record shows the last step completed.
	IsFinished(m metadata.ManagedIndexMetadata) bool
	// MaxRetries is the per-action retry budget.
	MaxRetries() int
}

// Build constructs the action for one policy action spec, bound to a
// concrete index.
func Build(spec policy.ActionSpec, provider cluster.Provider, index string) (Action, error) {
	switch spec.Type {
	case policy.ActionOpen:
		return NewOpenAction(provider, index, spec), nil
	case policy.ActionClose:
		return NewCloseAction(provider, index, spec), nil
	case policy.ActionRollover:
		if spec.RolloverAlias == "" {
			return nil, fmt.Errorf("rollover action for index %s has no alias", index)
		}

		return NewRolloverAction(provider, spec), nil
	default:
		return nil, fmt.Errorf("unknown action type %q", spec.Type)
	}
}

type baseAction struct {
	name       string
	steps      []step.Step
	maxRetries int
}

func (a *baseAction) Name() string {
	return a.name
}

func (a *baseAction) Steps() []step.Step {
	return a.steps
}

func (a *baseAction) MaxRetries() int {
	return a.maxRetries
}

func (a *baseAction) StepToExecute(m metadata.ManagedIndexMetadata) step.Step {
	if m.Step == nil {
		return a.steps[0]
	}

	for i, s := range a.steps {
		if s.Name() != m.Step.Name {
			continue
		}
		if m.Step.Status != metadata.StepStatusCompleted {
			return s
		}
		if i+1 < len(a.steps) {
			return a.steps[i+1]
		}

		return nil
	}

	// The record points at a step of another action.
	return a.steps[0]
}

func (a *baseAction) IsFinished(m metadata.ManagedIndexMetadata) bool {
	if m.Step == nil || len(a.steps) == 0 {
		return false
	}

	last := a.steps[len(a.steps)-1]

	return m.Step.Name == last.Name() && m.Step.Status == metadata.StepStatusCompleted
}
