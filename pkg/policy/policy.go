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

// Package policy models the declarative lifecycle policies indices are
// attached to: a policy is a set of named states, each state an ordered
// list of actions, each action retried within its own budget before the
// managed lifecycle is marked failed.
package policy

import (
	"fmt"
)

// ActionType is the closed set of lifecycle actions.
type ActionType string

const (
	ActionOpen     ActionType = "open"
	ActionClose    ActionType = "close"
	ActionRollover ActionType = "rollover"
)

// RetryConfig is the per-action retry budget.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int `yaml:"maxRetries" json:"maxRetries"`
}

// ActionSpec configures one action within a state.
type ActionSpec struct {
	Type  ActionType  `yaml:"type" json:"type"`
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// RolloverAlias names the write alias for rollover actions.
	RolloverAlias string `yaml:"rolloverAlias,omitempty" json:"rolloverAlias,omitempty"`
}

// Transition names the state entered once all actions of a state complete.
type Transition struct {
	StateName string `yaml:"stateName" json:"stateName"`
}

// State is one named policy state with its ordered actions.
type State struct {
	Name        string       `yaml:"name" json:"name"`
	Actions     []ActionSpec `yaml:"actions" json:"actions"`
	Transitions []Transition `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// Policy is a full lifecycle policy.
type Policy struct {
	ID           string  `yaml:"id" json:"id"`
	Description  string  `yaml:"description,omitempty" json:"description,omitempty"`
	DefaultState string  `yaml:"defaultState" json:"defaultState"`
	States       []State `yaml:"states" json:"states"`

	// SeqNo and PrimaryTerm version the policy document; records pin them
	// so a changed policy does not silently apply mid-run.
	SeqNo       int64 `yaml:"-" json:"seqNo"`
	PrimaryTerm int64 `yaml:"-" json:"primaryTerm"`
}

// Validate checks state references and the default state.
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy has no id")
	}
	if len(p.States) == 0 {
		return fmt.Errorf("policy %s has no states", p.ID)
	}

	names := make(map[string]bool, len(p.States))
	for _, s := range p.States {
		if names[s.Name] {
			return fmt.Errorf("policy %s: duplicate state %s", p.ID, s.Name)
		}
		names[s.Name] = true

		for _, a := range s.Actions {
			switch a.Type {
			case ActionOpen, ActionClose, ActionRollover:
			default:
				return fmt.Errorf("policy %s state %s: unknown action type %q", p.ID, s.Name, a.Type)
			}
		}
	}

	if !names[p.DefaultState] {
		return fmt.Errorf("policy %s: default state %s does not exist", p.ID, p.DefaultState)
	}

	for _, s := range p.States {
		for _, t := range s.Transitions {
			if !names[t.StateName] {
				return fmt.Errorf("policy %s state %s: transition to unknown state %s", p.ID, s.Name, t.StateName)
			}
		}
	}

	return nil
}

// StateFor returns the named state.
func (p Policy) StateFor(name string) (State, bool) {
	for _, s := range p.States {
		if s.Name == name {
			return s, true
		}
	}

	return State{}, false
}

// NextState returns the state entered after the given state completes all
// its actions, following the first transition. A state without transitions
// is terminal.
func (p Policy) NextState(current string) (State, bool) {
	s, ok := p.StateFor(current)
	if !ok || len(s.Transitions) == 0 {
		return State{}, false
	}

	return p.StateFor(s.Transitions[0].StateName)
}
