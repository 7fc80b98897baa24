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

// Package metadata defines the persistent per-index state record of the
// lifecycle system. A record is an immutable value: every change produces a
// new record via the With* helpers, so concurrent readers never observe a
// half-updated record. Only the policy driver writes step and action
// metadata; the recovery pipeline rewrites whole records.
package metadata

import (
	"time"
)

// StepStatus is the outcome classification of a single step execution.
type StepStatus string

const (
	StepStatusStarting        StepStatus = "starting"
	StepStatusConditionNotMet StepStatus = "condition_not_met"
	StepStatusCompleted       StepStatus = "completed"
	StepStatusFailed          StepStatus = "failed"
)

// Diagnostic map keys. "message" carries the human-readable summary,
// "cause" the innermost error message of a failed step execution.
const (
	InfoKeyMessage = "message"
	InfoKeyCause   = "cause"
)

// PendingRetryMessage is written by the recovery pipeline when it re-arms a
// failed index.
const PendingRetryMessage = "Pending retry of failed managed index"

// StateMetadata identifies the policy state an index is currently in.
type StateMetadata struct {
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
}

// ActionMetadata tracks the action currently being executed within a state.
type ActionMetadata struct {
	Name            string `json:"name"`
	StartTime       int64  `json:"startTime"`
	Index           int    `json:"index"`
	Failed          bool   `json:"failed"`
	ConsumedRetries int    `json:"consumedRetries"`
	LastRetryTime   int64  `json:"lastRetryTime"`
}

// StepMetadata tracks the step currently being executed within an action.
type StepMetadata struct {
	Name      string     `json:"name"`
	StartTime int64      `json:"startTime"`
	Status    StepStatus `json:"status"`
}

// RetryInfo is the policy-level retry bookkeeping. Failed marks the whole
// managed lifecycle as failed; ConsumedRetries counts recovery attempts.
type RetryInfo struct {
	Failed          bool `json:"failed"`
	ConsumedRetries int  `json:"consumedRetries"`
}

// ManagedIndexMetadata is the persistent, versioned snapshot of one index's
// lifecycle progress.
type ManagedIndexMetadata struct {
	IndexName string `json:"index"`
	IndexUUID string `json:"indexUuid"`

	PolicyID string `json:"policyId"`
	// PolicySeqNo and PolicyPrimaryTerm pin the policy document revision this
	// record was written against, for optimistic consistency when the policy
	// changes underneath a running index.
	PolicySeqNo       int64 `json:"policySeqNo"`
	PolicyPrimaryTerm int64 `json:"policyPrimaryTerm"`

	State  *StateMetadata  `json:"state,omitempty"`
	Action *ActionMetadata `json:"action,omitempty"`
	Step   *StepMetadata   `json:"step,omitempty"`

	Retry *RetryInfo `json:"retryInfo,omitempty"`

	// TransitionTo forces the driver into the named policy state on its next
	// run. Set by recovery and by manual overrides; cleared by the driver.
	TransitionTo string `json:"transitionTo,omitempty"`

	Info map[string]string `json:"info,omitempty"`
}

// IsFailed reports whether the record marks a failed managed lifecycle,
// either via policy-level retry info or via the current action's failed flag.
func (m ManagedIndexMetadata) IsFailed() bool {
	if m.Retry != nil && m.Retry.Failed {
		return true
	}

	return m.Action != nil && m.Action.Failed
}

// Copy returns a deep copy of the record. The nested structs are values
// behind pointers, so each is re-allocated; the info map is re-built.
func (m ManagedIndexMetadata) Copy() ManagedIndexMetadata {
	out := m

	if m.State != nil {
		state := *m.State
		out.State = &state
	}
	if m.Action != nil {
		action := *m.Action
		out.Action = &action
	}
	if m.Step != nil {
		step := *m.Step
		out.Step = &step
	}
	if m.Retry != nil {
		retry := *m.Retry
		out.Retry = &retry
	}
	if m.Info != nil {
		info := make(map[string]string, len(m.Info))
		for k, v := range m.Info {
			info[k] = v
		}
		out.Info = info
	}

	return out
}

// WithState returns a copy of the record positioned in the given state.
func (m ManagedIndexMetadata) WithState(state *StateMetadata) ManagedIndexMetadata {
	out := m.Copy()
	out.State = state

	return out
}

// WithAction returns a copy of the record with new action metadata.
func (m ManagedIndexMetadata) WithAction(action *ActionMetadata) ManagedIndexMetadata {
	out := m.Copy()
	out.Action = action

	return out
}

// WithStep returns a copy of the record with new step metadata.
func (m ManagedIndexMetadata) WithStep(step *StepMetadata) ManagedIndexMetadata {
	out := m.Copy()
	out.Step = step

	return out
}

// WithRetry returns a copy of the record with new policy-level retry info.
func (m ManagedIndexMetadata) WithRetry(retry *RetryInfo) ManagedIndexMetadata {
	out := m.Copy()
	out.Retry = retry

	return out
}

// WithTransitionTo returns a copy of the record with a forced target state.
func (m ManagedIndexMetadata) WithTransitionTo(state string) ManagedIndexMetadata {
	out := m.Copy()
	out.TransitionTo = state

	return out
}

// WithInfo returns a copy of the record with the diagnostic map replaced.
func (m ManagedIndexMetadata) WithInfo(info map[string]string) ManagedIndexMetadata {
	out := m.Copy()
	out.Info = info

	return out
}

// ForRetry builds the record the recovery pipeline persists when it re-arms
// a failed index: step metadata cleared, retry info reset, action failure
// bookkeeping zeroed, transition target set (empty resumes the current
// state) and the diagnostic info replaced by a fixed pending-retry message.
func (m ManagedIndexMetadata) ForRetry(startState string) ManagedIndexMetadata {
	out := m.Copy()

	out.Step = nil
	out.Retry = &RetryInfo{Failed: false, ConsumedRetries: 0}
	if out.Action != nil {
		out.Action.Failed = false
		out.Action.ConsumedRetries = 0
		out.Action.LastRetryTime = 0
		out.Action.StartTime = 0
	}
	out.TransitionTo = startState
	out.Info = map[string]string{InfoKeyMessage: PendingRetryMessage}

	return out
}

// NowMillis is the timestamp format used across all record fields.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
