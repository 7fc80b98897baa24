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

// Package step defines the smallest unit of lifecycle work. A step wraps a
// single cluster operation behind a hard failure boundary: Execute classifies
// every outcome into a step status and never lets an error or panic escape,
// and UpdatedMetadata merges the outcome into a state record without touching
// the cluster again.
package step

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
)

// Step is one executable unit of an action. Execute performs at most one
// external operation and records the outcome internally; it must not return
// or panic an error. UpdatedMetadata is a pure merge of that outcome into
// the given record.
type Step interface {
	Name() string
	Execute(ctx context.Context)
	Status() metadata.StepStatus
	UpdatedMetadata(m metadata.ManagedIndexMetadata) metadata.ManagedIndexMetadata
}

type baseStep struct {
	name   string
	log    *zap.SugaredLogger
	status metadata.StepStatus
	info   map[string]string
}

func newBaseStep(name string) baseStep {
	return baseStep{
		name:   name,
		log:    logger.For(logger.ComponentIndexInstance),
		status: metadata.StepStatusStarting,
	}
}

// Name returns the step identifier persisted in step metadata.
func (s *baseStep) Name() string {
	return s.name
}

// Status returns the outcome of the last Execute, or starting before the
// first one.
func (s *baseStep) Status() metadata.StepStatus {
	return s.status
}

// guard is the failure boundary of Execute. A panicking provider is treated
// like any other failed operation.
func (s *baseStep) guard() {
	if r := recover(); r != nil {
		s.log.Errorf("step %s panicked: %v", s.name, r)
		s.fail(fmt.Sprintf("Step %s failed", s.name), fmt.Sprintf("panic: %v", r))
	}
}

func (s *baseStep) complete(message string) {
	s.status = metadata.StepStatusCompleted
	s.info = map[string]string{metadata.InfoKeyMessage: message}
}

func (s *baseStep) conditionNotMet(message string) {
	s.status = metadata.StepStatusConditionNotMet
	s.info = map[string]string{metadata.InfoKeyMessage: message}
}

func (s *baseStep) fail(message, cause string) {
	s.status = metadata.StepStatusFailed
	s.info = map[string]string{
		metadata.InfoKeyMessage: message,
		metadata.InfoKeyCause:   cause,
	}
}

// finishAck classifies an acknowledged-style provider result. Errors and
// unacknowledged responses both fail the step; the diagnostic cause of a
// transport failure is the innermost wrapped message, everything else keeps
// the error's own message.
func (s *baseStep) finishAck(failedMessage, okMessage string, result cluster.AckResult, err error) {
	switch {
	case err != nil:
		s.log.Warnf("step %s failed: %v", s.name, err)
		s.fail(failedMessage, causeOf(err))
	case !result.Acknowledged:
		s.log.Warnf("step %s was not acknowledged", s.name)
		s.fail(failedMessage, "not acknowledged")
	default:
		s.complete(okMessage)
	}
}

// UpdatedMetadata merges the step outcome into the record. The step start
// time is preserved while the same step is still in flight, so retries of a
// failed step keep their original start.
func (s *baseStep) UpdatedMetadata(m metadata.ManagedIndexMetadata) metadata.ManagedIndexMetadata {
	out := m.WithStep(&metadata.StepMetadata{
		Name:      s.name,
		StartTime: s.startTime(m),
		Status:    s.status,
	})

	info := make(map[string]string, len(s.info))
	for k, v := range s.info {
		info[k] = v
	}

	return out.WithInfo(info)
}

func (s *baseStep) startTime(m metadata.ManagedIndexMetadata) int64 {
	if m.Step != nil && m.Step.Name == s.name && m.Step.Status != metadata.StepStatusCompleted {
		return m.Step.StartTime
	}

	return metadata.NowMillis()
}

func causeOf(err error) string {
	if cluster.IsRemoteError(err) {
		return backoff.ExtractOriginalError(err).Error()
	}

	return err.Error()
}
