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

package step_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/step"
)

var _ = Describe("Steps", func() {
	var (
		ctx      context.Context
		provider *cluster.MemoryProvider
	)

	BeforeEach(func() {
		ctx = context.Background()
		provider = cluster.NewMemoryProvider("logs-000001", "metrics-000001")
	})

	Describe("AttemptOpenStep", func() {
		It("completes when the cluster acknowledges", func() {
			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusCompleted))

			updated := s.UpdatedMetadata(metadata.ManagedIndexMetadata{IndexName: "logs-000001"})
			Expect(updated.Step).NotTo(BeNil())
			Expect(updated.Step.Name).To(Equal(step.NameAttemptOpen))
			Expect(updated.Step.Status).To(Equal(metadata.StepStatusCompleted))
			Expect(updated.Info[metadata.InfoKeyMessage]).To(ContainSubstring("Successfully opened"))
			Expect(updated.Info).NotTo(HaveKey(metadata.InfoKeyCause))
		})

		It("fails when the cluster does not acknowledge", func() {
			provider.Unacknowledge("open", "logs-000001")

			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusFailed))

			updated := s.UpdatedMetadata(metadata.ManagedIndexMetadata{IndexName: "logs-000001"})
			Expect(updated.Info[metadata.InfoKeyMessage]).To(ContainSubstring("Failed to open"))
			Expect(updated.Info[metadata.InfoKeyCause]).To(Equal("not acknowledged"))
		})

		It("surfaces a plain error's own message as the cause", func() {
			provider.FailOperation("open", "logs-000001", errors.New("shard allocation pending"))

			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusFailed))

			updated := s.UpdatedMetadata(metadata.ManagedIndexMetadata{IndexName: "logs-000001"})
			Expect(updated.Info[metadata.InfoKeyCause]).To(Equal("shard allocation pending"))
		})

		It("surfaces the innermost message of a remote error chain", func() {
			inner := errors.New("nested")
			wrapped := cluster.NewRemoteError("open", fmt.Errorf("dispatch failed: %w", inner))
			provider.FailOperation("open", "logs-000001", wrapped)

			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusFailed))

			updated := s.UpdatedMetadata(metadata.ManagedIndexMetadata{IndexName: "logs-000001"})
			Expect(updated.Info[metadata.InfoKeyCause]).To(Equal("nested"))
		})
	})

	Describe("AttemptCloseStep", func() {
		It("completes against an existing index", func() {
			s := step.NewAttemptCloseStep(provider, "metrics-000001")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusCompleted))
		})

		It("fails against a missing index", func() {
			s := step.NewAttemptCloseStep(provider, "missing-000001")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusFailed))

			updated := s.UpdatedMetadata(metadata.ManagedIndexMetadata{IndexName: "missing-000001"})
			Expect(updated.Info[metadata.InfoKeyCause]).To(ContainSubstring("no such index"))
		})
	})

	Describe("AttemptRolloverStep", func() {
		BeforeEach(func() {
			provider.AddIndex("logs-write", "uuid-logs-write")
		})

		It("completes when the alias rolls over", func() {
			s := step.NewAttemptRolloverStep(provider, "logs-write")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusCompleted))
		})

		It("reports condition not met when acknowledged without rolling over", func() {
			provider.ConditionsNotMet("logs-write")

			s := step.NewAttemptRolloverStep(provider, "logs-write")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusConditionNotMet))

			updated := s.UpdatedMetadata(metadata.ManagedIndexMetadata{IndexName: "logs-000001"})
			Expect(updated.Step.Status).To(Equal(metadata.StepStatusConditionNotMet))
			Expect(updated.Info[metadata.InfoKeyMessage]).To(ContainSubstring("conditions not met"))
			Expect(updated.Info).NotTo(HaveKey(metadata.InfoKeyCause))
		})

		It("fails when the rollover is not acknowledged", func() {
			provider.Unacknowledge("rollover", "logs-write")

			s := step.NewAttemptRolloverStep(provider, "logs-write")
			s.Execute(ctx)

			Expect(s.Status()).To(Equal(metadata.StepStatusFailed))
		})
	})

	Describe("UpdatedMetadata", func() {
		It("keeps the start time while the same step is still running", func() {
			record := metadata.ManagedIndexMetadata{
				IndexName: "logs-000001",
				Step: &metadata.StepMetadata{
					Name:      step.NameAttemptOpen,
					StartTime: 1234,
					Status:    metadata.StepStatusFailed,
				},
			}

			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)

			updated := s.UpdatedMetadata(record)
			Expect(updated.Step.StartTime).To(Equal(int64(1234)))
		})

		It("starts a fresh timestamp after the previous step completed", func() {
			record := metadata.ManagedIndexMetadata{
				IndexName: "logs-000001",
				Step: &metadata.StepMetadata{
					Name:      step.NameAttemptOpen,
					StartTime: 1234,
					Status:    metadata.StepStatusCompleted,
				},
			}

			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)

			updated := s.UpdatedMetadata(record)
			Expect(updated.Step.StartTime).NotTo(Equal(int64(1234)))
		})

		It("does not mutate the input record", func() {
			record := metadata.ManagedIndexMetadata{
				IndexName: "logs-000001",
				Info:      map[string]string{metadata.InfoKeyMessage: "previous"},
			}

			s := step.NewAttemptOpenStep(provider, "logs-000001")
			s.Execute(ctx)
			s.UpdatedMetadata(record)

			Expect(record.Step).To(BeNil())
			Expect(record.Info[metadata.InfoKeyMessage]).To(Equal("previous"))
		})
	})
})
