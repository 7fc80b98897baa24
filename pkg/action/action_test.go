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

package action_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/action"
	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/policy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/step"
)

var _ = Describe("Actions", func() {
	var provider *cluster.MemoryProvider

	BeforeEach(func() {
		provider = cluster.NewMemoryProvider("logs-000001")
	})

	Describe("Build", func() {
		It("builds every known action type", func() {
			for _, spec := range []policy.ActionSpec{
				{Type: policy.ActionOpen},
				{Type: policy.ActionClose},
				{Type: policy.ActionRollover, RolloverAlias: "logs-write"},
			} {
				a, err := action.Build(spec, provider, "logs-000001")
				Expect(err).NotTo(HaveOccurred())
				Expect(a.Name()).To(Equal(string(spec.Type)))
				Expect(a.Steps()).To(HaveLen(1))
			}
		})

		It("rejects a rollover spec without an alias", func() {
			_, err := action.Build(policy.ActionSpec{Type: policy.ActionRollover}, provider, "logs-000001")
			Expect(err).To(MatchError(ContainSubstring("no alias")))
		})

		It("rejects an unknown action type", func() {
			_, err := action.Build(policy.ActionSpec{Type: "shrink"}, provider, "logs-000001")
			Expect(err).To(MatchError(ContainSubstring("unknown action type")))
		})

		It("carries the retry budget from the spec", func() {
			a, err := action.Build(policy.ActionSpec{
				Type:  policy.ActionOpen,
				Retry: policy.RetryConfig{MaxRetries: 7},
			}, provider, "logs-000001")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.MaxRetries()).To(Equal(7))
		})
	})

	Describe("StepToExecute", func() {
		var a action.Action

		BeforeEach(func() {
			var err error
			a, err = action.Build(policy.ActionSpec{Type: policy.ActionOpen}, provider, "logs-000001")
			Expect(err).NotTo(HaveOccurred())
		})

		It("starts at the first step on a fresh record", func() {
			s := a.StepToExecute(metadata.ManagedIndexMetadata{IndexName: "logs-000001"})
			Expect(s).NotTo(BeNil())
			Expect(s.Name()).To(Equal(step.NameAttemptOpen))
		})

		It("resumes a failed step", func() {
			record := metadata.ManagedIndexMetadata{
				IndexName: "logs-000001",
				Step: &metadata.StepMetadata{
					Name:   step.NameAttemptOpen,
					Status: metadata.StepStatusFailed,
				},
			}

			s := a.StepToExecute(record)
			Expect(s).NotTo(BeNil())
			Expect(s.Name()).To(Equal(step.NameAttemptOpen))
		})

		It("returns nil once the last step completed", func() {
			record := metadata.ManagedIndexMetadata{
				IndexName: "logs-000001",
				Step: &metadata.StepMetadata{
					Name:   step.NameAttemptOpen,
					Status: metadata.StepStatusCompleted,
				},
			}

			Expect(a.StepToExecute(record)).To(BeNil())
			Expect(a.IsFinished(record)).To(BeTrue())
		})

		It("restarts when the record points at another action's step", func() {
			record := metadata.ManagedIndexMetadata{
				IndexName: "logs-000001",
				Step: &metadata.StepMetadata{
					Name:   step.NameAttemptClose,
					Status: metadata.StepStatusCompleted,
				},
			}

			s := a.StepToExecute(record)
			Expect(s).NotTo(BeNil())
			Expect(s.Name()).To(Equal(step.NameAttemptOpen))
			Expect(a.IsFinished(record)).To(BeFalse())
		})
	})
})
