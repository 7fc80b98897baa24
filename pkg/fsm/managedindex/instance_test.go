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

package managedindex_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm/managedindex"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/policy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
)

const (
	testIndexName = "logs-000001"
	testIndexUUID = "uuid-0001"
)

func closePolicy() policy.Policy {
	return policy.Policy{
		ID:           "cold-policy",
		DefaultState: "cold",
		States: []policy.State{
			{
				Name:    "cold",
				Actions: []policy.ActionSpec{{Type: policy.ActionClose, Retry: policy.RetryConfig{MaxRetries: 1}}},
			},
		},
	}
}

func twoStatePolicy() policy.Policy {
	return policy.Policy{
		ID:           "cycle-policy",
		DefaultState: "cold",
		States: []policy.State{
			{
				Name:        "cold",
				Actions:     []policy.ActionSpec{{Type: policy.ActionClose}},
				Transitions: []policy.Transition{{StateName: "warm"}},
			},
			{
				Name:    "warm",
				Actions: []policy.ActionSpec{{Type: policy.ActionOpen}},
			},
		},
	}
}

var _ = Describe("ManagedIndexInstance", func() {
	var (
		ctx      context.Context
		registry *serviceregistry.Registry
		provider *cluster.MemoryProvider
		tick     uint64
	)

	BeforeEach(func() {
		ctx = context.Background()
		registry = serviceregistry.NewMockRegistry()
		provider = registry.Cluster.(*cluster.MemoryProvider)
		provider.AddIndex(testIndexName, testIndexUUID)
		tick = 0
	})

	newInstance := func(pol policy.Policy) *managedindex.ManagedIndexInstance {
		return managedindex.NewManagedIndexInstance(managedindex.ManagedIndexConfig{
			IndexName:       testIndexName,
			IndexUUID:       testIndexUUID,
			PolicyID:        pol.ID,
			Policy:          pol,
			DesiredFSMState: managedindex.OperationalStateActionPending,
			IntervalMinutes: 5,
		}, nil)
	}

	driveUntil := func(instance *managedindex.ManagedIndexInstance, target string, maxTicks int) {
		for i := 0; i < maxTicks; i++ {
			tick++
			err, _ := instance.Reconcile(ctx, fsm.SystemSnapshot{Tick: tick}, registry)
			Expect(err).NotTo(HaveOccurred())
			if instance.GetCurrentFSMState() == target {
				return
			}
		}
		Fail("instance never reached state " + target + ", stuck in " + instance.GetCurrentFSMState())
	}

	storedRecord := func() metadata.ManagedIndexMetadata {
		doc, err := registry.Store.Get(ctx, configstore.CollectionManagedIndexMetadata, testIndexUUID)
		Expect(err).NotTo(HaveOccurred())
		rec, err := metadata.FromDocument(doc)
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	It("should execute a single-action policy to completion and park", func() {
		instance := newInstance(closePolicy())

		driveUntil(instance, managedindex.OperationalStateActionCompleted, 20)

		rec := storedRecord()
		Expect(rec.State).NotTo(BeNil())
		Expect(rec.State.Name).To(Equal("cold"))
		Expect(rec.Step).NotTo(BeNil())
		Expect(rec.Step.Status).To(Equal(metadata.StepStatusCompleted))
		Expect(rec.IsFailed()).To(BeFalse())

		// A parked terminal state keeps reconciling without changing.
		tick++
		err, reconciled := instance.Reconcile(ctx, fsm.SystemSnapshot{Tick: tick}, registry)
		Expect(err).NotTo(HaveOccurred())
		Expect(reconciled).To(BeFalse())
		Expect(instance.GetCurrentFSMState()).To(Equal(managedindex.OperationalStateActionCompleted))
	})

	It("should walk through a state transition into the next state's action", func() {
		instance := newInstance(twoStatePolicy())

		driveUntil(instance, managedindex.OperationalStateActionCompleted, 40)

		rec := storedRecord()
		Expect(rec.State).NotTo(BeNil())
		Expect(rec.State.Name).To(Equal("warm"))
		Expect(rec.TransitionTo).To(BeEmpty())
		Expect(rec.Step).NotTo(BeNil())
		Expect(rec.Step.Status).To(Equal(metadata.StepStatusCompleted))
	})

	It("should run every action of a state before parking in action_completed", func() {
		pol := policy.Policy{
			ID:           "close-open-policy",
			DefaultState: "cold",
			States: []policy.State{
				{
					Name: "cold",
					Actions: []policy.ActionSpec{
						{Type: policy.ActionClose},
						{Type: policy.ActionOpen},
					},
				},
			},
		}
		instance := newInstance(pol)

		// The first time the instance shows action_completed, both actions
		// must already be done; the state is reserved for the terminal park.
		driveUntil(instance, managedindex.OperationalStateActionCompleted, 40)

		rec := storedRecord()
		Expect(rec.State).NotTo(BeNil())
		Expect(rec.State.Name).To(Equal("cold"))
		Expect(rec.Action).NotTo(BeNil())
		Expect(rec.Action.Index).To(Equal(1))
		Expect(rec.Action.Name).To(Equal(string(policy.ActionOpen)))
		Expect(rec.Step).NotTo(BeNil())
		Expect(rec.Step.Status).To(Equal(metadata.StepStatusCompleted))
	})

	It("should exhaust the retry budget and mark the record failed", func() {
		provider.Unacknowledge("close", testIndexName)
		instance := newInstance(closePolicy())

		driveUntil(instance, managedindex.OperationalStateActionFailed, 30)

		rec := storedRecord()
		Expect(rec.Retry).NotTo(BeNil())
		Expect(rec.Retry.Failed).To(BeTrue())
		Expect(rec.Action).NotTo(BeNil())
		Expect(rec.Action.Failed).To(BeTrue())
		// One initial attempt plus one retry within the budget of 1.
		Expect(rec.Action.ConsumedRetries).To(Equal(2))
	})

	It("should stay failed until the record is rewritten, then re-arm", func() {
		provider.Unacknowledge("close", testIndexName)
		instance := newInstance(closePolicy())

		driveUntil(instance, managedindex.OperationalStateActionFailed, 30)

		// Without intervention the instance stays parked in action_failed.
		for i := 0; i < 3; i++ {
			tick++
			err, reconciled := instance.Reconcile(ctx, fsm.SystemSnapshot{Tick: tick}, registry)
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeFalse())
		}
		Expect(instance.GetCurrentFSMState()).To(Equal(managedindex.OperationalStateActionFailed))

		// Rewrite the record the way the recovery pipeline does.
		rearmed := storedRecord().ForRetry("")
		doc, err := metadata.ToDocument(rearmed)
		Expect(err).NotTo(HaveOccurred())
		results, err := registry.Store.BulkWrite(ctx, configstore.CollectionManagedIndexMetadata,
			[]configstore.WriteOp{{ID: testIndexUUID, Doc: doc}})
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Err).NotTo(HaveOccurred())

		driveUntil(instance, managedindex.OperationalStateStepRunning, 10)
	})

	It("should park when the desired state changes to stopped", func() {
		instance := newInstance(closePolicy())

		driveUntil(instance, managedindex.OperationalStateStepRunning, 10)

		Expect(instance.SetDesiredFSMState(managedindex.OperationalStateStopped)).To(Succeed())
		driveUntil(instance, managedindex.OperationalStateStopped, 10)

		// The record keeps its position while parked.
		rec := storedRecord()
		Expect(rec.State).NotTo(BeNil())
		Expect(rec.State.Name).To(Equal("cold"))
	})

	It("should reject intermediate desired states", func() {
		instance := newInstance(closePolicy())

		Expect(instance.SetDesiredFSMState(managedindex.OperationalStateStepRunning)).NotTo(Succeed())
		Expect(instance.SetDesiredFSMState(managedindex.OperationalStateActionPending)).To(Succeed())
	})

	It("should resume from a persisted record instead of restarting the lifecycle", func() {
		instance := newInstance(twoStatePolicy())
		driveUntil(instance, managedindex.OperationalStateActionCompleted, 40)

		// A fresh instance (process restart) picks the record up where it is.
		restarted := newInstance(twoStatePolicy())
		driveUntil(restarted, managedindex.OperationalStateActionCompleted, 20)

		rec := storedRecord()
		Expect(rec.State.Name).To(Equal("warm"))
	})
})
