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

package recovery_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	storememory "github.com/united-manufacturing-hub/ilm-core/pkg/configstore/memory"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/permissions"
	"github.com/united-manufacturing-hub/ilm-core/pkg/recovery"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/ilm-core/pkg/standarderrors"
)

type capturingRecorder struct {
	records []metadata.ManagedIndexMetadata
}

func (r *capturingRecorder) RecordTransition(m metadata.ManagedIndexMetadata) {
	r.records = append(r.records, m)
}

var _ = Describe("RetryFailedIndices", func() {
	var (
		ctx      context.Context
		store    *storememory.InMemoryStore
		provider *cluster.MemoryProvider
		recorder *capturingRecorder
		service  *recovery.Service
	)

	seedJob := func(info cluster.IndexInfo) {
		doc, err := scheduler.ToDocument(scheduler.NewJobDocument(info, 5))
		Expect(err).NotTo(HaveOccurred())

		_, err = store.BulkWrite(ctx, configstore.CollectionSchedulerJobs,
			[]configstore.WriteOp{{ID: info.UUID, Doc: doc}})
		Expect(err).NotTo(HaveOccurred())
	}

	seedRecord := func(info cluster.IndexInfo, failed bool) {
		record := metadata.ManagedIndexMetadata{
			IndexName: info.Name,
			IndexUUID: info.UUID,
			PolicyID:  "hot-warm",
			State:     &metadata.StateMetadata{Name: "hot", StartTime: 1000},
			Action:    &metadata.ActionMetadata{Name: "rollover", Failed: failed, ConsumedRetries: 2},
			Step:      &metadata.StepMetadata{Name: "attempt_rollover", Status: metadata.StepStatusFailed},
			Retry:     &metadata.RetryInfo{Failed: failed, ConsumedRetries: 2},
		}

		doc, err := metadata.ToDocument(record)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.BulkWrite(ctx, configstore.CollectionManagedIndexMetadata,
			[]configstore.WriteOp{{ID: info.UUID, Doc: doc}})
		Expect(err).NotTo(HaveOccurred())
	}

	seedManagedFailed := func(name string) cluster.IndexInfo {
		provider.AddIndex(name, "uuid-"+name)
		info := cluster.IndexInfo{Name: name, UUID: "uuid-" + name}
		seedJob(info)
		seedRecord(info, true)

		return info
	}

	retry := func(patterns ...string) (*recovery.Response, error) {
		return service.RetryFailedIndices(ctx, recovery.Request{Patterns: patterns})
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = storememory.NewInMemoryStore()
		provider = cluster.NewMemoryProvider()
		recorder = &capturingRecorder{}
		service = recovery.NewService(recovery.Config{
			Store:    store,
			Provider: provider,
			Recorder: recorder,
		})
	})

	It("re-arms one failed managed index", func() {
		info := seedManagedFailed("logs-000001")

		resp, err := retry("logs-000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(1))
		Expect(resp.FailedIndices).To(BeEmpty())

		// Record rewritten: step cleared, retry info reset, pending message.
		doc, err := store.Get(ctx, configstore.CollectionManagedIndexMetadata, info.UUID)
		Expect(err).NotTo(HaveOccurred())

		record, err := metadata.FromDocument(doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(record.Step).To(BeNil())
		Expect(record.Retry).NotTo(BeNil())
		Expect(record.Retry.Failed).To(BeFalse())
		Expect(record.Retry.ConsumedRetries).To(Equal(0))
		Expect(record.Action.Failed).To(BeFalse())
		Expect(record.Action.ConsumedRetries).To(Equal(0))
		Expect(record.Info[metadata.InfoKeyMessage]).To(Equal(metadata.PendingRetryMessage))

		// Job re-enabled.
		jobDoc, err := store.Get(ctx, configstore.CollectionSchedulerJobs, info.UUID)
		Expect(err).NotTo(HaveOccurred())

		job, err := scheduler.FromDocument(jobDoc)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Enabled).To(BeTrue())

		// The rewrite was audited.
		Expect(recorder.records).To(HaveLen(1))
		Expect(recorder.records[0].IndexUUID).To(Equal(info.UUID))
	})

	It("keeps the configured job interval when re-enabling", func() {
		provider.AddIndex("logs-000001", "uuid-logs-000001")
		info := cluster.IndexInfo{Name: "logs-000001", UUID: "uuid-logs-000001"}

		doc, err := scheduler.ToDocument(scheduler.NewJobDocument(info, 30))
		Expect(err).NotTo(HaveOccurred())
		_, err = store.BulkWrite(ctx, configstore.CollectionSchedulerJobs,
			[]configstore.WriteOp{{ID: info.UUID, Doc: doc}})
		Expect(err).NotTo(HaveOccurred())
		seedRecord(info, true)

		resp, err := retry("logs-000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(1))

		jobDoc, err := store.Get(ctx, configstore.CollectionSchedulerJobs, info.UUID)
		Expect(err).NotTo(HaveOccurred())

		job, err := scheduler.FromDocument(jobDoc)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Enabled).To(BeTrue())
		Expect(job.IntervalMinutes).To(Equal(30))
	})

	It("sets the pending transition when a start state is requested", func() {
		info := seedManagedFailed("logs-000001")

		resp, err := service.RetryFailedIndices(ctx, recovery.Request{
			Patterns:   []string{"logs-000001"},
			StartState: "warm",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(1))

		doc, err := store.Get(ctx, configstore.CollectionManagedIndexMetadata, info.UUID)
		Expect(err).NotTo(HaveOccurred())

		record, err := metadata.FromDocument(doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(record.TransitionTo).To(Equal("warm"))
	})

	It("excludes an index that is not in failed state", func() {
		provider.AddIndex("idx-1", "uuid-1")
		info := cluster.IndexInfo{Name: "idx-1", UUID: "uuid-1"}
		seedJob(info)
		seedRecord(info, false)

		resp, err := retry("idx-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(0))
		Expect(resp.FailedIndices).To(ConsistOf(recovery.FailedIndex{
			Name: "idx-1", UUID: "uuid-1", Reason: recovery.ReasonNotFailed,
		}))
	})

	It("classifies every index as not managed when the store was never initialized", func() {
		provider.AddIndex("idx-1", "uuid-1")
		provider.AddIndex("idx-2", "uuid-2")

		resp, err := retry("idx-1", "idx-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(0))
		Expect(resp.FailedIndices).To(HaveLen(2))
		for _, failed := range resp.FailedIndices {
			Expect(failed.Reason).To(Equal(recovery.ReasonNotManaged))
		}
	})

	It("excludes an index without a job document", func() {
		seedManagedFailed("logs-000001")
		provider.AddIndex("rogue-000001", "uuid-rogue")

		resp, err := retry("logs-000001", "rogue-000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(1))
		Expect(resp.FailedIndices).To(ConsistOf(recovery.FailedIndex{
			Name: "rogue-000001", UUID: "uuid-rogue", Reason: recovery.ReasonNotManaged,
		}))
	})

	It("excludes an index without any metadata", func() {
		provider.AddIndex("idx-1", "uuid-1")
		seedJob(cluster.IndexInfo{Name: "idx-1", UUID: "uuid-1"})

		resp, err := retry("idx-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.FailedIndices).To(ConsistOf(recovery.FailedIndex{
			Name: "idx-1", UUID: "uuid-1", Reason: recovery.ReasonNoMetadata,
		}))
	})

	It("excludes an index whose metadata is still migrating", func() {
		provider.AddIndex("idx-1", "uuid-1")
		seedJob(cluster.IndexInfo{Name: "idx-1", UUID: "uuid-1"})

		_, err := store.BulkWrite(ctx, configstore.CollectionMetadataMigration,
			[]configstore.WriteOp{{ID: "uuid-1", Doc: configstore.Document{"legacy": true}}})
		Expect(err).NotTo(HaveOccurred())

		resp, err := retry("idx-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.FailedIndices).To(ConsistOf(recovery.FailedIndex{
			Name: "idx-1", UUID: "uuid-1", Reason: recovery.ReasonMetadataMigrating,
		}))
	})

	It("surfaces a per-item metadata lookup failure in the reason", func() {
		info := seedManagedFailed("logs-000001")
		store.FailGet(configstore.CollectionManagedIndexMetadata, info.UUID, errors.New("shard timeout"))

		resp, err := retry("logs-000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(0))
		Expect(resp.FailedIndices).To(HaveLen(1))
		Expect(resp.FailedIndices[0].Reason).To(ContainSubstring("shard timeout"))
	})

	It("isolates a bulk-enable item failure to its own index", func() {
		infoA := seedManagedFailed("idx-a")
		seedManagedFailed("idx-b")
		store.FailWrite(configstore.CollectionSchedulerJobs, infoA.UUID, errors.New("write rejected"))

		resp, err := retry("idx-a", "idx-b")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(1))
		Expect(resp.FailedIndices).To(HaveLen(1))
		Expect(resp.FailedIndices[0].UUID).To(Equal(infoA.UUID))
		Expect(resp.FailedIndices[0].Reason).To(ContainSubstring("write rejected"))

		// Accounting closes: updated plus exclusions covers everything resolved.
		Expect(resp.Updated + len(resp.FailedIndices)).To(Equal(2))
	})

	It("excludes an enabled index whose metadata update fails", func() {
		info := seedManagedFailed("idx-1")
		store.FailWrite(configstore.CollectionManagedIndexMetadata, info.UUID, errors.New("version conflict"))

		resp, err := retry("idx-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(0))
		Expect(resp.FailedIndices).To(ConsistOf(recovery.FailedIndex{
			Name: "idx-1", UUID: info.UUID, Reason: recovery.ReasonMetadataUpdate,
		}))
	})

	It("yields identical classification on repeated runs without external change", func() {
		provider.AddIndex("idx-1", "uuid-1")
		seedJob(cluster.IndexInfo{Name: "idx-1", UUID: "uuid-1"})
		seedRecord(cluster.IndexInfo{Name: "idx-1", UUID: "uuid-1"}, false)

		first, err := retry("idx-1")
		Expect(err).NotTo(HaveOccurred())

		second, err := retry("idx-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("fails the whole run when resolution fails", func() {
		provider.FailResolve(errors.New("cluster state unavailable"))

		_, err := retry("idx-*")
		Expect(err).To(MatchError(ContainSubstring("cluster state unavailable")))
	})

	It("completes with empty results when resolution hits a blocked cluster", func() {
		provider.FailResolve(fmt.Errorf("index blocked: %w", standarderrors.ErrClusterBlocked))

		resp, err := retry("idx-*")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(0))
		Expect(resp.FailedIndices).To(BeEmpty())
	})

	It("demotes all pending indices when a stage hits a blocked cluster", func() {
		seedManagedFailed("idx-a")
		seedManagedFailed("idx-b")
		store.FailBulk(configstore.CollectionManagedIndexMetadata,
			fmt.Errorf("cluster_block_exception: %w", standarderrors.ErrClusterBlocked))

		resp, err := retry("idx-a", "idx-b")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Updated).To(Equal(0))
		Expect(resp.FailedIndices).To(HaveLen(2))
		for _, failed := range resp.FailedIndices {
			Expect(failed.Reason).To(Equal(recovery.ReasonClusterBlocked))
		}
	})

	It("rejects requests without patterns", func() {
		_, err := retry()
		Expect(err).To(HaveOccurred())
	})

	Context("with a permission validator", func() {
		BeforeEach(func() {
			service = recovery.NewService(recovery.Config{
				Store:     store,
				Provider:  provider,
				Validator: permissions.NewRuleValidator(permissions.Rules{Deny: []string{"secret-*"}}),
			})
		})

		It("maps denials to a permission-denied error", func() {
			_, err := service.RetryFailedIndices(ctx, recovery.Request{
				Patterns: []string{"secret-audit"},
				Identity: "ops",
			})
			Expect(err).To(MatchError(standarderrors.ErrPermissionDenied))
		})

		It("still runs allowed requests", func() {
			seedManagedFailed("logs-000001")

			resp, err := service.RetryFailedIndices(ctx, recovery.Request{
				Patterns: []string{"logs-000001"},
				Identity: "ops",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Updated).To(Equal(1))
		})
	})
})
