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

package config

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/ilm-core/pkg/service/filesystem"
)

const validConfigYAML = `
agent:
  logLevel: debug
  cluster:
    endpoint: http://localhost:9200
policies:
  - id: hot-warm
    defaultState: hot
    states:
      - name: hot
        actions:
          - type: rollover
            rolloverAlias: logs-write
            retry:
              maxRetries: 3
        transitions:
          - stateName: warm
      - name: warm
        actions:
          - type: close
managedIndices:
  - pattern: logs-*
    policyId: hot-warm
`

var _ = Describe("FileConfigManager", func() {
	var (
		ctx     context.Context
		mockFS  *filesystem.MockFileSystem
		manager *FileConfigManager
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockFS = filesystem.NewMockFileSystem()
		manager = NewFileConfigManager().
			WithConfigPath("/data/config.yaml").
			WithFileSystemService(mockFS)
	})

	Describe("GetConfig", func() {
		It("parses a valid config and applies defaults", func() {
			Expect(mockFS.WriteFile(ctx, "/data/config.yaml", []byte(validConfigYAML), 0o644)).To(Succeed())

			cfg, err := manager.GetConfig(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(cfg.Agent.LogLevel).To(Equal("debug"))
			Expect(cfg.Agent.MetricsPort).To(Equal(constants.DefaultMetricsPort))
			Expect(cfg.Agent.OpsPort).To(Equal(constants.DefaultOpsPort))
			Expect(cfg.Agent.HistoryDir).To(Equal(constants.DefaultHistoryDir))
			Expect(cfg.Policies).To(HaveLen(1))
			Expect(cfg.ManagedIndices).To(HaveLen(1))
			Expect(cfg.ManagedIndices[0].IntervalMinutes).To(Equal(scheduler.DefaultIntervalMinutes))
		})

		It("fails on an empty file", func() {
			Expect(mockFS.WriteFile(ctx, "/data/config.yaml", []byte(""), 0o644)).To(Succeed())

			_, err := manager.GetConfig(ctx, 1)
			Expect(err).To(MatchError(ContainSubstring("empty")))
		})

		It("fails when an attachment references an unknown policy", func() {
			bad := `
agent:
  cluster:
    endpoint: http://localhost:9200
managedIndices:
  - pattern: logs-*
    policyId: missing
`
			Expect(mockFS.WriteFile(ctx, "/data/config.yaml", []byte(bad), 0o644)).To(Succeed())

			_, err := manager.GetConfig(ctx, 1)
			Expect(err).To(MatchError(ContainSubstring("unknown policy")))
		})

		It("does not re-parse an unchanged file", func() {
			var reads atomic.Int64
			Expect(mockFS.WriteFile(ctx, "/data/config.yaml", []byte(validConfigYAML), 0o644)).To(Succeed())
			inner := mockFS.ReadFileFunc
			mockFS.ReadFileFunc = func(ctx context.Context, path string) ([]byte, error) {
				reads.Add(1)
				if inner != nil {
					return inner(ctx, path)
				}
				return []byte(validConfigYAML), nil
			}

			first, err := manager.GetConfig(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			second, err := manager.GetConfig(ctx, 2)
			Expect(err).NotTo(HaveOccurred())

			Expect(reads.Load()).To(BeEquivalentTo(2))
			Expect(second).To(Equal(first))
		})

		It("returns independent copies", func() {
			Expect(mockFS.WriteFile(ctx, "/data/config.yaml", []byte(validConfigYAML), 0o644)).To(Succeed())

			first, err := manager.GetConfig(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			first.ManagedIndices[0].PolicyID = "mutated"

			second, err := manager.GetConfig(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ManagedIndices[0].PolicyID).To(Equal("hot-warm"))
		})

		It("fails when the file does not exist", func() {
			_, err := manager.GetConfig(ctx, 1)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("atomic updates", func() {
		BeforeEach(func() {
			Expect(mockFS.WriteFile(ctx, "/data/config.yaml", []byte(validConfigYAML), 0o644)).To(Succeed())
		})

		It("adds a managed index and persists it", func() {
			err := manager.AtomicAddManagedIndex(ctx, IndexAttachment{
				Pattern:  "metrics-*",
				PolicyID: "hot-warm",
			})
			Expect(err).NotTo(HaveOccurred())

			fresh := NewFileConfigManager().
				WithConfigPath("/data/config.yaml").
				WithFileSystemService(mockFS)
			cfg, err := fresh.GetConfig(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ManagedIndices).To(HaveLen(2))
			Expect(cfg.ManagedIndices[1].Pattern).To(Equal("metrics-*"))
			Expect(cfg.ManagedIndices[1].IntervalMinutes).To(Equal(scheduler.DefaultIntervalMinutes))
		})

		It("rejects a duplicate pattern", func() {
			err := manager.AtomicAddManagedIndex(ctx, IndexAttachment{
				Pattern:  "logs-*",
				PolicyID: "hot-warm",
			})
			Expect(err).To(MatchError(ContainSubstring("already exists")))
		})

		It("rejects an unknown policy reference", func() {
			err := manager.AtomicAddManagedIndex(ctx, IndexAttachment{
				Pattern:  "metrics-*",
				PolicyID: "missing",
			})
			Expect(err).To(MatchError(ContainSubstring("unknown policy")))
		})

		It("removes a managed index", func() {
			Expect(manager.AtomicRemoveManagedIndex(ctx, "logs-*")).To(Succeed())

			cfg, err := manager.GetConfig(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ManagedIndices).To(BeEmpty())
		})

		It("fails to remove an unknown pattern", func() {
			err := manager.AtomicRemoveManagedIndex(ctx, "nope-*")
			Expect(err).To(MatchError(ContainSubstring("not found")))
		})
	})
})

var _ = Describe("ParseConfig", func() {
	It("rejects duplicate policy ids", func() {
		doubled := `
policies:
  - id: p1
    defaultState: s
    states:
      - name: s
  - id: p1
    defaultState: s
    states:
      - name: s
`
		_, err := ParseConfig([]byte(doubled))
		Expect(err).To(MatchError(ContainSubstring("duplicate policy id")))
	})

	It("rejects an invalid policy", func() {
		bad := `
policies:
  - id: p1
    defaultState: missing
    states:
      - name: s
`
		_, err := ParseConfig([]byte(bad))
		Expect(err).To(MatchError(ContainSubstring("default state")))
	})

	It("rejects duplicate managed index patterns", func() {
		bad := `
policies:
  - id: p1
    defaultState: s
    states:
      - name: s
managedIndices:
  - pattern: logs-*
    policyId: p1
  - pattern: logs-*
    policyId: p1
`
		_, err := ParseConfig([]byte(bad))
		Expect(err).To(MatchError(ContainSubstring("duplicate managed index pattern")))
	})
})
