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

package managedindex

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/config"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	public_fsm "github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/history"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
	"go.uber.org/zap"
)

// resolveTicks is how many manager reconciles pass between two pattern
// resolutions against the cluster (5s at the default tick rate).
const resolveTicks = 50

// ManagedIndexManager implements FSM management for managed index
// instances. Before delegating to the base manager it resolves the
// configured index patterns against the cluster and consults the scheduler
// jobs, turning attachments into per-index configurations.
type ManagedIndexManager struct {
	*public_fsm.BaseFSMManager[ManagedIndexConfig]

	logger   *zap.SugaredLogger
	recorder *history.Recorder

	mu              sync.Mutex
	resolved        []ManagedIndexConfig
	lastResolveTick uint64
	resolvedOnce    bool
}

// ManagedIndexManagerSnapshot extends the base ManagerSnapshot.
type ManagedIndexManagerSnapshot struct {
	// Embed the BaseManagerSnapshot to inherit its methods
	*public_fsm.BaseManagerSnapshot
}

// NewManagedIndexManager creates a new ManagedIndexManager. The recorder
// may be nil when no audit history is wanted.
func NewManagedIndexManager(recorder *history.Recorder) *ManagedIndexManager {
	managerName := constants.ManagedIndexManagerName

	manager := &ManagedIndexManager{
		logger:   logger.For(logger.ComponentIndexManager),
		recorder: recorder,
	}

	baseManager := public_fsm.NewBaseFSMManager[ManagedIndexConfig](
		managerName,
		// Extract the resolved per-index configs. Pattern resolution itself
		// happens in Reconcile because it needs the cluster provider.
		func(fullConfig config.FullConfig) ([]ManagedIndexConfig, error) {
			return manager.resolvedConfigs(), nil
		},
		// Get name from config
		func(cfg ManagedIndexConfig) (string, error) {
			return cfg.IndexName, nil
		},
		// Get desired state from config
		func(cfg ManagedIndexConfig) (string, error) {
			return cfg.DesiredFSMState, nil
		},
		// Create instance from config
		func(cfg ManagedIndexConfig) (public_fsm.FSMInstance, error) {
			return NewManagedIndexInstance(cfg, recorder), nil
		},
		// Compare configs
		func(instance public_fsm.FSMInstance, cfg ManagedIndexConfig) (bool, error) {
			indexInstance, ok := instance.(*ManagedIndexInstance)
			if !ok {
				return false, fmt.Errorf("instance is not a ManagedIndexInstance")
			}
			current := indexInstance.GetConfig()
			return current.IndexUUID == cfg.IndexUUID &&
				current.PolicyID == cfg.PolicyID &&
				current.IntervalMinutes == cfg.IntervalMinutes &&
				reflect.DeepEqual(current.Policy, cfg.Policy), nil
		},
		// Set config
		func(instance public_fsm.FSMInstance, cfg ManagedIndexConfig) error {
			indexInstance, ok := instance.(*ManagedIndexInstance)
			if !ok {
				return fmt.Errorf("instance is not a ManagedIndexInstance")
			}
			indexInstance.SetConfig(cfg)
			return nil
		},
		// Get expected max p95 execution time per instance
		func(instance public_fsm.FSMInstance) (time.Duration, error) {
			indexInstance, ok := instance.(*ManagedIndexInstance)
			if !ok {
				return 0, fmt.Errorf("instance is not a ManagedIndexInstance")
			}
			return indexInstance.GetExpectedMaxP95ExecutionTimePerInstance(), nil
		},
	)

	manager.BaseFSMManager = baseManager

	return manager
}

// Reconcile refreshes the pattern resolution when it is stale and then runs
// the base manager's reconcile pass.
func (m *ManagedIndexManager) Reconcile(ctx context.Context, snapshot public_fsm.SystemSnapshot, services serviceregistry.Provider) (error, bool) {
	m.mu.Lock()
	stale := !m.resolvedOnce || snapshot.Tick-m.lastResolveTick >= resolveTicks
	m.mu.Unlock()

	if stale {
		if err := m.refreshResolved(ctx, services, snapshot.CurrentConfig); err != nil {
			// Keep driving the previously resolved set; resolution is
			// retried on a later tick.
			m.logger.Warnf("Failed to refresh index resolution: %v", err)
		}
		m.mu.Lock()
		m.lastResolveTick = snapshot.Tick
		m.resolvedOnce = true
		m.mu.Unlock()
	}

	return m.BaseFSMManager.Reconcile(ctx, snapshot, services)
}

// resolvedConfigs returns the last resolution result.
func (m *ManagedIndexManager) resolvedConfigs() []ManagedIndexConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ManagedIndexConfig, len(m.resolved))
	copy(out, m.resolved)

	return out
}

// refreshResolved expands each attachment pattern against the cluster,
// reads the scheduler jobs of the matched indices, and creates enabled jobs
// for indices seen for the first time. Attachments that fail to resolve are
// skipped so one bad pattern never stalls the others.
func (m *ManagedIndexManager) refreshResolved(ctx context.Context, services serviceregistry.Provider, cfg config.FullConfig) error {
	resolved := make([]ManagedIndexConfig, 0, len(cfg.ManagedIndices))
	seen := make(map[string]bool)

	for _, att := range cfg.ManagedIndices {
		pol, ok := cfg.PolicyFor(att.PolicyID)
		if !ok {
			m.logger.Warnf("Attachment %s references unknown policy %s, skipping", att.Pattern, att.PolicyID)
			continue
		}

		infos, err := services.GetCluster().ResolveIndices(ctx, []string{att.Pattern})
		if err != nil {
			m.logger.Warnf("Failed to resolve pattern %s: %v", att.Pattern, err)
			continue
		}

		for _, info := range infos {
			// First attachment wins when patterns overlap.
			if seen[info.UUID] {
				continue
			}
			seen[info.UUID] = true

			resolved = append(resolved, ManagedIndexConfig{
				IndexName:       info.Name,
				IndexUUID:       info.UUID,
				PolicyID:        att.PolicyID,
				Policy:          pol,
				DesiredFSMState: OperationalStateActionPending,
				IntervalMinutes: att.IntervalMinutes,
			})
		}
	}

	if len(resolved) == 0 {
		m.mu.Lock()
		m.resolved = nil
		m.mu.Unlock()
		return nil
	}

	if err := m.applyJobStates(ctx, services, resolved); err != nil {
		return err
	}

	m.mu.Lock()
	m.resolved = resolved
	m.mu.Unlock()

	return nil
}

// applyJobStates consults the scheduler jobs of the resolved indices in one
// batched read: a disabled job parks its instance, a missing job is created
// enabled so newly attached indices start working.
func (m *ManagedIndexManager) applyJobStates(ctx context.Context, services serviceregistry.Provider, resolved []ManagedIndexConfig) error {
	store := services.GetStore()

	ids := make([]string, len(resolved))
	for i, r := range resolved {
		ids[i] = r.IndexUUID
	}

	results, err := store.MultiGet(ctx, configstore.CollectionSchedulerJobs, ids)
	if err != nil {
		return fmt.Errorf("failed to read scheduler jobs: %w", err)
	}

	now := metadata.NowMillis()
	var createOps []configstore.WriteOp

	for i, res := range results {
		if res.Err != nil {
			m.logger.Warnf("Failed to read scheduler job for %s: %v", resolved[i].IndexName, res.Err)
			continue
		}

		if !res.Found {
			info := cluster.IndexInfo{Name: resolved[i].IndexName, UUID: resolved[i].IndexUUID}
			job := scheduler.NewJobDocument(info, resolved[i].IntervalMinutes).Enable(now)
			doc, err := scheduler.ToDocument(job)
			if err != nil {
				return err
			}
			createOps = append(createOps, configstore.WriteOp{ID: resolved[i].IndexUUID, Doc: doc})
			continue
		}

		job, err := scheduler.FromDocument(res.Doc)
		if err != nil {
			m.logger.Warnf("Failed to decode scheduler job for %s: %v", resolved[i].IndexName, err)
			continue
		}
		if !job.Enabled {
			resolved[i].DesiredFSMState = OperationalStateStopped
		}
	}

	if len(createOps) > 0 {
		writeResults, err := store.BulkWrite(ctx, configstore.CollectionSchedulerJobs, createOps)
		if err != nil {
			return fmt.Errorf("failed to create scheduler jobs: %w", err)
		}
		for _, res := range writeResults {
			if res.Err != nil {
				m.logger.Warnf("Failed to create scheduler job %s: %v", res.ID, res.Err)
			}
		}
	}

	return nil
}

// CreateSnapshot overrides the base snapshot with the manager-specific type.
func (m *ManagedIndexManager) CreateSnapshot() public_fsm.ManagerSnapshot {
	baseSnapshot := m.BaseFSMManager.CreateSnapshot()

	baseManagerSnapshot, ok := baseSnapshot.(*public_fsm.BaseManagerSnapshot)
	if !ok {
		m.logger.Errorf("Failed to convert base snapshot to BaseManagerSnapshot")
		return baseSnapshot
	}

	return &ManagedIndexManagerSnapshot{
		BaseManagerSnapshot: baseManagerSnapshot,
	}
}
