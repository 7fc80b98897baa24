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

// Package control implements the central reconciliation loop.
//
// The loop owns the tick counter that every other component keys off: each
// tick it fetches the desired configuration, hands a system snapshot to the
// FSM managers, and stores the resulting snapshot for external consumers such
// as the operator API. It follows the controller pattern where actual state
// converges toward desired state one bounded step per tick.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
	"github.com/united-manufacturing-hub/ilm-core/pkg/config"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/ctxutil"
	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm"
	"github.com/united-manufacturing-hub/ilm-core/pkg/fsm/managedindex"
	"github.com/united-manufacturing-hub/ilm-core/pkg/history"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
	"github.com/united-manufacturing-hub/ilm-core/pkg/starvationchecker"
)

// ControlLoop drives all FSM managers toward the configured desired state.
//
// The design is single-threaded at the tick level: one reconcile cycle runs
// per tick with a hard deadline of one ticker interval, and managers inside
// the cycle share a reduced time budget so the cycle always has headroom to
// finish bookkeeping before the next tick fires.
type ControlLoop struct {
	tickerTime        time.Duration
	managers          []fsm.FSMManager[any]
	configManager     config.ConfigManager
	logger            *zap.SugaredLogger
	starvationChecker *starvationchecker.StarvationChecker
	currentTick       atomic.Uint64
	snapshotManager   *fsm.SnapshotManager
	managerTimes      map[string]time.Duration
	managerTimesMutex sync.RWMutex
	services          *serviceregistry.Registry
}

// NewControlLoop assembles the loop with the managed-index manager, a
// starvation checker, and a snapshot manager. The service registry carries
// the store and cluster handles the managers reconcile against; the recorder
// receives one audit entry per persisted metadata transition.
func NewControlLoop(configManager config.ConfigManager, services *serviceregistry.Registry, recorder *history.Recorder) *ControlLoop {
	log := logger.For(logger.ComponentControlLoop)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if services == nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Control loop requires a service registry")
	}

	managers := []fsm.FSMManager[any]{
		managedindex.NewManagedIndexManager(recorder),
	}

	starvationChecker := starvationchecker.NewStarvationChecker(constants.DefaultStarvationThreshold)

	snapshotManager := fsm.NewSnapshotManager()

	metrics.InitErrorCounter(metrics.ComponentControlLoop, "main")

	return &ControlLoop{
		managers:          managers,
		tickerTime:        constants.DefaultTickerTime,
		configManager:     configManager,
		logger:            log,
		starvationChecker: starvationChecker,
		snapshotManager:   snapshotManager,
		managerTimes:      make(map[string]time.Duration),
		managerTimesMutex: sync.RWMutex{},
		services:          services,
	}
}

// Execute runs the control loop until the context is cancelled.
//
// Error handling per cycle:
//   - deadline exceeded: warn and keep running, the cycle was merely slow
//   - context cancelled: clean shutdown
//   - anything else: abort the loop and surface the error to the caller
func (c *ControlLoop) Execute(ctx context.Context) error {
	ticker := time.NewTicker(c.tickerTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick := c.currentTick.Add(1)

			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, c.tickerTime)
			err := c.Reconcile(timeoutCtx, tick)
			cancel()

			cycleTime := time.Since(start)

			if cycleTime > c.tickerTime {
				c.logger.Warnf("Control loop reconcile cycle time is greater than ticker time: %v", cycleTime)
				if cycleTime > 2*c.tickerTime {
					c.logger.Errorf("Control loop reconcile cycle time is greater than 2*ticker time: %v", cycleTime)
				}
			}

			metrics.ObserveReconcileTime(metrics.ComponentControlLoop, "main", cycleTime)

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Control loop reconcile timed out: %v", err)
				} else if errors.Is(err, context.Canceled) {
					c.logger.Infof("Control loop cancelled")
					return nil
				} else {
					metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, "main", err, c.logger)
					sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Control loop error: %v", err)
					return err
				}
			}
		}
	}
}

// Reconcile performs a single reconciliation cycle across all managers.
//
// The cycle starts from a deep copy of the previous system snapshot so that
// managers observe a consistent view even while external consumers read the
// stored one. Configuration read failures are classified: a temporary backoff
// skips the cycle, a permanent failure stops the loop, anything else is
// reported and retried next tick.
func (c *ControlLoop) Reconcile(ctx context.Context, tick uint64) error {
	if c.configManager == nil {
		return fmt.Errorf("config manager is not set")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	prevSnapshot := c.snapshotManager.GetSnapshot()
	var newSnapshot fsm.SystemSnapshot

	// Once a snapshot exists it always carries a config: a failed config
	// read below leaves the stored snapshot untouched.
	if prevSnapshot == nil {
		newSnapshot = fsm.SystemSnapshot{
			Managers:     make(map[string]fsm.ManagerSnapshot),
			SnapshotTime: time.Now(),
			Tick:         tick,
		}
	} else {
		err := deepcopy.Copy(&newSnapshot, prevSnapshot)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Failed to deep copy snapshot: %v", err)
			return fmt.Errorf("failed to deep copy snapshot: %w", err)
		}
		newSnapshot.Tick = tick
		newSnapshot.SnapshotTime = time.Now()
	}

	cfg, err := c.configManager.GetConfig(ctx, tick)
	if err != nil {
		if backoff.IsTemporaryBackoffError(err) {
			c.logger.Debugf("Skipping reconcile cycle due to temporary config backoff: %v", err)
			return nil
		} else if backoff.IsPermanentFailureError(err) {
			originalErr := backoff.ExtractOriginalError(err)
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Config manager has permanently failed after max retries: %v (original error: %v)",
				err, originalErr)
			metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, "config_permanent_failure", err, c.logger)

			return fmt.Errorf("config permanently failed, system needs intervention: %w", err)
		} else {
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Config manager error: %v", err)
			return nil
		}
	}

	newSnapshot.CurrentConfig = cfg

	// Managers get a reduced share of the remaining tick budget so snapshot
	// creation and error handling never race the next tick.
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctxutil.ErrNoDeadline
	}
	remainingTime := time.Until(deadline)
	timeToAdd := time.Duration(float64(remainingTime) * constants.ControlLoopTimeFactor)
	newDeadline := time.Now().Add(timeToAdd)
	innerCtx, cancel := context.WithDeadline(ctx, newDeadline)
	defer cancel()

	c.managerTimesMutex.Lock()
	c.managerTimes = make(map[string]time.Duration)
	c.managerTimesMutex.Unlock()

	hasAnyReconciles := false
	hasAnyReconcilesMutex := sync.Mutex{}

	errorgroup, _ := errgroup.WithContext(innerCtx)
	errorgroup.SetLimit(constants.MaxConcurrentReconciles)

	for i := range c.managers {
		capturedManager := c.managers[i]

		started := errorgroup.TryGo(func() error {
			if innerCtx.Err() != nil {
				c.logger.Debugf("Context is already cancelled, skipping manager %s", capturedManager.GetManagerName())
				return nil
			}

			reconciled, err := c.reconcileManager(innerCtx, capturedManager, newSnapshot)
			if err != nil {
				return err
			}
			if reconciled {
				hasAnyReconcilesMutex.Lock()
				hasAnyReconciles = true
				hasAnyReconcilesMutex.Unlock()
			}
			return nil
		})
		if !started {
			c.logger.Debugf("Too many running managers, skipping remaining")
			break
		}
	}

	waitErrorChannel := make(chan error, 1)
	go func() {
		waitErrorChannel <- errorgroup.Wait()
	}()

	select {
	case wgErr := <-waitErrorChannel:
		err = wgErr
	case <-innerCtx.Done():
		err = innerCtx.Err()
	}

	hasAnyReconcilesMutex.Lock()
	defer hasAnyReconcilesMutex.Unlock()
	if hasAnyReconciles {
		c.updateSystemSnapshot(ctx, cfg)
		return nil
	}

	if err != nil {
		return err
	}

	if c.starvationChecker != nil {
		err, _ := c.starvationChecker.Reconcile(ctx, cfg)
		if err != nil {
			return fmt.Errorf("starvation checker reconciliation failed: %w", err)
		}
	} else {
		return fmt.Errorf("starvation checker is not set")
	}

	c.updateSystemSnapshot(ctx, cfg)

	return nil
}

// updateSystemSnapshot stores a fresh snapshot of all manager states.
func (c *ControlLoop) updateSystemSnapshot(ctx context.Context, cfg config.FullConfig) {
	if c.logger == nil {
		c.logger = logger.For(logger.ComponentControlLoop)
	}

	if c.snapshotManager == nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Cannot create system snapshot: snapshot manager is not set")
		return
	}

	snapshot, err := fsm.GetManagerSnapshots(c.managers, c.currentTick.Load(), cfg)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Failed to create system snapshot: %v", err)
		return
	}

	c.snapshotManager.UpdateSnapshot(snapshot)
	c.logger.Debugf("Updated system snapshot at tick %d", c.currentTick.Load())
}

// GetSystemSnapshot returns the stored snapshot. Safe from any goroutine.
func (c *ControlLoop) GetSystemSnapshot() *fsm.SystemSnapshot {
	if c.snapshotManager == nil {
		return nil
	}
	return c.snapshotManager.GetSnapshot()
}

// GetConfigManager returns the config manager backing the loop.
func (c *ControlLoop) GetConfigManager() config.ConfigManager {
	return c.configManager
}

// GetSnapshotManager returns the snapshot manager.
func (c *ControlLoop) GetSnapshotManager() *fsm.SnapshotManager {
	return c.snapshotManager
}

// GetCurrentTick returns the tick counter of the most recent cycle. Safe
// from any goroutine.
func (c *ControlLoop) GetCurrentTick() uint64 {
	return c.currentTick.Load()
}

// Stop terminates the background components owned by the loop. The loop
// itself stops when the context passed to Execute is cancelled.
func (c *ControlLoop) Stop(ctx context.Context) error {
	if c.starvationChecker == nil {
		return fmt.Errorf("starvation checker is not set")
	}
	c.starvationChecker.Stop()

	return nil
}

// reconcileManager runs one manager against the snapshot and records its
// execution time for the cycle.
func (c *ControlLoop) reconcileManager(ctx context.Context, manager fsm.FSMManager[any], newSnapshot fsm.SystemSnapshot) (bool, error) {
	managerName := manager.GetManagerName()

	managerStart := time.Now()
	err, reconciled := manager.Reconcile(ctx, newSnapshot, c.services)
	executionTime := time.Since(managerStart)

	c.managerTimesMutex.Lock()
	c.managerTimes[managerName] = executionTime
	c.managerTimesMutex.Unlock()

	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, managerName, err, c.logger)
		return false, fmt.Errorf("manager %s reconciliation failed: %w", managerName, err)
	}

	return reconciled, nil
}
