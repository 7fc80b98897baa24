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

package starvationchecker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/config"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
)

// StarvationChecker detects periods when the control loop stops completing
// reconciliation cycles. It is updated from inside the loop and verified by a
// background goroutine, so a fully blocked loop is still detected.
type StarvationChecker struct {
	lastReconcileTime   time.Time
	ctx                 context.Context //nolint:containedctx // background service lifecycle
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	mutex               sync.RWMutex
}

// NewStarvationChecker creates a starvation checker and starts its background
// goroutine, which checks for missed reconciles every second. Stop must be
// called when the checker is no longer needed.
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		starvationThreshold: threshold,
		lastReconcileTime:   time.Now(),
		logger:              logger.For(logger.ComponentStarvationChecker),
		ctx:                 ctx,
		cancel:              cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

// checkStarvationLoop reports starvation whenever the time since the last
// reconcile exceeds the threshold.
func (s *StarvationChecker) checkStarvationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mutex.RLock()
			timeSinceLastReconcile := time.Since(s.lastReconcileTime)
			s.mutex.RUnlock()

			if timeSinceLastReconcile > s.starvationThreshold {
				starvationTime := timeSinceLastReconcile.Seconds()
				metrics.AddStarvationTime(starvationTime)
				sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "Control loop starvation detected: %.2f seconds since last reconcile", starvationTime)
			}
		}
	}
}

// Stop terminates the background goroutine and waits for it to exit.
func (s *StarvationChecker) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}

// UpdateLastReconcileTime marks the current time as the most recent completed
// reconciliation cycle.
func (s *StarvationChecker) UpdateLastReconcileTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastReconcileTime = time.Now()
}

// GetLastReconcileTime returns the timestamp of the most recent completed
// reconciliation cycle.
func (s *StarvationChecker) GetLastReconcileTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastReconcileTime
}

// GetManagerName returns the component name for logging and metrics.
func (s *StarvationChecker) GetManagerName() string {
	return logger.ComponentStarvationChecker
}

// Reconcile records that the control loop is alive. It never reports work or
// errors; starvation is a warning surfaced through metrics, not a failure of
// the loop itself.
func (s *StarvationChecker) Reconcile(ctx context.Context, cfg config.FullConfig) (error, bool) {
	s.UpdateLastReconcileTime()

	return nil, false
}
