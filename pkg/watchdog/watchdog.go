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

// Package watchdog supervises long-running workers. Each worker registers
// a heartbeat with a timeout and beats it on every loop pass; a missed
// deadline or an error-status beat is reported through the logger, sentry
// and the error counter. The watchdog never kills a worker, it only makes
// a silent stall loud.
package watchdog

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/context"

	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
)

// HeartbeatStatus is the status of one beat.
type HeartbeatStatus int

const (
	// StatusOK resets the worker's warning count.
	StatusOK HeartbeatStatus = iota
	// StatusWarning accumulates; enough consecutive warnings report the
	// worker as failed.
	StatusWarning
	// StatusError reports the worker immediately.
	StatusError
)

// heartbeat is the tracked state of one registered worker.
type heartbeat struct {
	id                   uuid.UUID
	file                 string
	line                 int
	lastBeatUnix         atomic.Int64
	warningCount         atomic.Uint32
	warningsUntilFailure uint32
	timeoutSeconds       int64
	beatsReceived        atomic.Uint64
}

// Watchdog checks all registered heartbeats on every ticker pass.
type Watchdog struct {
	mu         sync.Mutex
	heartbeats map[string]*heartbeat

	badHeartbeat chan uuid.UUID
	ctx          context.Context
	ticker       *time.Ticker
	log          *zap.SugaredLogger
}

// New creates a watchdog that checks heartbeats at the ticker's pace. It
// does not start checking until Start runs.
func New(ctx context.Context, ticker *time.Ticker) *Watchdog {
	return &Watchdog{
		heartbeats: make(map[string]*heartbeat),
		// Buffered so a worker reporting an error before Start never blocks.
		badHeartbeat: make(chan uuid.UUID, 100),
		ctx:          ctx,
		ticker:       ticker,
		log:          logger.For(logger.ComponentWatchdog),
	}
}

// Start runs the check loop until the context ends. Call it in its own
// goroutine.
func (w *Watchdog) Start() {
	for {
		select {
		case id := <-w.badHeartbeat:
			name := w.nameFor(id)
			metrics.IncErrorCount(logger.ComponentWatchdog, name)
			sentry.ReportIssuef(sentry.IssueTypeError, w.log, "worker %s reported an unhealthy heartbeat", name)
		case <-w.ticker.C:
			w.checkDeadlines()
		case <-w.ctx.Done():
			return
		}
	}
}

// checkDeadlines reports every worker whose last beat is older than its
// timeout. A reported worker is unregistered so one stall is reported once.
func (w *Watchdog) checkDeadlines() {
	now := time.Now().UTC().Unix()

	w.mu.Lock()

	type overdue struct {
		name    string
		hb      *heartbeat
		seconds int64
	}

	var stalled []overdue

	for name, hb := range w.heartbeats {
		if hb.timeoutSeconds == 0 {
			continue
		}
		age := now - hb.lastBeatUnix.Load()
		if age > hb.timeoutSeconds {
			stalled = append(stalled, overdue{name: name, hb: hb, seconds: age - hb.timeoutSeconds})
			delete(w.heartbeats, name)
		}
	}

	w.mu.Unlock()

	for _, s := range stalled {
		metrics.IncErrorCount(logger.ComponentWatchdog, s.name)
		sentry.ReportIssuef(sentry.IssueTypeError, w.log,
			"worker %s missed its heartbeat deadline by %ds (registered at %s:%d, %d beats received)",
			s.name, s.seconds, s.hb.file, s.hb.line, s.hb.beatsReceived.Load())
	}
}

// Register adds a worker. warningsUntilFailure consecutive warning beats
// (0 disables) or timeoutSeconds without any beat (0 disables) report the
// worker. It returns the handle used for Beat and Unregister.
func (w *Watchdog) Register(name string, warningsUntilFailure uint32, timeoutSeconds int64) uuid.UUID {
	hb := &heartbeat{
		id:                   uuid.New(),
		warningsUntilFailure: warningsUntilFailure,
		timeoutSeconds:       timeoutSeconds,
	}
	hb.lastBeatUnix.Store(time.Now().UTC().Unix())

	if _, file, line, ok := runtime.Caller(1); ok {
		hb.file = file
		hb.line = line
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.heartbeats[name]; ok {
		w.log.Errorf("heartbeat %s already registered (%s)", name, existing.id)

		return existing.id
	}

	w.heartbeats[name] = hb
	w.log.Infof("registered heartbeat %s (%s)", name, hb.id)

	return hb.id
}

// Unregister removes a worker on its normal exit.
func (w *Watchdog) Unregister(id uuid.UUID) {
	name := w.nameFor(id)
	if name == "" {
		w.log.Warnf("unregister called with unknown heartbeat %s", id)

		return
	}

	w.mu.Lock()
	delete(w.heartbeats, name)
	w.mu.Unlock()

	w.log.Infof("unregistered heartbeat %s (%s)", name, id)
}

// Beat records one status report from a worker.
func (w *Watchdog) Beat(id uuid.UUID, status HeartbeatStatus) {
	name := w.nameFor(id)
	if name == "" {
		w.log.Warnf("beat called with unknown heartbeat %s", id)

		return
	}

	w.mu.Lock()
	hb := w.heartbeats[name]
	if hb == nil {
		w.mu.Unlock()

		return
	}

	hb.lastBeatUnix.Store(time.Now().UTC().Unix())
	hb.beatsReceived.Add(1)

	var warnings uint32

	switch status {
	case StatusWarning:
		warnings = hb.warningCount.Add(1)
	case StatusOK:
		hb.warningCount.Store(0)
	case StatusError:
	}

	tooManyWarnings := hb.warningsUntilFailure != 0 && warnings >= hb.warningsUntilFailure
	w.mu.Unlock()

	if status == StatusError || tooManyWarnings {
		w.badHeartbeat <- id
	}
}

// Registered reports whether a worker is still tracked. A stalled worker
// disappears once reported.
func (w *Watchdog) Registered(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.heartbeats[name]

	return ok
}

func (w *Watchdog) nameFor(id uuid.UUID) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for name, hb := range w.heartbeats {
		if hb.id == id {
			return name
		}
	}

	return ""
}
