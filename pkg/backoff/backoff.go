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

package backoff

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// TemporaryBackoffError is the marker contained in every error returned
	// while an operation is suppressed by a running backoff window.
	TemporaryBackoffError = "temporary backoff error"

	// PermanentFailureError is the marker contained in every error returned
	// once the retry budget has been exhausted.
	PermanentFailureError = "permanent failure error"
)

// Config holds the parameters of a BackoffManager.
type Config struct {
	ID string

	// InitialTicks is the backoff window after the first error, in ticks.
	InitialTicks uint64
	// MaxTicks caps the exponentially growing backoff window.
	MaxTicks uint64
	// MaxRetries is the number of consecutive errors tolerated before the
	// manager escalates to permanent failure.
	MaxRetries uint64

	Logger *zap.SugaredLogger
}

// NewBackoffConfig builds a configuration with explicit tick and retry
// budgets, used where the defaults are too generous.
func NewBackoffConfig(id string, initialTicks, maxTicks, maxRetries uint64, logger *zap.SugaredLogger) Config {
	return Config{
		ID:           id,
		InitialTicks: initialTicks,
		MaxTicks:     maxTicks,
		MaxRetries:   maxRetries,
		Logger:       logger,
	}
}

// DefaultConfig returns the backoff configuration used by FSM instances:
// one tick initial backoff, doubling up to 64 ticks, permanent failure
// after 10 consecutive errors.
func DefaultConfig(id string, logger *zap.SugaredLogger) Config {
	return Config{
		ID:           id,
		InitialTicks: 1,
		MaxTicks:     64,
		MaxRetries:   10,
		Logger:       logger,
	}
}

// BackoffManager tracks consecutive operation errors for one instance and
// suppresses retries for an exponentially growing number of ticks. Once the
// retry budget is exhausted the manager reports the instance as permanently
// failed; only Reset clears that state.
type BackoffManager struct {
	cfg Config

	mu            sync.Mutex
	lastErr       error
	errorCount    uint64
	suppressUntil uint64
	permanent     bool
}

// NewBackoffManager creates a manager with the given configuration.
func NewBackoffManager(cfg Config) *BackoffManager {
	if cfg.InitialTicks == 0 {
		cfg.InitialTicks = 1
	}
	if cfg.MaxTicks < cfg.InitialTicks {
		cfg.MaxTicks = cfg.InitialTicks
	}

	return &BackoffManager{cfg: cfg}
}

// SetError records an error at the given tick and returns true if the
// manager has escalated to permanent failure.
func (m *BackoffManager) SetError(err error, tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = err

	if IsPermanentError(err) {
		m.permanent = true
		return true
	}

	m.errorCount++
	if m.cfg.MaxRetries > 0 && m.errorCount > m.cfg.MaxRetries {
		m.permanent = true
		return true
	}

	// Exponential window: initial * 2^(errors-1), capped at MaxTicks.
	window := m.cfg.InitialTicks << (m.errorCount - 1)
	if window > m.cfg.MaxTicks || window == 0 {
		window = m.cfg.MaxTicks
	}
	m.suppressUntil = tick + window

	if m.cfg.Logger != nil {
		m.cfg.Logger.Debugf("backoff for %s: error %d/%d, suppressed until tick %d: %v",
			m.cfg.ID, m.errorCount, m.cfg.MaxRetries, m.suppressUntil, err)
	}

	return false
}

// ShouldSkipOperation returns true while the backoff window is still open at
// the given tick, or when the manager is permanently failed.
func (m *BackoffManager) ShouldSkipOperation(tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permanent {
		return true
	}

	return m.lastErr != nil && tick < m.suppressUntil
}

// GetBackoffError returns a structured error describing why operations are
// currently suppressed. The returned error carries the TemporaryBackoffError
// or PermanentFailureError marker so callers can classify it.
func (m *BackoffManager) GetBackoffError(tick uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permanent {
		return fmt.Errorf("%s for %s after %d attempts: %w",
			PermanentFailureError, m.cfg.ID, m.errorCount, m.lastErr)
	}

	if m.lastErr == nil {
		return nil
	}

	return fmt.Errorf("%s for %s (retry at tick %d, now %d): %w",
		TemporaryBackoffError, m.cfg.ID, m.suppressUntil, tick, m.lastErr)
}

// GetLastError returns the most recent error passed to SetError.
func (m *BackoffManager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// IsPermanentlyFailed returns true once the retry budget is exhausted.
func (m *BackoffManager) IsPermanentlyFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanent
}

// Reset clears the error state and the backoff window.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = nil
	m.errorCount = 0
	m.suppressUntil = 0
	m.permanent = false
}
