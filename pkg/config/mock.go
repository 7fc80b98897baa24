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
	"fmt"
	"sync"
	"time"
)

// MockConfigManager is a ConfigManager for tests.
type MockConfigManager struct {
	Config      FullConfig
	ConfigError error

	// ConfigDelay makes GetConfig block, used to exercise timeouts.
	ConfigDelay time.Duration

	GetConfigCalled   bool
	AddIndexCalled    bool
	RemoveIndexCalled bool

	mutex sync.Mutex
}

// NewMockConfigManager creates a MockConfigManager with an empty config.
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{}
}

// WithConfig sets the config the mock returns.
func (m *MockConfigManager) WithConfig(cfg FullConfig) *MockConfigManager {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Config = cfg
	return m
}

// GetConfig returns the configured config or error.
func (m *MockConfigManager) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	m.mutex.Lock()
	m.GetConfigCalled = true
	delay := m.ConfigDelay
	m.mutex.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return FullConfig{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.ConfigError != nil {
		return FullConfig{}, m.ConfigError
	}

	return m.Config.Clone(), nil
}

// GetConfigAsString returns the YAML rendering of the configured config.
func (m *MockConfigManager) GetConfigAsString(ctx context.Context) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.ConfigError != nil {
		return "", m.ConfigError
	}

	return fmt.Sprintf("%+v", m.Config), nil
}

// AtomicAddManagedIndex appends to the in-memory config.
func (m *MockConfigManager) AtomicAddManagedIndex(ctx context.Context, attachment IndexAttachment) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.AddIndexCalled = true
	m.Config.ManagedIndices = append(m.Config.ManagedIndices, attachment)

	return nil
}

// AtomicRemoveManagedIndex removes from the in-memory config.
func (m *MockConfigManager) AtomicRemoveManagedIndex(ctx context.Context, pattern string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.RemoveIndexCalled = true

	kept := m.Config.ManagedIndices[:0]
	for _, a := range m.Config.ManagedIndices {
		if a.Pattern != pattern {
			kept = append(kept, a)
		}
	}
	m.Config.ManagedIndices = kept

	return nil
}
