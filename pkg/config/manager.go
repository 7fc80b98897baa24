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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/ilm-core/pkg/ctxutil/ctxrwmutex"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/service/filesystem"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigManager is the interface for reading and updating the agent
// configuration.
type ConfigManager interface {
	// GetConfig returns the current configuration. The tick is carried for
	// backoff bookkeeping in wrapping implementations.
	GetConfig(ctx context.Context, tick uint64) (FullConfig, error)

	// GetConfigAsString returns the raw file contents.
	GetConfigAsString(ctx context.Context) (string, error)

	// AtomicAddManagedIndex appends an attachment under the atomic-update
	// lock and persists the file.
	AtomicAddManagedIndex(ctx context.Context, attachment IndexAttachment) error

	// AtomicRemoveManagedIndex removes the attachment with the given
	// pattern under the atomic-update lock and persists the file.
	AtomicRemoveManagedIndex(ctx context.Context, pattern string) error
}

// FileConfigManager reads the configuration from a YAML file. Parsed output
// is cached by content hash so unchanged files are not re-parsed on every
// tick.
type FileConfigManager struct {
	configPath string
	fsService  filesystem.Service
	logger     *zap.SugaredLogger

	// mutexAtomicUpdate serializes get-modify-write cycles.
	mutexAtomicUpdate *ctxmutex.CtxMutex
	// mutexReadOrWrite guards the file and the parse cache.
	mutexReadOrWrite *ctxrwmutex.CtxRWMutex

	cacheHash    uint64
	cachedConfig FullConfig
}

// ConfigPath returns the path the manager reads, honoring the environment
// override.
func ConfigPath() string {
	if path := os.Getenv(constants.ConfigPathEnvVar); path != "" {
		return path
	}

	return constants.DefaultConfigPath
}

// NewFileConfigManager creates a manager reading from ConfigPath().
func NewFileConfigManager() *FileConfigManager {
	return &FileConfigManager{
		configPath:        ConfigPath(),
		fsService:         filesystem.NewDefaultService(),
		logger:            logger.For(logger.ComponentConfigManager),
		mutexAtomicUpdate: ctxmutex.NewCtxMutex(),
		mutexReadOrWrite:  ctxrwmutex.NewCtxRWMutex(),
	}
}

// WithConfigPath overrides the file path.
func (m *FileConfigManager) WithConfigPath(path string) *FileConfigManager {
	m.configPath = path
	return m
}

// WithFileSystemService overrides the filesystem service, used in tests.
func (m *FileConfigManager) WithFileSystemService(fs filesystem.Service) *FileConfigManager {
	m.fsService = fs
	return m
}

// GetConfig reads, parses and validates the configuration file.
func (m *FileConfigManager) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(logger.ComponentConfigManager, "get_config", time.Since(start))
	}()

	if err := m.mutexReadOrWrite.Lock(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer m.mutexReadOrWrite.Unlock()

	data, err := m.fsService.ReadFile(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	sum := xxhash.Sum64(data)
	if sum == m.cacheHash {
		return m.cachedConfig.Clone(), nil
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return FullConfig{}, err
	}

	m.cacheHash = sum
	m.cachedConfig = cfg

	return cfg.Clone(), nil
}

// GetConfigAsString returns the raw file contents.
func (m *FileConfigManager) GetConfigAsString(ctx context.Context) (string, error) {
	if err := m.mutexReadOrWrite.RLock(ctx); err != nil {
		return "", fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer m.mutexReadOrWrite.RUnlock()

	data, err := m.fsService.ReadFile(ctx, m.configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	return string(data), nil
}

// writeConfig persists the configuration and refreshes the parse cache.
// Callers must hold mutexAtomicUpdate.
func (m *FileConfigManager) writeConfig(ctx context.Context, cfg FullConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := m.mutexReadOrWrite.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer m.mutexReadOrWrite.Unlock()

	if err := m.fsService.EnsureDirectory(ctx, filepath.Dir(m.configPath)); err != nil {
		return err
	}
	if err := m.fsService.WriteFile(ctx, m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.cacheHash = xxhash.Sum64(data)
	m.cachedConfig = cfg

	return nil
}

// AtomicAddManagedIndex appends an attachment and persists the file.
func (m *FileConfigManager) AtomicAddManagedIndex(ctx context.Context, attachment IndexAttachment) error {
	if err := m.mutexAtomicUpdate.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire atomic update lock: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	cfg, err := m.GetConfig(ctx, 0)
	if err != nil {
		return err
	}

	for _, existing := range cfg.ManagedIndices {
		if existing.Pattern == attachment.Pattern {
			return fmt.Errorf("managed index pattern %s already exists", attachment.Pattern)
		}
	}
	if _, ok := cfg.PolicyFor(attachment.PolicyID); !ok {
		return fmt.Errorf("managed index %s references unknown policy %s", attachment.Pattern, attachment.PolicyID)
	}

	cfg.ManagedIndices = append(cfg.ManagedIndices, attachment)
	cfg.applyDefaults()

	return m.writeConfig(ctx, cfg)
}

// AtomicRemoveManagedIndex removes the attachment with the given pattern and
// persists the file.
func (m *FileConfigManager) AtomicRemoveManagedIndex(ctx context.Context, pattern string) error {
	if err := m.mutexAtomicUpdate.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire atomic update lock: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	cfg, err := m.GetConfig(ctx, 0)
	if err != nil {
		return err
	}

	kept := cfg.ManagedIndices[:0]
	found := false
	for _, a := range cfg.ManagedIndices {
		if a.Pattern == pattern {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return fmt.Errorf("managed index pattern %s not found", pattern)
	}
	cfg.ManagedIndices = kept

	return m.writeConfig(ctx, cfg)
}

// FileConfigManagerWithBackoff wraps FileConfigManager so that repeated read
// failures back off instead of hammering the filesystem every tick.
type FileConfigManagerWithBackoff struct {
	manager        *FileConfigManager
	backoffManager *backoff.BackoffManager
	logger         *zap.SugaredLogger
}

var (
	configManagerInstance *FileConfigManagerWithBackoff
	configManagerOnce     sync.Once
)

// NewFileConfigManagerWithBackoff returns the process-wide config manager.
func NewFileConfigManagerWithBackoff() *FileConfigManagerWithBackoff {
	configManagerOnce.Do(func() {
		log := logger.For(logger.ComponentConfigManager)
		configManagerInstance = &FileConfigManagerWithBackoff{
			manager:        NewFileConfigManager(),
			backoffManager: backoff.NewBackoffManager(backoff.DefaultConfig("ConfigManager", log)),
			logger:         log,
		}
	})

	return configManagerInstance
}

// GetConfig returns the configuration, skipping the read while a previous
// failure is backing off.
func (m *FileConfigManagerWithBackoff) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	if m.backoffManager.ShouldSkipOperation(tick) {
		return FullConfig{}, m.backoffManager.GetBackoffError(tick)
	}

	readCtx, cancel := context.WithTimeout(ctx, constants.ConfigGetConfigTimeout)
	defer cancel()

	cfg, err := m.manager.GetConfig(readCtx, tick)
	if err != nil {
		m.backoffManager.SetError(err, tick)
		return FullConfig{}, err
	}

	m.backoffManager.Reset()

	return cfg, nil
}

// GetConfigAsString returns the raw file contents.
func (m *FileConfigManagerWithBackoff) GetConfigAsString(ctx context.Context) (string, error) {
	return m.manager.GetConfigAsString(ctx)
}

// AtomicAddManagedIndex appends an attachment and persists the file.
func (m *FileConfigManagerWithBackoff) AtomicAddManagedIndex(ctx context.Context, attachment IndexAttachment) error {
	return m.manager.AtomicAddManagedIndex(ctx, attachment)
}

// AtomicRemoveManagedIndex removes an attachment and persists the file.
func (m *FileConfigManagerWithBackoff) AtomicRemoveManagedIndex(ctx context.Context, pattern string) error {
	return m.manager.AtomicRemoveManagedIndex(ctx, pattern)
}

// IsPermanentFailure reports whether config reads have exhausted their
// retries.
func (m *FileConfigManagerWithBackoff) IsPermanentFailure() bool {
	return m.backoffManager.IsPermanentlyFailed()
}

// GetLastError returns the most recent read error.
func (m *FileConfigManagerWithBackoff) GetLastError() error {
	return m.backoffManager.GetLastError()
}
