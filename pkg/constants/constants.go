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

package constants

import "time"

const (
	// DefaultAppVersion is the version reported by local builds that were not
	// stamped via ldflags. Sentry reporting is disabled for this version.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the sentry environment for prerelease builds.
	DefaultDevelopmentEnvironment = "development"
	// DefaultProductionEnvironment is the sentry environment for tagged releases.
	DefaultProductionEnvironment = "production"
)

const (
	// DefaultTickerTime is the interval between control loop ticks.
	DefaultTickerTime = 100 * time.Millisecond

	// DefaultStarvationThreshold is the duration after which the control loop
	// is considered starved.
	DefaultStarvationThreshold = 5 * time.Second

	// ExpectedMaxP95ExecutionTimePerEvent is the worst acceptable time for a
	// single FSM event transition. SendEvent refuses to start a transition
	// when less time than this remains before the context deadline.
	ExpectedMaxP95ExecutionTimePerEvent = 10 * time.Millisecond

	// DefaultExpectedMaxP95ExecutionTimePerInstance bounds one managed-index
	// reconcile, including the outbound cluster call of a step execution.
	DefaultExpectedMaxP95ExecutionTimePerInstance = 2 * time.Second

	// StepExecutionTimeout bounds the single external operation a step issues.
	StepExecutionTimeout = 1500 * time.Millisecond

	// UpdateObservedStateTimeout bounds the store reads that refresh the
	// observed state of a managed-index instance.
	UpdateObservedStateTimeout = 500 * time.Millisecond

	// ControlLoopTimeFactor is the fraction of the tick budget handed to the
	// managers, leaving headroom for snapshotting and bookkeeping.
	ControlLoopTimeFactor = 0.8

	// MaxConcurrentReconciles caps how many managers reconcile in parallel
	// within one tick.
	MaxConcurrentReconciles = 4
)

const (
	// DefaultManagerName suffixes manager identifiers in metrics and snapshots.
	DefaultManagerName = "Core"

	// ManagedIndexManagerName identifies the managed-index FSM manager.
	ManagedIndexManagerName = "IndexManager_Core"
)

const (
	// DefaultConfigPath is where the agent configuration is read from unless
	// ILM_CONFIG_PATH overrides it.
	DefaultConfigPath = "/data/config.yaml"

	// ConfigPathEnvVar overrides DefaultConfigPath.
	ConfigPathEnvVar = "ILM_CONFIG_PATH"

	// DefaultMetricsPort serves /metrics.
	DefaultMetricsPort = 8081

	// DefaultOpsPort serves the operator API.
	DefaultOpsPort = 8082

	// DefaultHistoryDir is where audit history segments are written.
	DefaultHistoryDir = "/data/history"

	// ConfigGetConfigTimeout bounds a single configuration read, including
	// file I/O and parsing.
	ConfigGetConfigTimeout = 1 * time.Second

	// AmountReadersForConfigFile is the number of readers that can hold the
	// config read lock at the same time.
	AmountReadersForConfigFile = 100
)

const (
	// ClusterStateResolutionTimeout is the upper bound for resolving index
	// name patterns against the cluster state.
	ClusterStateResolutionTimeout = 30 * time.Second

	// RecoveryStageTimeout bounds each batched call of the recovery pipeline.
	RecoveryStageTimeout = 30 * time.Second
)
