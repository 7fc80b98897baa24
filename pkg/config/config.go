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

// Package config defines the agent configuration file and the manager that
// reads it. The file is YAML and declares the agent settings, the lifecycle
// policies, and which index patterns are attached to which policy.
package config

import (
	"fmt"

	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/permissions"
	"github.com/united-manufacturing-hub/ilm-core/pkg/policy"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

// ClusterConfig locates the cluster the agent manages indices on.
type ClusterConfig struct {
	// Endpoint is the base URL of the cluster HTTP API.
	Endpoint string `yaml:"endpoint"`

	// MetricsEndpoint is the Prometheus endpoint of the cluster, scraped by
	// the cluster monitor. Empty disables scraping.
	MetricsEndpoint string `yaml:"metricsEndpoint,omitempty"`
}

// AccessControlConfig gates recovery requests by caller identity.
type AccessControlConfig struct {
	Enabled bool              `yaml:"enabled"`
	Rules   permissions.Rules `yaml:"rules,omitempty"`
}

// AgentConfig holds the process-level settings.
type AgentConfig struct {
	// LogLevel sets the zap level for all components. Empty means info.
	LogLevel string `yaml:"logLevel,omitempty"`

	// MetricsPort serves Prometheus metrics. Zero selects the default.
	MetricsPort int `yaml:"metricsPort,omitempty"`

	// OpsPort serves the operator HTTP API. Zero selects the default.
	OpsPort int `yaml:"opsPort,omitempty"`

	// HistoryDir is where lifecycle audit segments are written. Empty
	// selects the default.
	HistoryDir string `yaml:"historyDir,omitempty"`

	Cluster       ClusterConfig       `yaml:"cluster"`
	AccessControl AccessControlConfig `yaml:"accessControl,omitempty"`
}

// IndexAttachment attaches an index name pattern to a policy.
type IndexAttachment struct {
	// Pattern is an explicit index name or a prefix pattern ending in '*'.
	Pattern string `yaml:"pattern"`

	// PolicyID references a policy in FullConfig.Policies.
	PolicyID string `yaml:"policyId"`

	// IntervalMinutes overrides the default job interval. Zero selects the
	// default.
	IntervalMinutes int `yaml:"intervalMinutes,omitempty"`
}

// FullConfig is the root of the configuration file.
type FullConfig struct {
	Agent          AgentConfig       `yaml:"agent"`
	Policies       []policy.Policy   `yaml:"policies,omitempty"`
	ManagedIndices []IndexAttachment `yaml:"managedIndices,omitempty"`
}

// Clone returns a deep copy so callers can mutate their view freely.
func (c FullConfig) Clone() FullConfig {
	data, err := yaml.Marshal(c)
	if err != nil {
		return FullConfig{}
	}

	var clone FullConfig
	if err := yaml.Unmarshal(data, &clone); err != nil {
		return FullConfig{}
	}

	return clone
}

// PolicyFor returns the policy with the given id.
func (c FullConfig) PolicyFor(id string) (policy.Policy, bool) {
	for _, p := range c.Policies {
		if p.ID == id {
			return p, true
		}
	}

	return policy.Policy{}, false
}

// applyDefaults fills zero values with the agent defaults.
func (c *FullConfig) applyDefaults() {
	if c.Agent.MetricsPort == 0 {
		c.Agent.MetricsPort = constants.DefaultMetricsPort
	}
	if c.Agent.OpsPort == 0 {
		c.Agent.OpsPort = constants.DefaultOpsPort
	}
	if c.Agent.HistoryDir == "" {
		c.Agent.HistoryDir = constants.DefaultHistoryDir
	}

	for i := range c.ManagedIndices {
		if c.ManagedIndices[i].IntervalMinutes == 0 {
			c.ManagedIndices[i].IntervalMinutes = scheduler.DefaultIntervalMinutes
		}
	}
}

// Validate checks the policies and the attachments referencing them.
func (c FullConfig) Validate() error {
	ids := make(map[string]bool, len(c.Policies))
	for _, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate policy id %s", p.ID)
		}
		ids[p.ID] = true
	}

	seen := make(map[string]bool, len(c.ManagedIndices))
	for _, a := range c.ManagedIndices {
		if a.Pattern == "" {
			return fmt.Errorf("managed index attachment has no pattern")
		}
		if seen[a.Pattern] {
			return fmt.Errorf("duplicate managed index pattern %s", a.Pattern)
		}
		seen[a.Pattern] = true

		if !ids[a.PolicyID] {
			return fmt.Errorf("managed index %s references unknown policy %s", a.Pattern, a.PolicyID)
		}
		if a.IntervalMinutes < 0 {
			return fmt.Errorf("managed index %s has negative interval", a.Pattern)
		}
	}

	return nil
}

// ParseConfig parses raw YAML into a validated FullConfig with defaults
// applied.
func ParseConfig(data []byte) (FullConfig, error) {
	if len(data) == 0 {
		return FullConfig{}, fmt.Errorf("config file is empty")
	}

	var cfg FullConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
