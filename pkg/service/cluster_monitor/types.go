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

package cluster_monitor

import "time"

// HealthStatus is the cluster health as exposed by the exporter:
// 0 green, 1 yellow, 2 red.
type HealthStatus int64

const (
	HealthGreen  HealthStatus = 0
	HealthYellow HealthStatus = 1
	HealthRed    HealthStatus = 2
)

// String returns the conventional color name.
func (h HealthStatus) String() string {
	switch h {
	case HealthGreen:
		return "green"
	case HealthYellow:
		return "yellow"
	case HealthRed:
		return "red"
	default:
		return "unknown"
	}
}

// ClusterMetrics are the cluster-wide gauges the lifecycle engine cares
// about.
type ClusterMetrics struct {
	// Status is the overall cluster health.
	Status HealthStatus `json:"status"`
	// Nodes is the number of nodes currently in the cluster.
	Nodes int64 `json:"nodes"`
	// ActiveShardsPercent is the fraction of shards that are allocated.
	ActiveShardsPercent float64 `json:"activeShardsPercent"`
	// PendingTasks is the length of the master task queue.
	PendingTasks int64 `json:"pendingTasks"`
}

// IndexMetrics are the per-index gauges keyed by index name.
type IndexMetrics struct {
	// Status is the index health.
	Status HealthStatus `json:"status"`
	// DocCount is the number of documents in the index.
	DocCount int64 `json:"docCount"`
	// StoreSizeBytes is the on-disk size of the index.
	StoreSizeBytes int64 `json:"storeSizeBytes"`
}

// Metrics is one parsed exposition scrape.
type Metrics struct {
	Cluster ClusterMetrics          `json:"cluster"`
	Indices map[string]IndexMetrics `json:"indices,omitempty"`
}

// Sample is a cached scrape with its timestamp.
type Sample struct {
	Metrics   Metrics   `json:"metrics"`
	ScrapedAt time.Time `json:"scrapedAt"`
}
