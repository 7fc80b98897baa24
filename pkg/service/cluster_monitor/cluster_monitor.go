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

// Package cluster_monitor scrapes the cluster's Prometheus exposition
// endpoint and caches the last parsed sample for the ops API and for
// operators watching the /metrics surface. The monitor is optional: with no
// endpoint configured it stays disabled and every scrape returns
// ErrMonitorDisabled.
package cluster_monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/model/textparse"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
)

// ErrMonitorDisabled is returned by Scrape when no endpoint is configured.
var ErrMonitorDisabled = errors.New("cluster monitor is disabled, no metrics endpoint configured")

// MonitorService scrapes and caches cluster metrics.
type MonitorService struct {
	endpoint string
	client   *http.Client
	logger   *zap.SugaredLogger

	mu   sync.RWMutex
	last *Sample
}

// NewMonitorService creates a monitor for the given exposition endpoint. An
// empty endpoint yields a disabled monitor.
func NewMonitorService(endpoint string) *MonitorService {
	return &MonitorService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger.For(logger.ComponentClusterMonitor),
	}
}

// Enabled reports whether an endpoint is configured.
func (s *MonitorService) Enabled() bool {
	return s != nil && s.endpoint != ""
}

// Scrape fetches and parses the exposition endpoint, caching the sample on
// success.
func (s *MonitorService) Scrape(ctx context.Context) (Sample, error) {
	if !s.Enabled() {
		return Sample{}, ErrMonitorDisabled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("building scrape request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("scraping %s: %w", s.endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("scraping %s: unexpected status %d", s.endpoint, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, fmt.Errorf("reading scrape body: %w", err)
	}

	metrics, err := ParseMetricsFast(payload)
	if err != nil {
		return Sample{}, fmt.Errorf("parsing scrape: %w", err)
	}

	sample := Sample{Metrics: metrics, ScrapedAt: time.Now()}

	s.mu.Lock()
	s.last = &sample
	s.mu.Unlock()

	s.logger.Debugf("Scraped cluster metrics: status=%s nodes=%d indices=%d",
		metrics.Cluster.Status, metrics.Cluster.Nodes, len(metrics.Indices))

	return sample, nil
}

// LastSample returns the most recent successful scrape, if any.
func (s *MonitorService) LastSample() (Sample, bool) {
	if s == nil {
		return Sample{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return Sample{}, false
	}
	return *s.last, true
}

// ParseMetricsFast is a low-allocation Prometheus text parser tuned for
// exactly the subset of exporter metrics the lifecycle engine consumes:
//
//   - cluster health (status, node count, shard allocation, pending tasks)
//   - per-index health, document count and store size
//
// Specialising the parser keeps scrapes off the reconciler's time budget even
// on clusters with thousands of indices; ParseMetrics remains as the generic
// expfmt reference the tests validate against.
func ParseMetricsFast(b []byte) (Metrics, error) {
	var (
		m Metrics

		foundStatus, foundNodes, foundShardsPercent, foundPendingTasks bool
	)

	p := textparse.NewPromParser(b, labels.NewSymbolTable(), false)

	for {
		typ, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, fmt.Errorf("iterating metric stream: %w", err)
		}
		if typ != textparse.EntrySeries {
			continue
		}

		metricBytes, _, val := p.Series()
		mName := seriesName(metricBytes)

		// Allocate a label slice only for the per-index series.
		var lbls labels.Labels
		switch mName {
		case "opensearch_index_status",
			"opensearch_index_doc_number",
			"opensearch_index_store_size_bytes":
			p.Labels(&lbls)
		}

		switch mName {
		case "opensearch_cluster_status":
			m.Cluster.Status = HealthStatus(val)
			foundStatus = true

		case "opensearch_cluster_nodes_number":
			m.Cluster.Nodes = int64(val)
			foundNodes = true

		case "opensearch_cluster_shards_active_percent":
			m.Cluster.ActiveShardsPercent = val
			foundShardsPercent = true

		case "opensearch_cluster_pending_tasks_number":
			m.Cluster.PendingTasks = int64(val)
			foundPendingTasks = true

		case "opensearch_index_status":
			if index := lbls.Get("index"); index != "" {
				entry := m.indexEntry(index)
				entry.Status = HealthStatus(val)
				m.Indices[index] = entry
			}

		case "opensearch_index_doc_number":
			if index := lbls.Get("index"); index != "" {
				entry := m.indexEntry(index)
				entry.DocCount = int64(val)
				m.Indices[index] = entry
			}

		case "opensearch_index_store_size_bytes":
			if index := lbls.Get("index"); index != "" {
				entry := m.indexEntry(index)
				entry.StoreSizeBytes = int64(val)
				m.Indices[index] = entry
			}
		}
	}

	switch {
	case !foundStatus:
		return m, fmt.Errorf("metric opensearch_cluster_status not found")
	case !foundNodes:
		return m, fmt.Errorf("metric opensearch_cluster_nodes_number not found")
	case !foundShardsPercent:
		return m, fmt.Errorf("metric opensearch_cluster_shards_active_percent not found")
	case !foundPendingTasks:
		return m, fmt.Errorf("metric opensearch_cluster_pending_tasks_number not found")
	}

	return m, nil
}

// indexEntry returns the existing entry for the index, allocating the map on
// first use.
func (m *Metrics) indexEntry(index string) IndexMetrics {
	if m.Indices == nil {
		m.Indices = make(map[string]IndexMetrics, 16)
	}
	return m.Indices[index]
}

// seriesName is the metric id without labels, split without allocations.
func seriesName(b []byte) string {
	if b == nil {
		return ""
	}
	if i := bytes.IndexByte(b, '{'); i > 0 {
		return string(b[:i])
	}
	return string(b)
}

// ParseMetrics parses the exposition with the generic expfmt decoder. It is
// the reference implementation ParseMetricsFast is validated against.
func ParseMetrics(dataReader io.Reader) (Metrics, error) {
	var parser expfmt.TextParser
	metrics := Metrics{
		Indices: make(map[string]IndexMetrics),
	}

	data, err := io.ReadAll(dataReader)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to read metrics data: %w", err)
	}

	mf, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		return metrics, fmt.Errorf("failed to parse metrics: %w", err)
	}

	if family, ok := mf["opensearch_cluster_status"]; ok && len(family.Metric) > 0 {
		metrics.Cluster.Status = HealthStatus(getMetricValue(family.Metric[0]))
	} else {
		return metrics, fmt.Errorf("metric opensearch_cluster_status not found")
	}

	if family, ok := mf["opensearch_cluster_nodes_number"]; ok && len(family.Metric) > 0 {
		metrics.Cluster.Nodes = getMetricValue(family.Metric[0])
	} else {
		return metrics, fmt.Errorf("metric opensearch_cluster_nodes_number not found")
	}

	if family, ok := mf["opensearch_cluster_shards_active_percent"]; ok && len(family.Metric) > 0 {
		metrics.Cluster.ActiveShardsPercent = getMetricFloat(family.Metric[0])
	} else {
		return metrics, fmt.Errorf("metric opensearch_cluster_shards_active_percent not found")
	}

	if family, ok := mf["opensearch_cluster_pending_tasks_number"]; ok && len(family.Metric) > 0 {
		metrics.Cluster.PendingTasks = getMetricValue(family.Metric[0])
	} else {
		return metrics, fmt.Errorf("metric opensearch_cluster_pending_tasks_number not found")
	}

	if family, ok := mf["opensearch_index_status"]; ok {
		for _, metric := range family.Metric {
			if index := getLabel(metric, "index"); index != "" {
				entry := metrics.Indices[index]
				entry.Status = HealthStatus(getMetricValue(metric))
				metrics.Indices[index] = entry
			}
		}
	}

	if family, ok := mf["opensearch_index_doc_number"]; ok {
		for _, metric := range family.Metric {
			if index := getLabel(metric, "index"); index != "" {
				entry := metrics.Indices[index]
				entry.DocCount = getMetricValue(metric)
				metrics.Indices[index] = entry
			}
		}
	}

	if family, ok := mf["opensearch_index_store_size_bytes"]; ok {
		for _, metric := range family.Metric {
			if index := getLabel(metric, "index"); index != "" {
				entry := metrics.Indices[index]
				entry.StoreSizeBytes = getMetricValue(metric)
				metrics.Indices[index] = entry
			}
		}
	}

	return metrics, nil
}

// getMetricValue extracts the numeric value from a metric.
func getMetricValue(m *dto.Metric) int64 {
	return int64(getMetricFloat(m))
}

// getMetricFloat extracts the raw float value from a metric.
func getMetricFloat(m *dto.Metric) float64 {
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	if m.Untyped != nil {
		return m.Untyped.GetValue()
	}
	return 0
}

// getLabel extracts a label value from a metric.
func getLabel(m *dto.Metric, name string) string {
	for _, label := range m.Label {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}
