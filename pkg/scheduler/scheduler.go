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

// Package scheduler defines the per-index job control documents. A job
// document gates whether the control loop drives an index: disabled jobs
// park the instance, enabled jobs run. Enabling happens through the config
// store's bulk write, never through a separate control channel.
package scheduler

import (
	"fmt"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/codec"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
)

// DefaultIntervalMinutes is the job interval applied when an attachment
// entry does not set one.
const DefaultIntervalMinutes = 5

// JobDocument is the control document of one managed index. JobID equals
// the index UUID so a recreated index under the same name gets a fresh job.
type JobDocument struct {
	JobID           string `json:"jobId"`
	IndexName       string `json:"indexName"`
	IndexUUID       string `json:"indexUuid"`
	Enabled         bool   `json:"enabled"`
	EnabledTime     int64  `json:"enabledTime,omitempty"`
	LastUpdateTime  int64  `json:"lastUpdateTime"`
	IntervalMinutes int    `json:"intervalMinutes"`
}

// NewJobDocument builds a disabled job for a resolved index.
func NewJobDocument(info cluster.IndexInfo, intervalMinutes int) JobDocument {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}

	return JobDocument{
		JobID:           info.UUID,
		IndexName:       info.Name,
		IndexUUID:       info.UUID,
		IntervalMinutes: intervalMinutes,
		LastUpdateTime:  metadata.NowMillis(),
	}
}

// Enable marks the job runnable and stamps both timestamps.
func (j JobDocument) Enable(now int64) JobDocument {
	j.Enabled = true
	j.EnabledTime = now
	j.LastUpdateTime = now

	return j
}

// ToDocument converts the job into a store document.
func ToDocument(j JobDocument) (configstore.Document, error) {
	raw, err := codec.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job for %s: %w", j.IndexName, err)
	}

	var doc configstore.Document
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to build job document for %s: %w", j.IndexName, err)
	}

	return doc, nil
}

// FromDocument converts a store document back into a job.
func FromDocument(doc configstore.Document) (JobDocument, error) {
	raw, err := codec.Marshal(doc)
	if err != nil {
		return JobDocument{}, fmt.Errorf("failed to encode job document: %w", err)
	}

	var j JobDocument
	if err := codec.Unmarshal(raw, &j); err != nil {
		return JobDocument{}, fmt.Errorf("failed to decode job: %w", err)
	}

	return j, nil
}

// BulkEnableOps builds the single batched write that enables the given
// existing jobs. Each job is written whole with only Enabled and the
// timestamps changed, so a configured interval survives the rewrite.
func BulkEnableOps(jobs []JobDocument, now int64) ([]configstore.WriteOp, error) {
	ops := make([]configstore.WriteOp, 0, len(jobs))

	for _, job := range jobs {
		doc, err := ToDocument(job.Enable(now))
		if err != nil {
			return nil, err
		}
		ops = append(ops, configstore.WriteOp{ID: job.JobID, Doc: doc})
	}

	return ops, nil
}
