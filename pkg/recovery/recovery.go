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

// Package recovery re-arms managed indices whose lifecycle has terminally
// failed. One run is a fixed chain of batched stages over a single run
// context; network cost is bounded by the number of stages, never by the
// number of indices. Per-index problems only grow the failure list; a
// blocked cluster completes the run early with partial results.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/cluster"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	"github.com/united-manufacturing-hub/ilm-core/pkg/constants"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/permissions"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
)

// Classification reasons reported per excluded index.
const (
	ReasonNotManaged        = "not managed"
	ReasonNoMetadata        = "no metadata information"
	ReasonMetadataMigrating = "cannot retry until metadata has finished migrating"
	ReasonNotFailed         = "index is not in failed state"
	ReasonMetadataUpdate    = "failed to update metadata"
	ReasonClusterBlocked    = "cluster is blocked"
)

// Run outcomes for metrics.
const (
	outcomeCompleted = "completed"
	outcomeBlocked   = "blocked"
	outcomeFailed    = "failed"
)

// Request asks for the failed indices matching the given name patterns to
// be re-armed. StartState optionally forces the state the retried policy
// resumes in; empty resumes the recorded state. Identity is the caller the
// permission validator judges.
type Request struct {
	Patterns   []string `json:"indices"`
	StartState string   `json:"startState,omitempty"`
	Identity   string   `json:"-"`
}

// FailedIndex is one index excluded from recovery, with the reason.
type FailedIndex struct {
	Name   string `json:"indexName"`
	UUID   string `json:"indexUuid"`
	Reason string `json:"reason"`
}

// Response reports how many indices were re-armed and every index that was
// not, with its classification.
type Response struct {
	Updated       int           `json:"updated"`
	FailedIndices []FailedIndex `json:"failedIndices"`
}

// Recorder receives every record the pipeline rewrites. The audit history
// implements it; a nil recorder disables auditing.
type Recorder interface {
	RecordTransition(m metadata.ManagedIndexMetadata)
}

// Config wires the pipeline's collaborators. Validator nil disables the
// permission stage, Recorder nil disables auditing.
type Config struct {
	Store     configstore.Store
	Provider  cluster.Provider
	Validator permissions.Validator
	Recorder  Recorder
}

// Service runs the recovery pipeline. Concurrent runs are independent;
// overlapping indices are last-writer-wins.
type Service struct {
	store     configstore.Store
	provider  cluster.Provider
	validator permissions.Validator
	recorder  Recorder
	log       *zap.SugaredLogger
}

// NewService builds the pipeline service.
func NewService(cfg Config) *Service {
	return &Service{
		store:     cfg.Store,
		provider:  cfg.Provider,
		validator: cfg.Validator,
		recorder:  cfg.Recorder,
		log:       logger.For(logger.ComponentRecovery),
	}
}

// runContext is the single mutable value threaded through the stages. It is
// owned by exactly one run.
type runContext struct {
	patterns   []string
	startState string

	// resolved keeps request order; pending tracks indices not yet
	// classified, keyed by UUID.
	resolved []cluster.IndexInfo
	pending  map[string]bool

	jobs    map[string]scheduler.JobDocument
	records map[string]metadata.ManagedIndexMetadata
	enabled []cluster.IndexInfo

	updated       int
	failed        []FailedIndex
	failedReasons map[string]int
}

func newRunContext(req Request) *runContext {
	return &runContext{
		patterns:      req.Patterns,
		startState:    req.StartState,
		pending:       make(map[string]bool),
		jobs:          make(map[string]scheduler.JobDocument),
		records:       make(map[string]metadata.ManagedIndexMetadata),
		failedReasons: make(map[string]int),
	}
}

// fail classifies one index exactly once.
func (r *runContext) fail(info cluster.IndexInfo, reason string) {
	if !r.pending[info.UUID] {
		return
	}
	delete(r.pending, info.UUID)

	r.failed = append(r.failed, FailedIndex{Name: info.Name, UUID: info.UUID, Reason: reason})
	r.failedReasons[reason]++
}

// failAllPending demotes every index not yet classified. Used by the
// cluster-block short-circuit.
func (r *runContext) failAllPending(reason string) {
	for _, info := range r.resolved {
		r.fail(info, reason)
	}
}

func (r *runContext) response() *Response {
	return &Response{Updated: r.updated, FailedIndices: r.failed}
}

// RetryFailedIndices runs the whole pipeline. It returns either a response
// (possibly listing only failures) or an operation-level error; permission
// denials satisfy errors.Is against standarderrors.ErrPermissionDenied. The
// completion guard converts panics into an error return, so the caller is
// completed exactly once.
func (s *Service) RetryFailedIndices(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	run := newRunContext(req)
	outcome := outcomeCompleted

	defer func() {
		if r := recover(); r != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, s.log, "recovery run panicked: %v", r)
			resp = nil
			err = fmt.Errorf("recovery run panicked: %v", r)
		}
		if err != nil {
			outcome = outcomeFailed
		}

		updated := 0
		if resp != nil {
			updated = resp.Updated
		}
		metrics.ObserveRecoveryRun(outcome, updated, run.failedReasons, time.Since(start))
	}()

	if len(req.Patterns) == 0 {
		return nil, fmt.Errorf("no index patterns given")
	}

	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	// Outbound calls run under the system identity; the caller's ambient
	// identity stays on the original context.
	opCtx := permissions.WithIdentity(ctx, permissions.SystemIdentity)

	blocked, err := s.resolve(opCtx, run)
	if err != nil {
		return nil, err
	}
	if blocked {
		outcome = outcomeBlocked

		return run.response(), nil
	}

	for _, stage := range []func(context.Context, *runContext) (bool, error){
		s.checkManaged,
		s.fetchMetadata,
		s.bulkEnable,
		s.bulkUpdateMetadata,
	} {
		blocked, err := stage(opCtx, run)
		if err != nil {
			return nil, err
		}
		if blocked {
			outcome = outcomeBlocked
			run.failAllPending(ReasonClusterBlocked)

			return run.response(), nil
		}
		if len(run.pending) == 0 {
			break
		}
	}

	s.log.Infof("recovery run finished: %d updated, %d excluded", run.updated, len(run.failed))

	return run.response(), nil
}

// validate is the optional permission stage.
func (s *Service) validate(ctx context.Context, req Request) error {
	if s.validator == nil {
		return nil
	}

	if err := s.validator.ValidatePatterns(ctx, req.Identity, req.Patterns); err != nil {
		return fmt.Errorf("recovery request rejected: %w", err)
	}

	return nil
}

// resolve expands the request patterns into concrete indices. First
// occurrence wins on duplicate UUIDs.
func (s *Service) resolve(ctx context.Context, run *runContext) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.ClusterStateResolutionTimeout)
	defer cancel()

	infos, err := s.provider.ResolveIndices(callCtx, run.patterns)
	if err != nil {
		if cluster.IsBlockedError(err) {
			s.log.Warnf("cluster blocked while resolving indices: %v", err)

			return true, nil
		}

		return false, fmt.Errorf("failed to resolve indices: %w", err)
	}

	for _, info := range infos {
		if run.pending[info.UUID] {
			continue
		}
		run.pending[info.UUID] = true
		run.resolved = append(run.resolved, info)
	}

	return false, nil
}

// checkManaged verifies each resolved index has a job document. A missing
// job collection classifies every index at once and ends the run.
func (s *Service) checkManaged(ctx context.Context, run *runContext) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.RecoveryStageTimeout)
	defer cancel()

	exists, err := s.store.CollectionExists(callCtx, configstore.CollectionSchedulerJobs)
	if err != nil {
		if cluster.IsBlockedError(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to check job collection: %w", err)
	}
	if !exists {
		run.failAllPending(ReasonNotManaged)

		return false, nil
	}

	results, err := s.store.MultiGet(callCtx, configstore.CollectionSchedulerJobs, run.pendingIDs())
	if err != nil {
		if cluster.IsBlockedError(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to look up job documents: %w", err)
	}

	for _, res := range results {
		info := run.infoFor(res.ID)
		switch {
		case res.Err != nil:
			run.fail(info, fmt.Sprintf("failed to look up job document: %v", res.Err))
		case !res.Found:
			run.fail(info, ReasonNotManaged)
		default:
			job, err := scheduler.FromDocument(res.Doc)
			if err != nil {
				run.fail(info, fmt.Sprintf("failed to decode job document: %v", err))

				continue
			}
			// Kept for the enable stage so the configured interval survives.
			run.jobs[res.ID] = job
		}
	}

	return false, nil
}

// fetchMetadata loads the state records of all still-pending indices and
// classifies each exactly once; only indices whose record marks the
// lifecycle failed stay pending.
func (s *Service) fetchMetadata(ctx context.Context, run *runContext) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.RecoveryStageTimeout)
	defer cancel()

	ids := run.pendingIDs()

	results, err := s.store.MultiGet(callCtx, configstore.CollectionManagedIndexMetadata, ids)
	if err != nil {
		if cluster.IsBlockedError(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	var missing []string

	for _, res := range results {
		info := run.infoFor(res.ID)
		switch {
		case res.Err != nil:
			run.fail(info, fmt.Sprintf("failed to fetch metadata: %v", res.Err))
		case !res.Found:
			missing = append(missing, res.ID)
		default:
			record, decodeErr := metadata.FromDocument(res.Doc)
			if decodeErr != nil {
				run.fail(info, fmt.Sprintf("failed to fetch metadata: %v", decodeErr))

				continue
			}
			if !record.IsFailed() {
				run.fail(info, ReasonNotFailed)

				continue
			}
			run.records[res.ID] = record
		}
	}

	if len(missing) > 0 {
		if blocked, err := s.classifyMissing(callCtx, run, missing); blocked || err != nil {
			return blocked, err
		}
	}

	return false, nil
}

// classifyMissing separates indices whose record still lives under the
// legacy migration path from indices with no record at all.
func (s *Service) classifyMissing(ctx context.Context, run *runContext, ids []string) (bool, error) {
	results, err := s.store.MultiGet(ctx, configstore.CollectionMetadataMigration, ids)
	if err != nil {
		if cluster.IsBlockedError(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to check metadata migration: %w", err)
	}

	for _, res := range results {
		info := run.infoFor(res.ID)
		if res.Err == nil && res.Found {
			run.fail(info, ReasonMetadataMigrating)
		} else {
			run.fail(info, ReasonNoMetadata)
		}
	}

	return false, nil
}

// bulkEnable re-enables the scheduler job of every eligible index in one
// batched write. Item failures demote only their own index.
func (s *Service) bulkEnable(ctx context.Context, run *runContext) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.RecoveryStageTimeout)
	defer cancel()

	jobs := make([]scheduler.JobDocument, 0, len(run.pending))
	for _, info := range run.pendingInfos() {
		jobs = append(jobs, run.jobs[info.UUID])
	}

	ops, err := scheduler.BulkEnableOps(jobs, metadata.NowMillis())
	if err != nil {
		return false, fmt.Errorf("failed to build job updates: %w", err)
	}

	results, err := s.store.BulkWrite(callCtx, configstore.CollectionSchedulerJobs, ops)
	if err != nil {
		if cluster.IsBlockedError(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to enable jobs: %w", err)
	}

	for _, res := range results {
		if res.Err != nil {
			run.fail(run.infoFor(res.ID), fmt.Sprintf("failed to enable job: %v", res.Err))

			continue
		}
		run.enabled = append(run.enabled, run.infoFor(res.ID))
	}

	return false, nil
}

// bulkUpdateMetadata rewrites the state record of every enabled index in
// one batched write and counts the successes.
func (s *Service) bulkUpdateMetadata(ctx context.Context, run *runContext) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.RecoveryStageTimeout)
	defer cancel()

	ops := make([]configstore.WriteOp, 0, len(run.enabled))
	rearmed := make(map[string]metadata.ManagedIndexMetadata, len(run.enabled))

	for _, info := range run.enabled {
		record := run.records[info.UUID].ForRetry(run.startState)

		doc, err := metadata.ToDocument(record)
		if err != nil {
			run.fail(info, ReasonMetadataUpdate)

			continue
		}

		rearmed[info.UUID] = record
		ops = append(ops, configstore.WriteOp{ID: info.UUID, Doc: doc})
	}

	if len(ops) == 0 {
		return false, nil
	}

	results, err := s.store.BulkWrite(callCtx, configstore.CollectionManagedIndexMetadata, ops)
	if err != nil {
		if cluster.IsBlockedError(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to update metadata: %w", err)
	}

	for _, res := range results {
		info := run.infoFor(res.ID)
		if res.Err != nil {
			run.fail(info, ReasonMetadataUpdate)

			continue
		}

		delete(run.pending, res.ID)
		run.updated++

		if s.recorder != nil {
			s.recorder.RecordTransition(rearmed[res.ID])
		}
	}

	return false, nil
}

// pendingIDs returns the UUIDs still awaiting classification, in request
// order.
func (r *runContext) pendingIDs() []string {
	ids := make([]string, 0, len(r.pending))
	for _, info := range r.resolved {
		if r.pending[info.UUID] {
			ids = append(ids, info.UUID)
		}
	}

	return ids
}

func (r *runContext) pendingInfos() []cluster.IndexInfo {
	infos := make([]cluster.IndexInfo, 0, len(r.pending))
	for _, info := range r.resolved {
		if r.pending[info.UUID] {
			infos = append(infos, info)
		}
	}

	return infos
}

func (r *runContext) infoFor(id string) cluster.IndexInfo {
	for _, info := range r.resolved {
		if info.UUID == id {
			return info
		}
	}

	return cluster.IndexInfo{UUID: id}
}
