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

package managedindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metrics"
	"github.com/united-manufacturing-hub/ilm-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/ilm-core/pkg/serviceregistry"
)

// initializedMessage is the diagnostic message of a freshly created record.
const initializedMessage = "Initialized managed index"

// CreateInstance is called when the FSM transitions from to_be_created -> creating.
// It writes the initial state record for the index unless one already exists,
// so a restarted process never resets lifecycle progress.
func (m *ManagedIndexInstance) CreateInstance(ctx context.Context, services serviceregistry.Provider) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, m.baseFSMInstance.GetID()+".create", time.Since(start))
	}()

	m.baseFSMInstance.GetLogger().Debugf("Starting Action: Initializing state record for %s ...", m.baseFSMInstance.GetID())

	_, err := services.GetStore().Get(ctx, configstore.CollectionManagedIndexMetadata, m.config.IndexUUID)
	if err == nil {
		// Record already exists, resume from it. Each action is expected to
		// be idempotent.
		m.baseFSMInstance.GetLogger().Debugf("State record for %s already exists, resuming", m.baseFSMInstance.GetID())
		return nil
	}
	if !errors.Is(err, configstore.ErrNotFound) {
		return fmt.Errorf("failed to read state record for %s: %w", m.baseFSMInstance.GetID(), err)
	}

	rec := metadata.ManagedIndexMetadata{
		IndexName:         m.config.IndexName,
		IndexUUID:         m.config.IndexUUID,
		PolicyID:          m.config.PolicyID,
		PolicySeqNo:       m.config.Policy.SeqNo,
		PolicyPrimaryTerm: m.config.Policy.PrimaryTerm,
		Info:              map[string]string{metadata.InfoKeyMessage: initializedMessage},
	}

	if err := m.persistRecord(ctx, services, rec); err != nil {
		return fmt.Errorf("failed to initialize state record for %s: %w", m.baseFSMInstance.GetID(), err)
	}

	m.baseFSMInstance.GetLogger().Debugf("State record for %s initialized", m.baseFSMInstance.GetID())
	return nil
}

// RemoveInstance deletes the state record and the scheduler job of the
// index. It is called once the index is no longer attached to a policy.
func (m *ManagedIndexInstance) RemoveInstance(ctx context.Context, services serviceregistry.Provider) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, m.baseFSMInstance.GetID()+".remove", time.Since(start))
	}()

	m.baseFSMInstance.GetLogger().Debugf("Starting Action: Removing state record and job for %s ...", m.baseFSMInstance.GetID())

	store := services.GetStore()
	if err := store.Delete(ctx, configstore.CollectionManagedIndexMetadata, m.config.IndexUUID); err != nil {
		return fmt.Errorf("failed to delete state record for %s: %w", m.baseFSMInstance.GetID(), err)
	}
	if err := store.Delete(ctx, configstore.CollectionSchedulerJobs, m.config.IndexUUID); err != nil {
		return fmt.Errorf("failed to delete scheduler job for %s: %w", m.baseFSMInstance.GetID(), err)
	}

	m.baseFSMInstance.GetLogger().Debugf("State record and job for %s removed", m.baseFSMInstance.GetID())
	return nil
}

// StartInstance resumes policy work for the index. All progress lives in
// the state record, so there is nothing external to start.
func (m *ManagedIndexInstance) StartInstance(ctx context.Context, services serviceregistry.Provider) error {
	m.baseFSMInstance.GetLogger().Infof("Resuming policy work for %s", m.baseFSMInstance.GetID())
	return nil
}

// StopInstance parks policy work for the index, leaving the state record at
// its current position.
func (m *ManagedIndexInstance) StopInstance(ctx context.Context, services serviceregistry.Provider) error {
	m.baseFSMInstance.GetLogger().Infof("Parking policy work for %s", m.baseFSMInstance.GetID())
	return nil
}

// UpdateObservedStateOfInstance fetches the state record and the scheduler
// job of the index from the store.
func (m *ManagedIndexInstance) UpdateObservedStateOfInstance(ctx context.Context, services serviceregistry.Provider, tick uint64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentIndexInstance, m.baseFSMInstance.GetID()+".update_observed_state", time.Since(start))
	}()

	store := services.GetStore()

	doc, err := store.Get(ctx, configstore.CollectionManagedIndexMetadata, m.config.IndexUUID)
	switch {
	case err == nil:
		rec, decodeErr := metadata.FromDocument(doc)
		if decodeErr != nil {
			return fmt.Errorf("failed to decode state record for %s: %w", m.baseFSMInstance.GetID(), decodeErr)
		}
		m.ObservedState.Record = rec
		m.ObservedState.HasRecord = true
	case errors.Is(err, configstore.ErrNotFound):
		m.ObservedState.HasRecord = false
	default:
		return fmt.Errorf("failed to read state record for %s: %w", m.baseFSMInstance.GetID(), err)
	}

	jobDoc, err := store.Get(ctx, configstore.CollectionSchedulerJobs, m.config.IndexUUID)
	switch {
	case err == nil:
		job, decodeErr := scheduler.FromDocument(jobDoc)
		if decodeErr != nil {
			return fmt.Errorf("failed to decode scheduler job for %s: %w", m.baseFSMInstance.GetID(), decodeErr)
		}
		m.ObservedState.Job = job
		m.ObservedState.HasJob = true
	case errors.Is(err, configstore.ErrNotFound):
		m.ObservedState.HasJob = false
	default:
		return fmt.Errorf("failed to read scheduler job for %s: %w", m.baseFSMInstance.GetID(), err)
	}

	return nil
}

// persistRecord writes the record to the store, refreshes the observed
// state and appends the record to the audit history. Every record mutation
// of the driver flows through here.
func (m *ManagedIndexInstance) persistRecord(ctx context.Context, services serviceregistry.Provider, rec metadata.ManagedIndexMetadata) error {
	doc, err := metadata.ToDocument(rec)
	if err != nil {
		return fmt.Errorf("failed to encode state record for %s: %w", rec.IndexName, err)
	}

	results, err := services.GetStore().BulkWrite(ctx, configstore.CollectionManagedIndexMetadata,
		[]configstore.WriteOp{{ID: rec.IndexUUID, Doc: doc}})
	if err != nil {
		return fmt.Errorf("failed to write state record for %s: %w", rec.IndexName, err)
	}
	if len(results) > 0 && results[0].Err != nil {
		return fmt.Errorf("failed to write state record for %s: %w", rec.IndexName, results[0].Err)
	}

	m.ObservedState.Record = rec
	m.ObservedState.HasRecord = true

	if m.recorder != nil {
		m.recorder.RecordTransition(rec)
	}

	return nil
}

// forceCleanup removes the store documents of the index without going
// through the lifecycle. It is the last resort for permanently failed
// instances.
func (m *ManagedIndexInstance) forceCleanup(ctx context.Context, services serviceregistry.Provider) error {
	store := services.GetStore()
	if err := store.Delete(ctx, configstore.CollectionManagedIndexMetadata, m.config.IndexUUID); err != nil {
		return err
	}

	return store.Delete(ctx, configstore.CollectionSchedulerJobs, m.config.IndexUUID)
}
