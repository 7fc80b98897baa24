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

package sentry

import (
	"errors"

	"github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var _ = Describe("Issue reporting", func() {
	var (
		store  *eventStore
		logger *zap.SugaredLogger
	)

	BeforeEach(func() {
		store = newEventStore()

		err := sentry.Init(sentry.ClientOptions{
			Dsn:       "https://test@sentry.io/123",
			Transport: &mockTransport{store: store},
		})
		Expect(err).NotTo(HaveOccurred())

		logger = zaptest.NewLogger(GinkgoT()).Sugar()

		EnableTestMode()
		DeferCleanup(DisableTestMode)
	})

	Describe("ReportIssueWithContext", func() {
		It("sends the event with context values as tags", func() {
			ReportIssueWithContext(errors.New("close step stuck"), IssueTypeError, logger, map[string]interface{}{
				"instance_id": "logs-000001",
				"operation":   "reconcile",
			})

			events := store.GetAll()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Level).To(Equal(sentry.LevelError))
			Expect(events[0].Tags).To(HaveKeyWithValue("instance_id", "logs-000001"))
			Expect(events[0].Tags).To(HaveKeyWithValue("operation", "reconcile"))
		})

		It("sends warnings with context", func() {
			ReportIssueWithContext(errors.New("slow resolution"), IssueTypeWarning, logger, map[string]interface{}{
				"component": "cluster",
			})

			events := store.GetAll()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Level).To(Equal(sentry.LevelWarning))
			Expect(events[0].Tags).To(HaveKeyWithValue("component", "cluster"))
		})
	})

	Describe("FSM helpers", func() {
		It("tags events with instance, type and operation", func() {
			ReportFSMError(logger, "logs-000001", "managedindex", "CreateObservedStateSnapshot", errors.New("store unavailable"))

			events := store.GetAll()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Tags).To(HaveKeyWithValue("instance_id", "logs-000001"))
			Expect(events[0].Tags).To(HaveKeyWithValue("fsm_type", "managedindex"))
			Expect(events[0].Tags).To(HaveKeyWithValue("operation", "CreateObservedStateSnapshot"))
		})

		It("formats templated errors", func() {
			ReportFSMErrorf(logger, "logs-000002", "managedindex", "permanent_failure", "retries exhausted after %d attempts", 3)

			events := store.GetAll()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Message).To(ContainSubstring("retries exhausted after 3 attempts"))
		})
	})

	Describe("debouncing", func() {
		It("sends every event while test mode disables the window", func() {
			ReportIssueWithContext(errors.New("first"), IssueTypeError, logger, nil)
			ReportIssueWithContext(errors.New("second"), IssueTypeError, logger, nil)

			Expect(store.Len()).To(Equal(2))
		})

		It("suppresses repeat errors inside the window", func() {
			DisableTestMode()
			defer EnableTestMode()

			ReportIssueWithContext(errors.New("first"), IssueTypeError, logger, nil)
			sent := store.Len()

			ReportIssueWithContext(errors.New("second"), IssueTypeError, logger, nil)
			Expect(store.Len()).To(Equal(sent))
		})
	})
})
