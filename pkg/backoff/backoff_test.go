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

package backoff_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/backoff"
)

var _ = Describe("BackoffManager", func() {
	var manager *backoff.BackoffManager

	BeforeEach(func() {
		manager = backoff.NewBackoffManager(backoff.Config{
			ID:           "test-instance",
			InitialTicks: 2,
			MaxTicks:     8,
			MaxRetries:   3,
			Logger:       zap.NewNop().Sugar(),
		})
	})

	It("should not skip operations before any error", func() {
		Expect(manager.ShouldSkipOperation(0)).To(BeFalse())
		Expect(manager.GetBackoffError(0)).ToNot(HaveOccurred())
	})

	It("should suppress operations for the backoff window after an error", func() {
		permanent := manager.SetError(errors.New("boom"), 10) //nolint:err113 // Test needs dynamic error
		Expect(permanent).To(BeFalse())

		Expect(manager.ShouldSkipOperation(10)).To(BeTrue())
		Expect(manager.ShouldSkipOperation(11)).To(BeTrue())
		Expect(manager.ShouldSkipOperation(12)).To(BeFalse())

		backErr := manager.GetBackoffError(10)
		Expect(backoff.IsTemporaryBackoffError(backErr)).To(BeTrue())
		Expect(backoff.ExtractOriginalError(backErr).Error()).To(Equal("boom"))
	})

	It("should grow the window exponentially up to the cap", func() {
		manager.SetError(errors.New("first"), 0)  //nolint:err113 // Test needs dynamic error
		manager.SetError(errors.New("second"), 2) //nolint:err113 // Test needs dynamic error

		// Second error doubles the window: 2 -> 4 ticks.
		Expect(manager.ShouldSkipOperation(5)).To(BeTrue())
		Expect(manager.ShouldSkipOperation(6)).To(BeFalse())
	})

	It("should escalate to permanent failure only once the retry budget is exceeded", func() {
		Expect(manager.SetError(errors.New("one"), 0)).To(BeFalse())    //nolint:err113 // Test needs dynamic error
		Expect(manager.SetError(errors.New("two"), 10)).To(BeFalse())   //nolint:err113 // Test needs dynamic error
		Expect(manager.SetError(errors.New("three"), 20)).To(BeFalse()) //nolint:err113 // Test needs dynamic error
		Expect(manager.IsPermanentlyFailed()).To(BeFalse())

		// Fourth error exceeds the budget of three retries.
		Expect(manager.SetError(errors.New("four"), 30)).To(BeTrue()) //nolint:err113 // Test needs dynamic error
		Expect(manager.IsPermanentlyFailed()).To(BeTrue())
		Expect(manager.ShouldSkipOperation(1000)).To(BeTrue())
		Expect(backoff.IsPermanentFailureError(manager.GetBackoffError(1000))).To(BeTrue())
	})

	It("should escalate immediately for categorized permanent errors", func() {
		err := backoff.NewPermanentError(errors.New("fatal")) //nolint:err113 // Test needs dynamic error
		Expect(manager.SetError(err, 0)).To(BeTrue())
		Expect(manager.IsPermanentlyFailed()).To(BeTrue())
	})

	It("should clear all state on reset", func() {
		manager.SetError(errors.New("one"), 0)  //nolint:err113 // Test needs dynamic error
		manager.SetError(errors.New("two"), 10) //nolint:err113 // Test needs dynamic error
		manager.Reset()

		Expect(manager.ShouldSkipOperation(0)).To(BeFalse())
		Expect(manager.IsPermanentlyFailed()).To(BeFalse())
		Expect(manager.GetLastError()).ToNot(HaveOccurred())
	})
})
