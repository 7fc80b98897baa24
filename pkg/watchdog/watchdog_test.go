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

package watchdog_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/sentry"
	"github.com/united-manufacturing-hub/ilm-core/pkg/watchdog"
)

var _ = Describe("Watchdog", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		w      *watchdog.Watchdog
	)

	BeforeEach(func() {
		sentry.EnableTestMode()
		ctx, cancel = context.WithCancel(context.Background())
		w = watchdog.New(ctx, time.NewTicker(50*time.Millisecond))
	})

	AfterEach(func() {
		cancel()
		sentry.DisableTestMode()
	})

	It("tracks registered workers until they unregister", func() {
		id := w.Register("control-loop", 0, 0)
		Expect(w.Registered("control-loop")).To(BeTrue())

		w.Beat(id, watchdog.StatusOK)
		Expect(w.Registered("control-loop")).To(BeTrue())

		w.Unregister(id)
		Expect(w.Registered("control-loop")).To(BeFalse())
	})

	It("returns the existing handle on a duplicate registration", func() {
		first := w.Register("recovery", 0, 0)
		second := w.Register("recovery", 0, 0)
		Expect(second).To(Equal(first))
	})

	It("drops a worker that misses its deadline", func() {
		go w.Start()

		w.Register("stalled-worker", 0, 1)

		Eventually(func() bool {
			return w.Registered("stalled-worker")
		}, "5s", "100ms").Should(BeFalse())
	})

	It("keeps a beating worker registered past its deadline window", func() {
		go w.Start()

		id := w.Register("live-worker", 0, 1)

		Consistently(func() bool {
			w.Beat(id, watchdog.StatusOK)

			return w.Registered("live-worker")
		}, "2500ms", "200ms").Should(BeTrue())
	})

	It("ignores beats from unknown handles", func() {
		Expect(func() { w.Beat(uuid.New(), watchdog.StatusOK) }).NotTo(Panic())
	})
})
