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

package logger_test

import (
	"context"
	"sync"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
)

// captureTransport collects the events the Sentry client would send.
type captureTransport struct {
	mu     sync.Mutex
	events []*sentrygo.Event
}

func (t *captureTransport) Configure(options sentrygo.ClientOptions)  {}
func (t *captureTransport) Flush(timeout time.Duration) bool          { return true }
func (t *captureTransport) FlushWithContext(ctx context.Context) bool { return true }
func (t *captureTransport) Close()                                    {}

func (t *captureTransport) SendEvent(event *sentrygo.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *captureTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.events)
}

func (t *captureTransport) Last() *sentrygo.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) == 0 {
		return nil
	}

	return t.events[len(t.events)-1]
}

var _ = Describe("New", func() {
	var transport *captureTransport

	BeforeEach(func() {
		transport = &captureTransport{}

		err := sentrygo.Init(sentrygo.ClientOptions{
			Dsn:       "https://test@sentry.io/123",
			Transport: transport,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("mirrors error level logs to Sentry", func() {
		log := logger.New("DEBUG", logger.FormatJSON)

		log.Error("close step stuck")

		Eventually(transport.Len, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))
		Expect(transport.Last().Message).To(Equal("close step stuck"))
	})

	It("does not mirror info level logs", func() {
		log := logger.New("DEBUG", logger.FormatJSON)

		log.Info("tick complete")

		Consistently(transport.Len, 200*time.Millisecond, 20*time.Millisecond).Should(Equal(0))
	})
})
