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

package history_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/ilm-core/pkg/history"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
)

func record(name, id string) metadata.ManagedIndexMetadata {
	return metadata.ManagedIndexMetadata{
		IndexName: name,
		IndexUUID: id,
		PolicyID:  "hot-warm",
		State:     &metadata.StateMetadata{Name: "hot", StartTime: 1000},
		Info:      map[string]string{metadata.InfoKeyMessage: metadata.PendingRetryMessage},
	}
}

var _ = Describe("Recorder", func() {
	var (
		dir      string
		recorder *history.Recorder
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	AfterEach(func() {
		if recorder != nil {
			_ = recorder.Close()
		}
	})

	It("round-trips entries through a compressed segment", func() {
		var err error
		recorder, err = history.NewRecorder(history.Config{Dir: dir})
		Expect(err).NotTo(HaveOccurred())

		Expect(recorder.Append(record("logs-000001", "u-1"))).To(Succeed())
		Expect(recorder.Append(record("logs-000002", "u-2"))).To(Succeed())
		Expect(recorder.Close()).To(Succeed())

		segments, err := recorder.Segments()
		Expect(err).NotTo(HaveOccurred())
		Expect(segments).To(HaveLen(1))

		entries, err := history.ReadSegment(segments[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].IndexName).To(Equal("logs-000001"))
		Expect(entries[0].Record.PolicyID).To(Equal("hot-warm"))
		Expect(entries[1].IndexUUID).To(Equal("u-2"))
	})

	It("rotates segments by size", func() {
		var err error
		recorder, err = history.NewRecorder(history.Config{
			Dir:             dir,
			MaxSegmentBytes: 64,
			MaxSegments:     100,
		})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 5; i++ {
			Expect(recorder.Append(record(fmt.Sprintf("logs-%06d", i), fmt.Sprintf("u-%d", i)))).To(Succeed())
		}
		Expect(recorder.Close()).To(Succeed())

		segments, err := recorder.Segments()
		Expect(err).NotTo(HaveOccurred())
		Expect(len(segments)).To(BeNumerically(">", 1))
	})

	It("prunes the oldest segments beyond retention", func() {
		var err error
		recorder, err = history.NewRecorder(history.Config{
			Dir:             dir,
			MaxSegmentBytes: 1,
			MaxSegments:     3,
		})
		Expect(err).NotTo(HaveOccurred())

		// Every append overflows the segment, so each one rotates.
		for i := 0; i < 10; i++ {
			Expect(recorder.Append(record(fmt.Sprintf("logs-%06d", i), fmt.Sprintf("u-%d", i)))).To(Succeed())
		}
		Expect(recorder.Close()).To(Succeed())

		segments, err := recorder.Segments()
		Expect(err).NotTo(HaveOccurred())
		Expect(len(segments)).To(BeNumerically("<=", 3))
	})

	It("rejects appends after close", func() {
		var err error
		recorder, err = history.NewRecorder(history.Config{Dir: dir})
		Expect(err).NotTo(HaveOccurred())
		Expect(recorder.Close()).To(Succeed())

		Expect(recorder.Append(record("logs-000001", "u-1"))).NotTo(Succeed())
	})
})
