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

// Package history keeps an append-only audit of state record transitions.
// Entries are JSON lines inside zstd-compressed segment files named by
// their TAI64N creation stamp, so lexical order is creation order. Segments
// rotate by size and the oldest are pruned beyond the retention limit.
// Auditing is best effort: a failed append is logged, never propagated to
// the writer that caused it.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cactus/tai64"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/codec"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/metadata"
)

// SegmentSuffix marks history segment files.
const SegmentSuffix = ".jsonl.zst"

// Defaults applied when Config leaves the limits zero.
const (
	DefaultMaxSegmentBytes = 1 << 20 // uncompressed bytes per segment
	DefaultMaxSegments     = 16
)

// Entry is one audited transition.
type Entry struct {
	Timestamp int64                         `json:"timestamp"`
	IndexName string                        `json:"indexName"`
	IndexUUID string                        `json:"indexUuid"`
	Record    metadata.ManagedIndexMetadata `json:"record"`
}

// Config sizes the recorder.
type Config struct {
	Dir             string
	MaxSegmentBytes int64
	MaxSegments     int
}

// Recorder appends transition entries to the active segment.
type Recorder struct {
	mu   sync.Mutex
	dir  string
	max  int64
	keep int
	log  *zap.SugaredLogger

	file    *os.File
	encoder *zstd.Encoder
	written int64
}

// NewRecorder creates the history directory if needed and opens the first
// segment.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir %s: %w", cfg.Dir, err)
	}

	r := &Recorder{
		dir:  cfg.Dir,
		max:  cfg.MaxSegmentBytes,
		keep: cfg.MaxSegments,
		log:  logger.For(logger.ComponentHistory),
	}

	if err := r.openSegment(); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordTransition audits one record rewrite. Failures are logged only.
func (r *Recorder) RecordTransition(m metadata.ManagedIndexMetadata) {
	if err := r.Append(m); err != nil {
		r.log.Warnf("failed to audit transition for %s: %v", m.IndexName, err)
	}
}

// Append writes one entry and rotates the segment when it exceeds its size
// limit.
func (r *Recorder) Append(m metadata.ManagedIndexMetadata) error {
	entry := Entry{
		Timestamp: metadata.NowMillis(),
		IndexName: m.IndexName,
		IndexUUID: m.IndexUUID,
		Record:    m,
	}

	line, err := codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return fmt.Errorf("history recorder is closed")
	}

	n, err := r.encoder.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write history entry: %w", err)
	}
	r.written += int64(n)

	if r.written >= r.max {
		return r.rotate()
	}

	return nil
}

// Segments lists the segment files, oldest first.
func (r *Recorder) Segments() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list history dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), SegmentSuffix) {
			names = append(names, filepath.Join(r.dir, e.Name()))
		}
	}
	sort.Strings(names)

	return names, nil
}

// Close flushes and closes the active segment.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closeSegment()
}

func (r *Recorder) openSegment() error {
	name := tai64.FormatNano(time.Now()) + SegmentSuffix
	path := filepath.Join(r.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history segment %s: %w", path, err)
	}

	encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to create segment encoder: %w", err)
	}

	r.file = file
	r.encoder = encoder
	r.written = 0

	return nil
}

func (r *Recorder) closeSegment() error {
	if r.encoder == nil {
		return nil
	}

	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	r.encoder = nil
	r.file = nil

	if encErr != nil {
		return fmt.Errorf("failed to flush history segment: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close history segment: %w", fileErr)
	}

	return nil
}

// rotate closes the active segment, prunes beyond retention and opens a
// fresh one. Callers hold the mutex.
func (r *Recorder) rotate() error {
	if err := r.closeSegment(); err != nil {
		return err
	}
	if err := r.prune(); err != nil {
		r.log.Warnf("failed to prune history segments: %v", err)
	}

	return r.openSegment()
}

// prune deletes the oldest segments beyond the retention limit. The new
// segment about to be opened counts against the limit.
func (r *Recorder) prune() error {
	names, err := r.Segments()
	if err != nil {
		return err
	}

	for len(names) >= r.keep {
		if err := os.Remove(names[0]); err != nil {
			return fmt.Errorf("failed to remove segment %s: %w", names[0], err)
		}
		names = names[1:]
	}

	return nil
}

// ReadSegment decodes every entry of one segment file.
func ReadSegment(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment %s: %w", path, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment decoder: %w", err)
	}
	defer decoder.Close()

	decoded, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress segment %s: %w", path, err)
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(decoded)), "\n") {
		if line == "" {
			continue
		}

		var entry Entry
		if err := codec.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
