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

package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/ilm-core/pkg/codec"
	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/standarderrors"
)

const resolveCacheTTL = 5 * time.Second

// HTTPProvider talks to an OpenSearch-compatible REST API. Pattern
// resolution results are cached briefly; idempotent GETs are retried with
// exponential backoff before the failure is surfaced as a RemoteError.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	logger   *zap.SugaredLogger

	resolveCache *expiremap.ExpireMap[string, []IndexInfo]
}

// NewHTTPProvider creates a provider against the given base endpoint,
// e.g. "http://localhost:9200".
func NewHTTPProvider(endpoint string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTPProvider{
		endpoint:     strings.TrimRight(endpoint, "/"),
		client:       client,
		logger:       logger.For(logger.ComponentClusterProvider),
		resolveCache: expiremap.NewEx[string, []IndexInfo](resolveCacheTTL, resolveCacheTTL),
	}
}

type resolveResponse struct {
	Indices []struct {
		Index string `json:"index"`
		UUID  string `json:"uuid"`
	} `json:"indices"`
}

type ackResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	RolledOver   bool   `json:"rolled_over"`
	Error        string `json:"error,omitempty"`
}

// ResolveIndices resolves patterns via the cluster state endpoint. Results
// are cached for a few seconds since recovery and driver ticks frequently
// resolve the same patterns back to back.
func (p *HTTPProvider) ResolveIndices(ctx context.Context, patterns []string) ([]IndexInfo, error) {
	key := cacheKey(patterns)
	if cached, ok := p.resolveCache.Load(key); ok {
		return *cached, nil
	}

	url := fmt.Sprintf("%s/_cluster/state/metadata/%s?expand_wildcards=open,closed&strict=true",
		p.endpoint, strings.Join(patterns, ","))

	body, err := p.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	var decoded resolveResponse
	if err := codec.Unmarshal(body, &decoded); err != nil {
		return nil, NewRemoteError("resolve", err)
	}

	infos := make([]IndexInfo, 0, len(decoded.Indices))
	for _, idx := range decoded.Indices {
		infos = append(infos, IndexInfo{Name: idx.Index, UUID: idx.UUID})
	}

	p.resolveCache.Set(key, infos)

	return infos, nil
}

// OpenIndex issues POST /<index>/_open.
func (p *HTTPProvider) OpenIndex(ctx context.Context, index string) (AckResult, error) {
	return p.post(ctx, "open", fmt.Sprintf("%s/%s/_open", p.endpoint, index))
}

// CloseIndex issues POST /<index>/_close.
func (p *HTTPProvider) CloseIndex(ctx context.Context, index string) (AckResult, error) {
	return p.post(ctx, "close", fmt.Sprintf("%s/%s/_close", p.endpoint, index))
}

// RolloverAlias issues POST /<alias>/_rollover.
func (p *HTTPProvider) RolloverAlias(ctx context.Context, alias string) (AckResult, error) {
	return p.post(ctx, "rollover", fmt.Sprintf("%s/%s/_rollover", p.endpoint, alias))
}

func (p *HTTPProvider) post(ctx context.Context, op, url string) (AckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return AckResult{}, NewRemoteError(op, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return AckResult{}, NewRemoteError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AckResult{}, NewRemoteError(op, err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return AckResult{}, fmt.Errorf("%s %s: %w", op, url, err)
	}

	var decoded ackResponse
	if err := codec.Unmarshal(body, &decoded); err != nil {
		return AckResult{}, NewRemoteError(op, err)
	}

	return AckResult{Acknowledged: decoded.Acknowledged, RolledOver: decoded.RolledOver}, nil
}

// getWithRetry retries idempotent GETs with exponential backoff; the last
// transport error is wrapped as a RemoteError.
func (p *HTTPProvider) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxElapsedTime = 5 * time.Second

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if err := classifyStatus(resp.StatusCode, body); err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expo, ctx)); err != nil {
		if IsBlockedError(err) {
			return nil, err
		}

		return nil, NewRemoteError("GET "+url, err)
	}

	return body, nil
}

// classifyStatus maps HTTP failures. Cluster blocks surface as the
// ErrClusterBlocked sentinel so the recovery pipeline can short-circuit.
func classifyStatus(status int, body []byte) error {
	if status < 400 {
		return nil
	}

	if strings.Contains(string(body), "cluster_block_exception") {
		return fmt.Errorf("%w: %s", standarderrors.ErrClusterBlocked, strings.TrimSpace(string(body)))
	}

	return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
}

func cacheKey(patterns []string) string {
	sorted := make([]string, len(patterns))
	copy(sorted, patterns)
	sort.Strings(sorted)

	return strings.Join(sorted, ",")
}

var _ Provider = (*HTTPProvider)(nil)
