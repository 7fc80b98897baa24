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

package permissions

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/united-manufacturing-hub/ilm-core/pkg/logger"
	"github.com/united-manufacturing-hub/ilm-core/pkg/standarderrors"
)

// decisionCacheTTL bounds how long a pattern-set decision is reused. Rule
// sets only change with a config reload, so a short TTL keeps the window of
// staleness small without re-evaluating every request.
const decisionCacheTTL = 30 * time.Second

// Rules holds the allow and deny pattern lists of one rule set. Patterns
// match index names literally, or by prefix when they end in '*'. An empty
// allow list allows everything not denied; deny wins over allow.
type Rules struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// RuleValidator evaluates pattern rules from config. Decisions are cached
// per (identity, pattern set) fingerprint.
type RuleValidator struct {
	rules  Rules
	cache  *expiremap.ExpireMap[string, string]
	logger *zap.SugaredLogger
}

var _ Validator = (*RuleValidator)(nil)

// NewRuleValidator builds a validator for a fixed rule set.
func NewRuleValidator(rules Rules) *RuleValidator {
	return &RuleValidator{
		rules:  rules,
		cache:  expiremap.NewEx[string, string](decisionCacheTTL, decisionCacheTTL),
		logger: logger.For(logger.ComponentPermissions),
	}
}

// ValidatePatterns checks every requested pattern against the rule set and
// returns a permission-denied error naming the first rejected pattern.
func (v *RuleValidator) ValidatePatterns(ctx context.Context, identity string, patterns []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := fingerprint(identity, patterns)
	if cached, ok := v.cache.Load(key); ok {
		if *cached == "" {
			return nil
		}

		return fmt.Errorf("%w: %s", standarderrors.ErrPermissionDenied, *cached)
	}

	for _, pattern := range patterns {
		if reason := v.rules.check(pattern); reason != "" {
			v.cache.Set(key, reason)
			v.logger.Warnf("Denied identity %q: %s", identity, reason)

			return fmt.Errorf("%w: %s", standarderrors.ErrPermissionDenied, reason)
		}
	}

	v.cache.Set(key, "")

	return nil
}

// check returns a denial reason for the pattern, or "" when allowed.
func (r Rules) check(pattern string) string {
	for _, rule := range r.Deny {
		if ruleMatches(rule, pattern) {
			return fmt.Sprintf("pattern %q is denied by rule %q", pattern, rule)
		}
	}

	if len(r.Allow) == 0 {
		return ""
	}

	for _, rule := range r.Allow {
		if ruleMatches(rule, pattern) {
			return ""
		}
	}

	return fmt.Sprintf("pattern %q matches no allow rule", pattern)
}

func ruleMatches(rule, pattern string) bool {
	if strings.HasSuffix(rule, "*") {
		return strings.HasPrefix(pattern, strings.TrimSuffix(rule, "*"))
	}

	return rule == pattern
}

// fingerprint keys the decision cache on the identity plus the sorted
// pattern set, so pattern order does not fragment the cache.
func fingerprint(identity string, patterns []string) string {
	sorted := make([]string, len(patterns))
	copy(sorted, patterns)
	sort.Strings(sorted)

	hash := sha3.New256()
	_, _ = hash.Write([]byte(identity))
	for _, p := range sorted {
		_, _ = hash.Write([]byte{0})
		_, _ = hash.Write([]byte(p))
	}

	return hex.EncodeToString(hash.Sum(nil))
}
