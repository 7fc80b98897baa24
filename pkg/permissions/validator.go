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

// Package permissions gates recovery requests on index name patterns. A
// denial is a categorized error distinct from transport failures so callers
// can map it to a forbidden response.
package permissions

import (
	"context"
)

// Validator decides whether an identity may operate on a set of index name
// patterns. A nil return allows the request; denials wrap
// standarderrors.ErrPermissionDenied.
type Validator interface {
	ValidatePatterns(ctx context.Context, identity string, patterns []string) error
}

// AllowAllValidator permits every request. It backs deployments with access
// control disabled.
type AllowAllValidator struct{}

var _ Validator = (*AllowAllValidator)(nil)

// NewAllowAllValidator returns a validator that never denies.
func NewAllowAllValidator() *AllowAllValidator {
	return &AllowAllValidator{}
}

// ValidatePatterns always allows.
func (v *AllowAllValidator) ValidatePatterns(ctx context.Context, identity string, patterns []string) error {
	return nil
}
