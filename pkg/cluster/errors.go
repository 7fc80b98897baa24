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
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/ilm-core/pkg/standarderrors"
)

// RemoteError wraps a failure that crossed the transport boundary. The
// wrapper message describes the call site; the wrapped chain preserves the
// remote cause, whose innermost message is what step diagnostics surface.
type RemoteError struct {
	Op  string
	Err error
}

// NewRemoteError wraps err as a transport-level failure of the given
// operation.
func NewRemoteError(op string, err error) *RemoteError {
	return &RemoteError{Op: op, Err: err}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemoteError reports whether err is (or wraps) a transport failure.
func IsRemoteError(err error) bool {
	var re *RemoteError

	return errors.As(err, &re)
}

// IsBlockedError reports whether err indicates a cluster-level block
// (read-only or maintenance mode). During recovery such failures demote the
// pending indices instead of failing the whole request.
func IsBlockedError(err error) bool {
	return errors.Is(err, standarderrors.ErrClusterBlocked)
}
