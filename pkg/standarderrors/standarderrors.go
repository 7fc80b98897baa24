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

package standarderrors

import "errors"

var (
	// ErrInstanceRemoved is returned when an instance has been successfully removed
	ErrInstanceRemoved = errors.New("instance removed")

	// ErrInstanceNotFound is returned when a lookup targets an instance the
	// manager does not know about.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrPermissionDenied is returned when the permission validator rejects
	// the requested index patterns. Callers map it to a "forbidden" response.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStoreMissing is returned when the config collection holding the
	// managed-index metadata does not exist at all.
	ErrStoreMissing = errors.New("config collection does not exist")

	// ErrClusterBlocked is returned when the cluster rejects an operation
	// because of a cluster-level block (read-only / maintenance).
	ErrClusterBlocked = errors.New("cluster is blocked")
)
