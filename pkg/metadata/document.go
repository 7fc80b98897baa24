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

package metadata

import (
	"fmt"

	"github.com/united-manufacturing-hub/ilm-core/pkg/codec"
	"github.com/united-manufacturing-hub/ilm-core/pkg/configstore"
)

// ToDocument converts a record into a store document keyed by the fields the
// recovery pipeline and driver query on.
func ToDocument(m ManagedIndexMetadata) (configstore.Document, error) {
	raw, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for %s: %w", m.IndexName, err)
	}

	var doc configstore.Document
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to build document for %s: %w", m.IndexName, err)
	}

	return doc, nil
}

// FromDocument converts a store document back into a record.
func FromDocument(doc configstore.Document) (ManagedIndexMetadata, error) {
	raw, err := codec.Marshal(doc)
	if err != nil {
		return ManagedIndexMetadata{}, fmt.Errorf("failed to encode document: %w", err)
	}

	var m ManagedIndexMetadata
	if err := codec.Unmarshal(raw, &m); err != nil {
		return ManagedIndexMetadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return m, nil
}
