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

package version

import "github.com/united-manufacturing-hub/ilm-core/pkg/constants"

// appVersion is stamped by the release build via
// -ldflags "-X .../pkg/version.appVersion=<semver>". Local builds keep the
// dev default, which disables sentry reporting.
var appVersion = constants.DefaultAppVersion

// GetAppVersion returns the version this binary was built as.
func GetAppVersion() string {
	return appVersion
}
