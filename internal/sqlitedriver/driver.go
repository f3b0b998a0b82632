// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlitedriver registers the pure-Go modernc.org/sqlite driver under
// the name "sqlite3". The SDK ships as a library, so the driver must work
// without CGO on every host platform.
//
// Import this package for its side effects only:
//
//	import _ "github.com/teradata-labs/lens/internal/sqlitedriver"
package sqlitedriver

import (
	"database/sql"
	"slices"

	"modernc.org/sqlite"
)

func init() {
	// The host application may already use a sqlite3 driver; registering
	// twice panics, so skip when one exists.
	if !slices.Contains(sql.Drivers(), "sqlite3") {
		sql.Register("sqlite3", &sqlite.Driver{})
	}
}
