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

package instrument

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/teradata-labs/lens/pkg/config"
)

// Agent frameworks that emit spans through the process-wide tracer provider
// need no per-client patching. Activation succeeds as a no-op so callers can
// still observe which framework is in use via IsInstrumented.
func init() {
	noop := func(trace.TracerProvider, string, string) error { return nil }
	for _, name := range []string{
		config.FrameworkLangChainGo,
		config.FrameworkGenkit,
		config.FrameworkEino,
	} {
		RegisterHook(name, noop)
	}
}
