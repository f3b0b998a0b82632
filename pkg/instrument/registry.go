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

// Package instrument tracks which integrations are active. Activation is
// idempotent and thread-safe: concurrent calls for the same name run the
// setup hook exactly once.
package instrument

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
)

// Hook performs the setup work for one integration, such as installing a
// provider binding or patching a process-wide default.
type Hook func(tp trace.TracerProvider, serviceName, serviceVersion string) error

var (
	mu           sync.Mutex
	instrumented = map[string]bool{}
	hooks        = map[string]Hook{}
)

// RegisterHook makes a named integration available to Instrument. Built-in
// integrations register themselves in their package init; applications may
// add their own. Registering an existing name replaces the hook.
func RegisterHook(name string, hook Hook) {
	mu.Lock()
	defer mu.Unlock()
	hooks[name] = hook
}

// Instrument activates the named integration. It returns true when this call
// performed the activation, false when the integration was already active,
// is unknown, or its hook failed. Exactly one of any set of concurrent calls
// for the same name wins.
func Instrument(name string, tp trace.TracerProvider, serviceName, serviceVersion string) bool {
	mu.Lock()
	if instrumented[name] {
		mu.Unlock()
		log.Debug("already instrumented", zap.String("integration", name))
		return false
	}
	hook, ok := hooks[name]
	if !ok {
		mu.Unlock()
		log.Debug("unknown integration", zap.String("integration", name))
		return false
	}
	// Mark before running the hook so concurrent callers don't run it twice;
	// roll back on failure so a later call can retry.
	instrumented[name] = true
	mu.Unlock()

	if err := runHook(hook, tp, serviceName, serviceVersion); err != nil {
		log.Warn("instrumentation failed",
			zap.String("integration", name), zap.Error(err))
		mu.Lock()
		delete(instrumented, name)
		mu.Unlock()
		return false
	}

	log.Info("instrumented", zap.String("integration", name))
	return true
}

func runHook(hook Hook, tp trace.TracerProvider, serviceName, serviceVersion string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panicked: %v", rec)
		}
	}()
	return hook(tp, serviceName, serviceVersion)
}

// IsInstrumented reports whether the named integration is active.
func IsInstrumented(name string) bool {
	mu.Lock()
	defer mu.Unlock()
	return instrumented[name]
}

// Reset clears all activation state. For tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	instrumented = map[string]bool{}
}
