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

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	userIDKey
)

// WithSession returns a context carrying a session ID. Spans started under
// the returned context are tagged with session.id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithUser returns a context carrying a user ID. Spans started under the
// returned context are tagged with user.id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// SessionFromContext returns the session ID carried by ctx, if any.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// UserFromContext returns the user ID carried by ctx, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// attributionProcessor stamps session.id and user.id onto every span started
// under a context that carries them.
type attributionProcessor struct{}

var _ sdktrace.SpanProcessor = attributionProcessor{}

func (attributionProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	if id, ok := SessionFromContext(parent); ok {
		s.SetAttributes(attribute.String("session.id", id))
	}
	if id, ok := UserFromContext(parent); ok {
		s.SetAttributes(attribute.String("user.id", id))
	}
}

func (attributionProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (attributionProcessor) Shutdown(context.Context) error { return nil }

func (attributionProcessor) ForceFlush(context.Context) error { return nil }
