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

// Package lens is the SDK entry point. Init builds the configured telemetry
// pipeline, activates the requested integrations, and installs a process-wide
// instance that the Trace, Span, and Session helpers use.
//
//	sdk, err := lens.Init(config.WithFramework(config.ProviderBedrock))
//	if err != nil {
//		return err
//	}
//	defer sdk.Shutdown(context.Background())
package lens

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
	"github.com/teradata-labs/lens/pkg/config"
	"github.com/teradata-labs/lens/pkg/instrument"
	"github.com/teradata-labs/lens/pkg/instrument/genai"
	"github.com/teradata-labs/lens/pkg/telemetry"

	// Built-in integrations register their setup hooks on import.
	_ "github.com/teradata-labs/lens/pkg/instrument/anthropic"
	_ "github.com/teradata-labs/lens/pkg/instrument/bedrock"
	_ "github.com/teradata-labs/lens/pkg/instrument/bedrockagent"
)

// ErrNotInitialized is returned by Get before Init has run.
var ErrNotInitialized = errors.New("lens not initialized, call lens.Init first")

var (
	globalMu sync.Mutex
	global   *SDK
)

// SDK bundles the resolved configuration with the telemetry pipeline built
// from it.
type SDK struct {
	cfg    *config.Config
	client *telemetry.Client
}

// New builds an SDK instance without touching the global one. Most callers
// want Init instead.
func New(opts ...config.Option) (*SDK, error) {
	cfg, err := config.New(opts...)
	if err != nil {
		return nil, err
	}
	genai.SetCaptureContent(cfg.CaptureContent)
	genai.SetEncodeBinary(cfg.EncodeBinary)
	client, err := telemetry.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &SDK{cfg: cfg, client: client}
	s.autoInstrument()
	return s, nil
}

// Init builds the global SDK instance. The first call wins; later calls log a
// warning and return the existing instance unchanged.
func Init(opts ...config.Option) (*SDK, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		log.Warn("lens already initialized, returning existing instance")
		return global, nil
	}
	s, err := New(opts...)
	if err != nil {
		return nil, err
	}
	global = s
	return s, nil
}

// Get returns the global SDK instance, or ErrNotInitialized.
func Get() (*SDK, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil, ErrNotInitialized
	}
	return global, nil
}

// IsInitialized reports whether Init has installed a global instance.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global != nil
}

// Shutdown flushes and tears down the global instance, if any. After it
// returns Init may be called again.
func Shutdown(ctx context.Context) error {
	globalMu.Lock()
	s := global
	global = nil
	globalMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown(ctx)
}

// autoInstrument activates the integrations the configuration names. A
// framework identifier and any number of providers may be active at once.
func (s *SDK) autoInstrument() {
	if s.cfg.Disabled {
		return
	}
	tp := s.client.TracerProvider()
	if s.cfg.Framework != "" {
		instrument.Instrument(s.cfg.Framework, tp, s.cfg.ServiceName, s.cfg.ServiceVersion)
	}
	for _, provider := range s.cfg.Providers {
		instrument.Instrument(provider, tp, s.cfg.ServiceName, s.cfg.ServiceVersion)
	}
}

// Config returns the resolved configuration.
func (s *SDK) Config() *config.Config {
	return s.cfg
}

// Telemetry exposes the underlying pipeline, for wiring extra exporters.
func (s *SDK) Telemetry() *telemetry.Client {
	return s.client
}

// Disabled reports whether this instance is a no-op.
func (s *SDK) Disabled() bool {
	return s.cfg.Disabled
}

// TracerProvider returns the provider backing this instance.
func (s *SDK) TracerProvider() trace.TracerProvider {
	return s.client.TracerProvider()
}

// Tracer returns a tracer for custom spans.
func (s *SDK) Tracer(name string) trace.Tracer {
	return s.client.Tracer(name)
}

// Span starts a custom span as a child of the current span in ctx, or a root
// span when there is none. The caller must end it.
func (s *SDK) Span(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return s.client.Span(ctx, name, opts...)
}

// Trace starts a root-level span that groups the client calls made under it.
func (s *SDK) Trace(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return s.client.Span(ctx, name, opts...)
}

// WithSpan runs fn inside a span named name. An error from fn marks the span
// failed and is returned unchanged.
func (s *SDK) WithSpan(ctx context.Context, name string, fn func(context.Context) error) error {
	return s.client.WithSpan(ctx, name, fn)
}

// Session starts a span whose subtree is attributed to sessionID. An empty
// sessionID gets a generated UUID. The returned context carries the session
// for every span started under it.
func (s *SDK) Session(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	if sessionID == "" {
		sessionID = uuid.NewString()
		log.Debug("generated session id", zap.String("session.id", sessionID))
	}
	ctx = telemetry.WithSession(ctx, sessionID)
	return s.client.Span(ctx, name)
}

// ForceFlush pushes pending spans to the exporters, bounded by ctx.
func (s *SDK) ForceFlush(ctx context.Context) error {
	return s.client.ForceFlush(ctx)
}

// ValidateConnection probes the collector health endpoint.
func (s *SDK) ValidateConnection(ctx context.Context) bool {
	return s.client.ValidateConnection(ctx)
}

// Shutdown flushes and tears down the pipeline. Safe to call more than once.
func (s *SDK) Shutdown(ctx context.Context) error {
	return s.client.Shutdown(ctx)
}
