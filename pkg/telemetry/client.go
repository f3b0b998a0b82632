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

// Package telemetry owns the span pipeline: tracer-provider construction,
// OTLP export, streaming span reparenting, and auxiliary exporters.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
	"github.com/teradata-labs/lens/internal/version"
	"github.com/teradata-labs/lens/pkg/config"
)

const tracerName = "github.com/teradata-labs/lens"

// Client manages the TracerProvider and span export pipeline.
type Client struct {
	cfg      *config.Config
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider // nil when disabled or provider is foreign

	mu         sync.Mutex
	exporters  []sdktrace.SpanExporter
	reparenter *StreamReparenter
	shutdown   bool

	httpClient *http.Client
}

// NewClient builds the span pipeline for cfg. When cfg.Disabled is set the
// returned client is a no-op: spans are never recorded or exported.
//
// If the host application already installed an SDK TracerProvider, the
// pipeline attaches to it instead of replacing it. Otherwise a new provider
// is created and installed globally together with W3C trace-context and
// baggage propagators.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	if cfg.Disabled {
		log.Info("lens disabled, no telemetry will be collected")
		c.provider = noop.NewTracerProvider()
		return c, nil
	}

	if cfg.Debug {
		log.SetDebug()
		log.Debug("lens debug mode enabled",
			zap.String("endpoint", cfg.Endpoint),
			zap.String("project", cfg.ProjectID),
			zap.String("framework", cfg.Framework))
	}

	if existing, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		log.Warn("tracer provider already set, attaching to existing provider")
		c.sdk = existing
	} else {
		c.sdk = sdktrace.NewTracerProvider(
			sdktrace.WithResource(newResource(cfg.ServiceName, cfg.ServiceVersion)),
		)
		otel.SetTracerProvider(c.sdk)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	c.provider = c.sdk

	// Attribution runs on span start; reparenting wraps the batch processor
	// so context rewrites land before spans enter the export queue.
	c.sdk.RegisterSpanProcessor(attributionProcessor{})

	exporter, err := newOTLPExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	c.exporters = append(c.exporters, exporter)

	batch := sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithMaxQueueSize(2048),
		sdktrace.WithBatchTimeout(5*time.Second),
		sdktrace.WithMaxExportBatchSize(512),
		sdktrace.WithExportTimeout(30*time.Second),
	)
	c.reparenter = NewStreamReparenter(batch)
	c.sdk.RegisterSpanProcessor(c.reparenter)

	return c, nil
}

func newOTLPExporter(cfg *config.Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(tracesEndpoint(cfg)),
		otlptracehttp.WithTimeout(30 * time.Second),
	}
	if cfg.APIKey != "" {
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}))
	}
	return otlptracehttp.New(context.Background(), opts...)
}

// tracesEndpoint keeps a caller-supplied path intact; a bare host gets the
// collector's project-scoped layout.
func tracesEndpoint(cfg *config.Config) string {
	parsed, err := url.Parse(cfg.Endpoint)
	if err == nil && parsed.Path != "" && parsed.Path != "/" {
		return cfg.Endpoint + "/v1/traces"
	}
	return cfg.TracesURL()
}

// Disabled reports whether this client is a no-op.
func (c *Client) Disabled() bool {
	return c.cfg.Disabled
}

// TracerProvider returns the provider backing this client.
func (c *Client) TracerProvider() trace.TracerProvider {
	return c.provider
}

// Tracer returns a tracer for custom spans.
func (c *Client) Tracer(name string) trace.Tracer {
	if name == "" {
		name = tracerName
	}
	return c.provider.Tracer(name, trace.WithInstrumentationVersion(version.Get()))
}

// Span starts a custom span. The returned span must be ended by the caller.
func (c *Client) Span(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return c.Tracer("").Start(ctx, name, opts...)
}

// WithSpan runs fn inside a span, marking the span failed when fn returns an
// error. The error is returned unchanged.
func (c *Client) WithSpan(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.Span(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	return nil
}

// SetupConsoleExporter adds a human-readable console exporter. Spans are
// written synchronously, so this is for debugging only.
func (c *Client) SetupConsoleExporter() (*Client, error) {
	if c.sdk == nil {
		return c, nil
	}
	exporter, err := newConsoleExporter()
	if err != nil {
		return nil, fmt.Errorf("failed to create console exporter: %w", err)
	}
	c.mu.Lock()
	c.exporters = append(c.exporters, exporter)
	c.mu.Unlock()
	c.sdk.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter))
	return c, nil
}

// SetupFileExporter adds a JSONL file exporter. A path ending in .gz is
// gzip-compressed. appendMode false truncates an existing file.
func (c *Client) SetupFileExporter(path string, appendMode bool) (*Client, error) {
	if c.sdk == nil {
		return c, nil
	}
	exporter, err := NewJSONFileExporter(path, appendMode)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.exporters = append(c.exporters, exporter)
	c.mu.Unlock()
	c.sdk.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	return c, nil
}

// SetupStorageExporter adds a SQLite span store at dbPath. An empty path
// stores spans under the lens data directory.
func (c *Client) SetupStorageExporter(dbPath string) (*Client, error) {
	if c.sdk == nil {
		return c, nil
	}
	if dbPath == "" {
		dbPath = config.DataPath("traces.db")
	}
	exporter, err := NewSQLiteExporter(dbPath)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.exporters = append(c.exporters, exporter)
	c.mu.Unlock()
	c.sdk.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	return c, nil
}

// ValidateConnection probes the collector health endpoint. Returns false
// when the client is disabled or the collector is unreachable.
func (c *Client) ValidateConnection(ctx context.Context) bool {
	if c.cfg.Disabled {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HealthURL(), nil)
	if err != nil {
		log.Debug("connection check failed", zap.Error(err))
		return false
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug("connection check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ForceFlush pushes all pending spans to the exporters, bounded by ctx.
func (c *Client) ForceFlush(ctx context.Context) error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.ForceFlush(ctx)
}

// Shutdown flushes and tears down the pipeline. Safe to call more than once;
// later calls are no-ops.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	if c.sdk == nil {
		return nil
	}

	if err := c.sdk.ForceFlush(ctx); err != nil {
		log.Warn("flush on shutdown failed", zap.Error(err))
	}
	// Provider shutdown stops every registered processor, which in turn
	// shuts down the exporters they own.
	if err := c.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}
