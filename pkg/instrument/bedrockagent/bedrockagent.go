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

// Package bedrockagent instruments Amazon Bedrock Agent Runtime clients.
// One CLIENT span is recorded per agent invocation; the completion stream
// is proxied so the final response text and per-step model invocation
// usage land on the span when the stream finishes.
package bedrockagent

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
	"github.com/teradata-labs/lens/pkg/instrument"
	"github.com/teradata-labs/lens/pkg/instrument/genai"
)

const tracerName = "lens.aws.bedrock_agent"

// IntegrationName identifies this integration in the registry.
const IntegrationName = "bedrock-agent"

var (
	defaultMu       sync.RWMutex
	defaultProvider trace.TracerProvider
)

func init() {
	instrument.RegisterHook(IntegrationName, func(tp trace.TracerProvider, _, _ string) error {
		defaultMu.Lock()
		defaultProvider = tp
		defaultMu.Unlock()
		return nil
	})
}

// API is the Bedrock Agent Runtime surface the decorator wraps.
// *bedrockagentruntime.Client satisfies it.
type API interface {
	InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
	InvokeInlineAgent(ctx context.Context, params *bedrockagentruntime.InvokeInlineAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeInlineAgentOutput, error)
}

// Client decorates a Bedrock Agent Runtime client with span instrumentation.
type Client struct {
	inner  API
	tracer trace.Tracer
}

// Option customizes an instrumented client.
type Option func(*options)

type options struct {
	provider trace.TracerProvider
}

// WithTracerProvider selects the provider spans are created from. Defaults
// to the provider bound by the registry, falling back to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.provider = tp }
}

// Instrument wraps client so every agent invocation is recorded.
func Instrument(client API, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	tp := o.provider
	if tp == nil {
		defaultMu.RLock()
		tp = defaultProvider
		defaultMu.RUnlock()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Client{
		inner:  client,
		tracer: tp.Tracer(tracerName),
	}
}

// emitSafe runs telemetry emission that must never break the caller.
func emitSafe(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Debug("telemetry emission failed", zap.String("stage", what), zap.Any("panic", rec))
		}
	}()
	fn()
}

func startAgentSpan(ctx context.Context, tracer trace.Tracer, name, agentID, inputText string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(genai.System, genai.SystemBedrock),
		attribute.String(genai.ProviderName, genai.SystemBedrock),
		attribute.String(genai.Operation, genai.OperationInvokeAgent),
	)
	if agentID != "" {
		span.SetAttributes(attribute.String(genai.AgentID, agentID))
	}
	if inputText != "" && genai.CaptureContent() {
		span.AddEvent(genai.EventUserMessage, trace.WithAttributes(
			attribute.String("content", inputText),
		))
	}
	return ctx, span
}

// InvokeAgent records a span that stays open while the caller consumes the
// completion stream. The returned wrapper's Events channel must be drained
// or the wrapper closed; either finalizes the span exactly once.
func (c *Client) InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*InvokeAgentStream, error) {
	agentID := aws.ToString(params.AgentId)
	name := "invoke_agent " + agentID
	if agentID == "" {
		name = "invoke_agent unknown"
	}
	spanCtx, span := startAgentSpan(ctx, c.tracer, name, agentID, aws.ToString(params.InputText))

	out, err := c.inner.InvokeAgent(spanCtx, params, optFns...)
	if err != nil {
		genai.RecordCallError(span, err)
		span.End()
		return nil, err
	}

	return newInvokeAgentStream(spanCtx, out, span), nil
}

// InvokeInlineAgent records a span around an inline agent invocation. The
// foundation model is known up front from the request; usage still comes
// from the trace stream.
func (c *Client) InvokeInlineAgent(ctx context.Context, params *bedrockagentruntime.InvokeInlineAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*InvokeInlineAgentStream, error) {
	spanCtx, span := startAgentSpan(ctx, c.tracer, "invoke_inline_agent", "", aws.ToString(params.InputText))
	if model := aws.ToString(params.FoundationModel); model != "" {
		span.SetAttributes(attribute.String(genai.RequestModel, model))
	}

	out, err := c.inner.InvokeInlineAgent(spanCtx, params, optFns...)
	if err != nil {
		genai.RecordCallError(span, err)
		span.End()
		return nil, err
	}

	return newInvokeInlineAgentStream(spanCtx, out, span), nil
}
