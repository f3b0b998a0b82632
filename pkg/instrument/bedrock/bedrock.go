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

// Package bedrock instruments Amazon Bedrock Runtime clients. Instrument
// wraps a constructed client in a decorator that records one CLIENT span per
// model invocation, reconstructing streamed responses into Gen AI semantic
// convention attributes and events. Responses reach the caller unchanged,
// and telemetry failures never alter call results.
package bedrock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
	"github.com/teradata-labs/lens/pkg/instrument"
	"github.com/teradata-labs/lens/pkg/instrument/genai"
)

const tracerName = "lens.aws.bedrock"

// IntegrationName identifies this integration in the registry.
const IntegrationName = "bedrock"

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

// API is the Bedrock Runtime surface the decorator wraps.
// *bedrockruntime.Client satisfies it.
type API interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Client decorates a Bedrock Runtime client with span instrumentation.
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

// Instrument wraps client so every model invocation is recorded.
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

// Converse records a span around a synchronous Converse call.
func (c *Client) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	modelID := aws.ToString(params.ModelId)
	ctx, span := c.tracer.Start(ctx, "chat "+modelID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	emitSafe("converse request attrs", func() {
		setConverseRequestAttrs(span, params, modelID)
	})

	out, err := c.inner.Converse(ctx, params, optFns...)
	if err != nil {
		genai.RecordCallError(span, err)
		return out, err
	}

	emitSafe("converse response", func() {
		span.SetAttributes(attribute.String(genai.ResponseModel, modelID))
		if usage := tokenUsageToMap(out.Usage); len(usage) > 0 {
			genai.SetConverseUsage(span, usage)
		}
		stopReason := string(out.StopReason)
		genai.SetFinishReason(span, stopReason)

		inputMsgs := buildConverseInputMessages(params)
		genai.EmitCompletionEvents(span, converseOutputMessage(out), stopReason, genai.ExtractToolResults(inputMsgs), inputMsgs)
	})
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// ConverseStream records a span that stays open while the caller consumes
// the stream. The returned wrapper's Events channel must be drained or the
// wrapper closed; either finalizes the span exactly once.
func (c *Client) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*ConverseStream, error) {
	modelID := aws.ToString(params.ModelId)
	spanCtx, span := c.tracer.Start(ctx, "chat "+modelID, trace.WithSpanKind(trace.SpanKindClient))

	var toolResults []any
	emitSafe("converse stream request", func() {
		setStreamRequestAttrs(span, params, modelID)

		// Input goes out before the call so error paths keep their context.
		inputMsgs := buildStreamInputMessages(params)
		genai.EmitInputDetailsEvent(span, inputMsgs)
		toolResults = genai.ExtractToolResults(inputMsgs)
	})

	out, err := c.inner.ConverseStream(spanCtx, params, optFns...)
	if err != nil {
		genai.RecordCallError(span, err)
		span.End()
		return nil, err
	}

	return newConverseStream(spanCtx, out.GetStream(), span, toolResults), nil
}

// InvokeModel records a span around a raw model invocation. Request and
// response bodies are parsed for known model families (Claude, Nova);
// unknown families keep model attribution only.
func (c *Client) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	modelID := aws.ToString(params.ModelId)
	ctx, span := c.tracer.Start(ctx, "chat "+modelID, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	setBaseAttrs(span, modelID)

	out, err := c.inner.InvokeModel(ctx, params, optFns...)
	if err != nil {
		genai.RecordCallError(span, err)
		return out, err
	}

	var body map[string]any
	if jsonErr := json.Unmarshal(out.Body, &body); jsonErr != nil {
		span.SetStatus(codes.Ok, "")
		return out, nil
	}

	emitSafe("invoke model response", func() {
		switch detectModelFamily(modelID) {
		case familyNova:
			span.SetAttributes(attribute.String(genai.ResponseModel, modelID))
			if usage, ok := mapValue(body, "usage"); ok {
				genai.SetConverseUsage(span, usage)
			}
			stopReason := stringValue(body, "stopReason")
			genai.SetFinishReason(span, stopReason)

			inputMsgs := genai.BuildInputMessages(parseRequestBody(params.Body))
			var outputMsg map[string]any
			if output, ok := mapValue(body, "output"); ok {
				outputMsg, _ = mapValue(output, "message")
			}
			genai.EmitCompletionEvents(span, outputMsg, stopReason, genai.ExtractToolResults(inputMsgs), inputMsgs)

		case familyClaude:
			respModel := stringValue(body, "model")
			if respModel == "" {
				respModel = modelID
			}
			span.SetAttributes(attribute.String(genai.ResponseModel, respModel))
			if usage, ok := mapValue(body, "usage"); ok {
				genai.SetClaudeUsage(span, usage)
			}
			stopReason := stringValue(body, "stop_reason")
			genai.SetFinishReason(span, stopReason)

			inputMsgs := genai.BuildInputMessages(parseRequestBody(params.Body))
			role := stringValue(body, "role")
			if role == "" {
				role = "assistant"
			}
			content, _ := body["content"].([]any)
			outputMsg := map[string]any{"role": role, "content": content}
			genai.EmitCompletionEvents(span, outputMsg, stopReason, genai.ExtractToolResults(inputMsgs), inputMsgs)
		}
	})
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// InvokeModelWithResponseStream records a span that stays open while the
// caller consumes the stream. Payload chunks are buffered and parsed at
// finalize according to the model family.
func (c *Client) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*InvokeModelStream, error) {
	modelID := aws.ToString(params.ModelId)
	spanCtx, span := c.tracer.Start(ctx, "chat "+modelID, trace.WithSpanKind(trace.SpanKindClient))

	setBaseAttrs(span, modelID)

	out, err := c.inner.InvokeModelWithResponseStream(spanCtx, params, optFns...)
	if err != nil {
		genai.RecordCallError(span, err)
		span.End()
		return nil, err
	}

	return newInvokeModelStream(spanCtx, out.GetStream(), span, parseRequestBody(params.Body), detectModelFamily(modelID)), nil
}

// parseRequestBody decodes an InvokeModel JSON request body. Undecodable
// bodies yield an empty map.
func parseRequestBody(body []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return map[string]any{}
	}
	return m
}
