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

// Package anthropic instruments direct Anthropic Messages API calls made
// through anthropic-sdk-go. Middleware returns an option.Middleware that
// records one CLIENT span per /v1/messages request, reconstructing
// streamed responses from the SSE body as the caller reads it. Responses
// reach the caller byte for byte unchanged.
package anthropic

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teradata-labs/lens/pkg/instrument"
	"github.com/teradata-labs/lens/pkg/instrument/genai"
	"github.com/teradata-labs/lens/pkg/instrument/internal/streaming"
)

const tracerName = "lens.anthropic"

// IntegrationName identifies this integration in the registry.
const IntegrationName = "anthropic"

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

// Option customizes the middleware.
type Option func(*options)

type options struct {
	provider trace.TracerProvider
}

// WithTracerProvider selects the provider spans are created from. Defaults
// to the provider bound by the registry, falling back to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.provider = tp }
}

// Middleware returns request middleware for anthropic-sdk-go. Install it
// on the client with option.WithMiddleware. Requests other than Messages
// API calls pass through untouched.
func Middleware(opts ...Option) option.Middleware {
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
	tracer := tp.Tracer(tracerName)

	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/v1/messages") {
			return next(req)
		}

		reqBody := readRequestBody(req)
		model := stringValue(reqBody, "model")

		ctx, span := tracer.Start(req.Context(), "chat "+model, trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			attribute.String(genai.System, genai.SystemAnthropic),
			attribute.String(genai.ProviderName, genai.SystemAnthropic),
			attribute.String(genai.Operation, genai.OperationChat),
			attribute.String(genai.RequestModel, model),
		)
		setRequestAttrs(span, reqBody)
		inputMsgs := genai.BuildInputMessages(reqBody)

		resp, err := next(req.WithContext(ctx))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			span.End()
			return resp, err
		}
		if resp.StatusCode >= http.StatusBadRequest {
			span.SetStatus(codes.Error, resp.Status)
			span.End()
			return resp, nil
		}

		if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
			resp.Body = newSSEBody(resp.Body, span, model, inputMsgs)
			return resp, nil
		}

		finalizeJSON(span, resp, model, inputMsgs)
		return resp, nil
	}
}

// readRequestBody decodes the JSON request body, leaving the request with
// an equivalent fresh body. Undecodable bodies yield nil.
func readRequestBody(req *http.Request) map[string]any {
	if req.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func setRequestAttrs(span trace.Span, reqBody map[string]any) {
	if v, ok := reqBody["temperature"].(float64); ok {
		span.SetAttributes(attribute.Float64(genai.Temperature, v))
	}
	if v, ok := reqBody["top_p"].(float64); ok {
		span.SetAttributes(attribute.Float64(genai.TopP, v))
	}
	if v, ok := reqBody["max_tokens"].(float64); ok {
		span.SetAttributes(attribute.Int(genai.MaxTokens, int(v)))
	}
	if tools, ok := reqBody["tools"].([]any); ok && len(tools) > 0 {
		span.SetAttributes(attribute.String(genai.ToolDefinitions, genai.EncodeJSON(tools)))
	}
}

// finalizeJSON records a buffered (non-streamed) Messages API response and
// ends the span. The response body is consumed and replaced.
func finalizeJSON(span trace.Span, resp *http.Response, reqModel string, inputMsgs []any) {
	defer span.End()

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	model := stringValue(body, "model")
	if model == "" {
		model = reqModel
	}
	span.SetAttributes(attribute.String(genai.ResponseModel, model))
	if usage, ok := body["usage"].(map[string]any); ok {
		genai.SetClaudeUsage(span, usage)
	}
	stopReason := stringValue(body, "stop_reason")
	genai.SetFinishReason(span, stopReason)

	role := stringValue(body, "role")
	if role == "" {
		role = "assistant"
	}
	content, _ := body["content"].([]any)
	outputMsg := map[string]any{"role": role, "content": content}
	genai.EmitCompletionEvents(span, outputMsg, stopReason, genai.ExtractToolResults(inputMsgs), inputMsgs)
	span.SetStatus(codes.Ok, "")
}

// sseBody proxies a streamed Messages API response body. SSE data lines
// are fed to the accumulator as the caller reads; the span ends exactly
// once when the body is exhausted or closed.
type sseBody struct {
	inner     io.ReadCloser
	span      trace.Span
	reqModel  string
	inputMsgs []any

	mu   sync.Mutex
	buf  []byte
	acc  *streaming.ClaudeAccumulator
	once sync.Once
}

func newSSEBody(inner io.ReadCloser, span trace.Span, reqModel string, inputMsgs []any) *sseBody {
	return &sseBody{
		inner:     inner,
		span:      span,
		reqModel:  reqModel,
		inputMsgs: inputMsgs,
		acc:       streaming.NewClaudeAccumulator(),
	}
}

func (b *sseBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	if n > 0 {
		b.feed(p[:n])
	}
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *sseBody) Close() error {
	err := b.inner.Close()
	b.finish()
	return err
}

// feed buffers raw bytes and processes every completed SSE line.
func (b *sseBody) feed(raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, raw...)
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			return
		}
		line := bytes.TrimRight(b.buf[:idx], "\r")
		b.buf = b.buf[idx+1:]
		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			b.acc.ProcessChunk(bytes.TrimSpace(payload))
		}
	}
}

func (b *sseBody) finish() {
	b.once.Do(func() {
		defer b.span.End()
		b.mu.Lock()
		blocks, stopReason, usage := b.acc.Finalize()
		model := b.acc.Model()
		b.mu.Unlock()

		if model == "" {
			model = b.reqModel
		}
		b.span.SetAttributes(attribute.String(genai.ResponseModel, model))
		if len(usage) > 0 {
			genai.SetClaudeUsage(b.span, usage)
		}
		genai.SetFinishReason(b.span, stopReason)
		genai.EmitCompletionEvents(b.span, genai.AssistantMessage(blocks), stopReason, genai.ExtractToolResults(b.inputMsgs), b.inputMsgs)
		b.span.SetStatus(codes.Ok, "")
	})
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
