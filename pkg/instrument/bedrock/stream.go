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

package bedrock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/teradata-labs/lens/pkg/instrument/genai"
	"github.com/teradata-labs/lens/pkg/instrument/internal/streaming"
)

// ConverseStream proxies a ConverseStream event stream, folding events into
// the span as they pass through. The span ends exactly once: when the
// stream is exhausted, when the inner stream fails, or when the consumer
// calls Close, whichever comes first. An early Close records whatever
// content arrived so far.
type ConverseStream struct {
	inner       *bedrockruntime.ConverseStreamEventStream
	span        trace.Span
	ctx         context.Context
	toolResults []any

	events chan bedrocktypes.ConverseStreamOutput
	done   chan struct{}

	mu  sync.Mutex
	acc *streaming.ConverseAccumulator

	closeOnce sync.Once
	finalize  sync.Once
	errOnce   sync.Mutex
	err       error
}

func newConverseStream(ctx context.Context, inner *bedrockruntime.ConverseStreamEventStream, span trace.Span, toolResults []any) *ConverseStream {
	s := &ConverseStream{
		inner:       inner,
		span:        span,
		ctx:         ctx,
		toolResults: toolResults,
		events:      make(chan bedrocktypes.ConverseStreamOutput),
		done:        make(chan struct{}),
		acc:         streaming.NewConverseAccumulator(),
	}
	go s.pump()
	return s
}

func (s *ConverseStream) pump() {
	defer close(s.events)
	for event := range s.inner.Events() {
		s.mu.Lock()
		emitSafe("converse stream event", func() {
			s.acc.ProcessEvent(streamEventToMap(event))
		})
		s.mu.Unlock()

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
	if err := s.inner.Err(); err != nil {
		s.setErr(err)
		s.finalizeError(err)
		return
	}
	s.finalizeSuccess()
}

// Events returns the stream's event channel. The channel closes when the
// stream ends or the wrapper is closed.
func (s *ConverseStream) Events() <-chan bedrocktypes.ConverseStreamOutput {
	return s.events
}

// Context returns a context carrying the stream's span, for starting child
// spans while consuming.
func (s *ConverseStream) Context() context.Context {
	return s.ctx
}

// Err returns the stream error, if any.
func (s *ConverseStream) Err() error {
	s.errOnce.Lock()
	defer s.errOnce.Unlock()
	if s.err != nil {
		return s.err
	}
	return s.inner.Err()
}

// Close stops consumption and finalizes the span with the content received
// so far. Safe to call from any goroutine, any number of times.
func (s *ConverseStream) Close() error {
	s.signalDone()
	err := s.inner.Close()
	s.finalizeSuccess()
	return err
}

func (s *ConverseStream) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ConverseStream) setErr(err error) {
	s.errOnce.Lock()
	s.err = err
	s.errOnce.Unlock()
}

func (s *ConverseStream) finalizeSuccess() {
	s.finalize.Do(func() {
		defer s.span.End()
		emitSafe("converse stream finalize", func() {
			s.mu.Lock()
			blocks, stopReason, usage := s.acc.Finalize()
			s.mu.Unlock()

			if len(usage) > 0 {
				genai.SetConverseUsage(s.span, usage)
			}
			genai.SetFinishReason(s.span, stopReason)
			genai.EmitCompletionEvents(s.span, genai.AssistantMessage(blocks), stopReason, s.toolResults, nil)
		})
		s.span.SetStatus(codes.Ok, "")
	})
}

func (s *ConverseStream) finalizeError(err error) {
	s.finalize.Do(func() {
		genai.RecordCallError(s.span, err)
		s.span.End()
	})
}

// InvokeModelStream proxies an InvokeModelWithResponseStream body. Payload
// chunk bytes are buffered in arrival order and parsed at finalize with the
// decoder for the request's model family.
type InvokeModelStream struct {
	inner   *bedrockruntime.InvokeModelWithResponseStreamEventStream
	span    trace.Span
	ctx     context.Context
	reqBody map[string]any
	family  string

	events chan bedrocktypes.ResponseStream
	done   chan struct{}

	mu     sync.Mutex
	chunks [][]byte

	closeOnce sync.Once
	finalize  sync.Once
	errOnce   sync.Mutex
	err       error
}

func newInvokeModelStream(ctx context.Context, inner *bedrockruntime.InvokeModelWithResponseStreamEventStream, span trace.Span, reqBody map[string]any, family string) *InvokeModelStream {
	s := &InvokeModelStream{
		inner:   inner,
		span:    span,
		ctx:     ctx,
		reqBody: reqBody,
		family:  family,
		events:  make(chan bedrocktypes.ResponseStream),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *InvokeModelStream) pump() {
	defer close(s.events)
	for event := range s.inner.Events() {
		if chunk, ok := event.(*bedrocktypes.ResponseStreamMemberChunk); ok && len(chunk.Value.Bytes) > 0 {
			s.mu.Lock()
			s.chunks = append(s.chunks, chunk.Value.Bytes)
			s.mu.Unlock()
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
	if err := s.inner.Err(); err != nil {
		s.setErr(err)
		s.finalizeError(err)
		return
	}
	s.finalizeSuccess()
}

// Events returns the stream's event channel.
func (s *InvokeModelStream) Events() <-chan bedrocktypes.ResponseStream {
	return s.events
}

// Context returns a context carrying the stream's span.
func (s *InvokeModelStream) Context() context.Context {
	return s.ctx
}

// Err returns the stream error, if any.
func (s *InvokeModelStream) Err() error {
	s.errOnce.Lock()
	defer s.errOnce.Unlock()
	if s.err != nil {
		return s.err
	}
	return s.inner.Err()
}

// Close stops consumption and finalizes the span with the chunks received
// so far. Safe to call from any goroutine, any number of times.
func (s *InvokeModelStream) Close() error {
	s.signalDone()
	err := s.inner.Close()
	s.finalizeSuccess()
	return err
}

func (s *InvokeModelStream) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *InvokeModelStream) setErr(err error) {
	s.errOnce.Lock()
	s.err = err
	s.errOnce.Unlock()
}

func (s *InvokeModelStream) finalizeSuccess() {
	s.finalize.Do(func() {
		defer s.span.End()
		emitSafe("invoke model stream finalize", func() {
			s.mu.Lock()
			chunks := s.chunks
			s.mu.Unlock()
			if len(chunks) == 0 {
				return
			}
			switch s.family {
			case familyClaude:
				s.finalizeClaude(chunks)
			case familyNova:
				s.finalizeNova(chunks)
			}
		})
		s.span.SetStatus(codes.Ok, "")
	})
}

func (s *InvokeModelStream) finalizeError(err error) {
	s.finalize.Do(func() {
		genai.RecordCallError(s.span, err)
		s.span.End()
	})
}

func (s *InvokeModelStream) finalizeClaude(chunks [][]byte) {
	acc := streaming.NewClaudeAccumulator()
	for _, raw := range chunks {
		acc.ProcessChunk(raw)
	}
	blocks, stopReason, usage := acc.Finalize()

	if model := acc.Model(); model != "" {
		s.span.SetAttributes(attribute.String(genai.ResponseModel, model))
	}
	if len(usage) > 0 {
		genai.SetClaudeUsage(s.span, usage)
	}
	genai.SetFinishReason(s.span, stopReason)

	inputMsgs := genai.BuildInputMessages(s.reqBody)
	genai.EmitCompletionEvents(s.span, genai.AssistantMessage(blocks), stopReason, genai.ExtractToolResults(inputMsgs), inputMsgs)
}

func (s *InvokeModelStream) finalizeNova(chunks [][]byte) {
	acc := streaming.NewConverseAccumulator()
	for _, raw := range chunks {
		var event map[string]any
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		// Single-chunk responses arrive in the full-response shape.
		if _, ok := event["output"]; ok {
			acc.ApplyFullResponse(event)
			continue
		}
		acc.ProcessEvent(event)
	}
	blocks, stopReason, usage := acc.Finalize()

	if len(usage) > 0 {
		genai.SetConverseUsage(s.span, usage)
	}
	genai.SetFinishReason(s.span, stopReason)

	inputMsgs := genai.BuildInputMessages(s.reqBody)
	genai.EmitCompletionEvents(s.span, genai.AssistantMessage(blocks), stopReason, genai.ExtractToolResults(inputMsgs), inputMsgs)
}
