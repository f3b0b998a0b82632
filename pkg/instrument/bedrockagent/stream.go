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

package bedrockagent

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/teradata-labs/lens/pkg/instrument/genai"
)

// completionAccumulator folds agent completion chunks and trace parts into
// the response text and aggregate token usage. Agent invocations run the
// model several times (preprocessing, orchestration steps, postprocessing);
// usage sums across all of them. The model is taken from the first trace
// step that names one.
type completionAccumulator struct {
	text         strings.Builder
	inputTokens  int
	outputTokens int
	model        string
}

func (a *completionAccumulator) addChunk(raw []byte) {
	a.text.Write(raw)
}

func (a *completionAccumulator) noteModel(model string) {
	if a.model == "" && model != "" {
		a.model = model
	}
}

func (a *completionAccumulator) addUsage(meta *agenttypes.Metadata) {
	if meta == nil || meta.Usage == nil {
		return
	}
	a.inputTokens += int(aws.ToInt32(meta.Usage.InputTokens))
	a.outputTokens += int(aws.ToInt32(meta.Usage.OutputTokens))
}

func (a *completionAccumulator) addTrace(tr agenttypes.Trace) {
	switch t := tr.(type) {
	case *agenttypes.TraceMemberOrchestrationTrace:
		switch step := t.Value.(type) {
		case *agenttypes.OrchestrationTraceMemberModelInvocationInput:
			a.noteModel(aws.ToString(step.Value.FoundationModel))
		case *agenttypes.OrchestrationTraceMemberModelInvocationOutput:
			a.addUsage(step.Value.Metadata)
		}
	case *agenttypes.TraceMemberPreProcessingTrace:
		switch step := t.Value.(type) {
		case *agenttypes.PreProcessingTraceMemberModelInvocationInput:
			a.noteModel(aws.ToString(step.Value.FoundationModel))
		case *agenttypes.PreProcessingTraceMemberModelInvocationOutput:
			a.addUsage(step.Value.Metadata)
		}
	case *agenttypes.TraceMemberPostProcessingTrace:
		switch step := t.Value.(type) {
		case *agenttypes.PostProcessingTraceMemberModelInvocationInput:
			a.noteModel(aws.ToString(step.Value.FoundationModel))
		case *agenttypes.PostProcessingTraceMemberModelInvocationOutput:
			a.addUsage(step.Value.Metadata)
		}
	case *agenttypes.TraceMemberRoutingClassifierTrace:
		switch step := t.Value.(type) {
		case *agenttypes.RoutingClassifierTraceMemberModelInvocationInput:
			a.noteModel(aws.ToString(step.Value.FoundationModel))
		case *agenttypes.RoutingClassifierTraceMemberModelInvocationOutput:
			a.addUsage(step.Value.Metadata)
		}
	}
}

// finalizeAgentSpan records the accumulated response on the span and ends
// it with OK status.
func finalizeAgentSpan(span trace.Span, acc *completionAccumulator) {
	emitSafe("agent stream finalize", func() {
		if acc.model != "" {
			span.SetAttributes(
				attribute.String(genai.RequestModel, acc.model),
				attribute.String(genai.ResponseModel, acc.model),
			)
		}
		if acc.inputTokens > 0 {
			span.SetAttributes(attribute.Int(genai.InputTokens, acc.inputTokens))
		}
		if acc.outputTokens > 0 {
			span.SetAttributes(attribute.Int(genai.OutputTokens, acc.outputTokens))
		}

		if text := acc.text.String(); text != "" && genai.CaptureContent() {
			content := []any{map[string]any{"text": text}}
			outputMsg := map[string]any{"role": "assistant", "content": content}
			span.AddEvent(genai.EventOperationDetails, trace.WithAttributes(
				attribute.String(genai.OutputMessages, genai.EncodeJSON([]any{outputMsg})),
			))
			span.AddEvent(genai.EventChoice, trace.WithAttributes(
				attribute.String("message", genai.EncodeJSON(content)),
				attribute.String("finish_reason", "end_turn"),
			))
		}
	})
	span.SetStatus(codes.Ok, "")
	span.End()
}

// InvokeAgentStream proxies an InvokeAgent completion stream. The span ends
// exactly once: when the stream is exhausted, when it fails, or when the
// consumer calls Close.
type InvokeAgentStream struct {
	inner  *bedrockagentruntime.InvokeAgentEventStream
	output *bedrockagentruntime.InvokeAgentOutput
	span   trace.Span
	ctx    context.Context

	events chan agenttypes.ResponseStream
	done   chan struct{}

	mu  sync.Mutex
	acc completionAccumulator

	closeOnce sync.Once
	finalize  sync.Once
	errMu     sync.Mutex
	err       error
}

func newInvokeAgentStream(ctx context.Context, output *bedrockagentruntime.InvokeAgentOutput, span trace.Span) *InvokeAgentStream {
	s := &InvokeAgentStream{
		inner:  output.GetStream(),
		output: output,
		span:   span,
		ctx:    ctx,
		events: make(chan agenttypes.ResponseStream),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *InvokeAgentStream) pump() {
	defer close(s.events)
	for event := range s.inner.Events() {
		emitSafe("agent stream event", func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			switch e := event.(type) {
			case *agenttypes.ResponseStreamMemberChunk:
				s.acc.addChunk(e.Value.Bytes)
			case *agenttypes.ResponseStreamMemberTrace:
				s.acc.addTrace(e.Value.Trace)
			}
		})
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
	if err := s.inner.Err(); err != nil {
		s.setErr(err)
		s.finalize.Do(func() {
			genai.RecordCallError(s.span, err)
			s.span.End()
		})
		return
	}
	s.finish()
}

func (s *InvokeAgentStream) finish() {
	s.finalize.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		finalizeAgentSpan(s.span, &s.acc)
	})
}

// Events returns the proxied completion stream.
func (s *InvokeAgentStream) Events() <-chan agenttypes.ResponseStream { return s.events }

// Context carries the span context of the in-flight invocation.
func (s *InvokeAgentStream) Context() context.Context { return s.ctx }

// SessionID reports the session the agent invocation ran under.
func (s *InvokeAgentStream) SessionID() string { return aws.ToString(s.output.SessionId) }

// ContentType reports the MIME type of the completion stream.
func (s *InvokeAgentStream) ContentType() string { return aws.ToString(s.output.ContentType) }

func (s *InvokeAgentStream) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *InvokeAgentStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first error seen on the stream.
func (s *InvokeAgentStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the proxy and finalizes the span with whatever arrived.
func (s *InvokeAgentStream) Close() error {
	s.signalDone()
	err := s.inner.Close()
	s.finish()
	return err
}

// InvokeInlineAgentStream proxies an InvokeInlineAgent completion stream.
type InvokeInlineAgentStream struct {
	inner  *bedrockagentruntime.InvokeInlineAgentEventStream
	output *bedrockagentruntime.InvokeInlineAgentOutput
	span   trace.Span
	ctx    context.Context

	events chan agenttypes.InlineAgentResponseStream
	done   chan struct{}

	mu  sync.Mutex
	acc completionAccumulator

	closeOnce sync.Once
	finalize  sync.Once
	errMu     sync.Mutex
	err       error
}

func newInvokeInlineAgentStream(ctx context.Context, output *bedrockagentruntime.InvokeInlineAgentOutput, span trace.Span) *InvokeInlineAgentStream {
	s := &InvokeInlineAgentStream{
		inner:  output.GetStream(),
		output: output,
		span:   span,
		ctx:    ctx,
		events: make(chan agenttypes.InlineAgentResponseStream),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *InvokeInlineAgentStream) pump() {
	defer close(s.events)
	for event := range s.inner.Events() {
		emitSafe("inline agent stream event", func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			switch e := event.(type) {
			case *agenttypes.InlineAgentResponseStreamMemberChunk:
				s.acc.addChunk(e.Value.Bytes)
			case *agenttypes.InlineAgentResponseStreamMemberTrace:
				s.acc.addTrace(e.Value.Trace)
			}
		})
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
	if err := s.inner.Err(); err != nil {
		s.setErr(err)
		s.finalize.Do(func() {
			genai.RecordCallError(s.span, err)
			s.span.End()
		})
		return
	}
	s.finish()
}

func (s *InvokeInlineAgentStream) finish() {
	s.finalize.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		finalizeAgentSpan(s.span, &s.acc)
	})
}

// Events returns the proxied completion stream.
func (s *InvokeInlineAgentStream) Events() <-chan agenttypes.InlineAgentResponseStream {
	return s.events
}

// Context carries the span context of the in-flight invocation.
func (s *InvokeInlineAgentStream) Context() context.Context { return s.ctx }

// SessionID reports the session the agent invocation ran under.
func (s *InvokeInlineAgentStream) SessionID() string { return aws.ToString(s.output.SessionId) }

// ContentType reports the MIME type of the completion stream.
func (s *InvokeInlineAgentStream) ContentType() string { return aws.ToString(s.output.ContentType) }

func (s *InvokeInlineAgentStream) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *InvokeInlineAgentStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first error seen on the stream.
func (s *InvokeInlineAgentStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the proxy and finalizes the span with whatever arrived.
func (s *InvokeInlineAgentStream) Close() error {
	s.signalDone()
	err := s.inner.Close()
	s.finish()
	return err
}
