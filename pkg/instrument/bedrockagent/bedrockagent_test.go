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
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teradata-labs/lens/pkg/instrument/genai"
)

type fakeAgentAPI struct {
	err error
}

func (f *fakeAgentAPI) InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error) {
	return nil, f.err
}

func (f *fakeAgentAPI) InvokeInlineAgent(ctx context.Context, params *bedrockagentruntime.InvokeInlineAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeInlineAgentOutput, error) {
	return nil, f.err
}

func newTestClient(t *testing.T, api API) (*Client, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return Instrument(api, WithTracerProvider(tp)), exp
}

func spanAttr(stub tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range stub.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func findEvent(stub tracetest.SpanStub, name string) (sdktrace.Event, bool) {
	for _, ev := range stub.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return sdktrace.Event{}, false
}

func eventAttr(ev sdktrace.Event, key string) string {
	for _, kv := range ev.Attributes {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestInvokeAgentErrorEndsSpan(t *testing.T) {
	wantErr := errors.New("agent not ready")
	client, exp := newTestClient(t, &fakeAgentAPI{err: wantErr})

	stream, err := client.InvokeAgent(context.Background(), &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String("AGENT123"),
		AgentAliasId: aws.String("TSTALIASID"),
		SessionId:    aws.String("session-1"),
		InputText:    aws.String("book a table"),
	})
	assert.Nil(t, stream)
	assert.Same(t, wantErr, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	stub := spans[0]

	assert.Equal(t, "invoke_agent AGENT123", stub.Name)
	assert.Equal(t, codes.Error, stub.Status.Code)

	op, ok := spanAttr(stub, genai.Operation)
	require.True(t, ok)
	assert.Equal(t, genai.OperationInvokeAgent, op.AsString())

	agentID, ok := spanAttr(stub, genai.AgentID)
	require.True(t, ok)
	assert.Equal(t, "AGENT123", agentID.AsString())

	userEv, ok := findEvent(stub, genai.EventUserMessage)
	require.True(t, ok)
	assert.Equal(t, "book a table", eventAttr(userEv, "content"))
}

func TestInvokeAgentUnknownAgentID(t *testing.T) {
	client, exp := newTestClient(t, &fakeAgentAPI{err: errors.New("nope")})

	_, err := client.InvokeAgent(context.Background(), &bedrockagentruntime.InvokeAgentInput{})
	require.Error(t, err)

	stub := exp.GetSpans()[0]
	assert.Equal(t, "invoke_agent unknown", stub.Name)
	_, ok := spanAttr(stub, genai.AgentID)
	assert.False(t, ok)
}

func TestInvokeInlineAgentErrorEndsSpan(t *testing.T) {
	wantErr := errors.New("bad instruction")
	client, exp := newTestClient(t, &fakeAgentAPI{err: wantErr})

	stream, err := client.InvokeInlineAgent(context.Background(), &bedrockagentruntime.InvokeInlineAgentInput{
		FoundationModel: aws.String("anthropic.claude-sonnet-4-v1:0"),
		InputText:       aws.String("summarize this"),
	})
	assert.Nil(t, stream)
	assert.Same(t, wantErr, err)

	stub := exp.GetSpans()[0]
	assert.Equal(t, "invoke_inline_agent", stub.Name)
	assert.Equal(t, codes.Error, stub.Status.Code)

	model, ok := spanAttr(stub, genai.RequestModel)
	require.True(t, ok)
	assert.Equal(t, "anthropic.claude-sonnet-4-v1:0", model.AsString())
}

func TestCompletionAccumulatorChunksAndUsage(t *testing.T) {
	var acc completionAccumulator
	acc.addChunk([]byte("The answer "))
	acc.addChunk([]byte("is 42."))

	acc.addTrace(&agenttypes.TraceMemberOrchestrationTrace{
		Value: &agenttypes.OrchestrationTraceMemberModelInvocationInput{
			Value: agenttypes.ModelInvocationInput{
				FoundationModel: aws.String("us.amazon.nova-pro-v1:0"),
			},
		},
	})
	acc.addTrace(&agenttypes.TraceMemberOrchestrationTrace{
		Value: &agenttypes.OrchestrationTraceMemberModelInvocationOutput{
			Value: agenttypes.OrchestrationModelInvocationOutput{
				Metadata: &agenttypes.Metadata{
					Usage: &agenttypes.Usage{
						InputTokens:  aws.Int32(100),
						OutputTokens: aws.Int32(20),
					},
				},
			},
		},
	})
	acc.addTrace(&agenttypes.TraceMemberPostProcessingTrace{
		Value: &agenttypes.PostProcessingTraceMemberModelInvocationOutput{
			Value: agenttypes.PostProcessingModelInvocationOutput{
				Metadata: &agenttypes.Metadata{
					Usage: &agenttypes.Usage{
						InputTokens:  aws.Int32(30),
						OutputTokens: aws.Int32(10),
					},
				},
			},
		},
	})

	assert.Equal(t, "The answer is 42.", acc.text.String())
	assert.Equal(t, 130, acc.inputTokens)
	assert.Equal(t, 30, acc.outputTokens)
	assert.Equal(t, "us.amazon.nova-pro-v1:0", acc.model)
}

func TestCompletionAccumulatorFirstModelWins(t *testing.T) {
	var acc completionAccumulator
	acc.noteModel("model-a")
	acc.noteModel("model-b")
	assert.Equal(t, "model-a", acc.model)
}

func TestFinalizeAgentSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "invoke_agent AGENT123")

	var acc completionAccumulator
	acc.addChunk([]byte("done"))
	acc.noteModel("us.amazon.nova-pro-v1:0")
	acc.inputTokens = 50
	acc.outputTokens = 8
	finalizeAgentSpan(span, &acc)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	stub := spans[0]

	assert.Equal(t, codes.Ok, stub.Status.Code)
	model, ok := spanAttr(stub, genai.ResponseModel)
	require.True(t, ok)
	assert.Equal(t, "us.amazon.nova-pro-v1:0", model.AsString())

	in, ok := spanAttr(stub, genai.InputTokens)
	require.True(t, ok)
	assert.Equal(t, int64(50), in.AsInt64())

	details, ok := findEvent(stub, genai.EventOperationDetails)
	require.True(t, ok)
	assert.Contains(t, eventAttr(details, genai.OutputMessages), "done")

	choice, ok := findEvent(stub, genai.EventChoice)
	require.True(t, ok)
	assert.Equal(t, "end_turn", eventAttr(choice, "finish_reason"))
}

func TestFinalizeAgentSpanEmptyStream(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "invoke_agent AGENT123")
	var acc completionAccumulator
	finalizeAgentSpan(span, &acc)

	stub := exp.GetSpans()[0]
	assert.Equal(t, codes.Ok, stub.Status.Code)
	assert.Empty(t, stub.Events)
	_, ok := spanAttr(stub, genai.InputTokens)
	assert.False(t, ok)
}
