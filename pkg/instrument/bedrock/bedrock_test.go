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
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teradata-labs/lens/pkg/instrument"
	"github.com/teradata-labs/lens/pkg/instrument/genai"
)

type fakeBedrockAPI struct {
	converseOut *bedrockruntime.ConverseOutput
	invokeOut   *bedrockruntime.InvokeModelOutput
	err         error

	converseCalls int
	invokeCalls   int
}

func (f *fakeBedrockAPI) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converseCalls++
	return f.converseOut, f.err
}

func (f *fakeBedrockAPI) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseStreamOutput{}, nil
}

func (f *fakeBedrockAPI) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.invokeCalls++
	return f.invokeOut, f.err
}

func (f *fakeBedrockAPI) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelWithResponseStreamOutput{}, nil
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

func requireAttrString(t *testing.T, stub tracetest.SpanStub, key, want string) {
	t.Helper()
	v, ok := spanAttr(stub, key)
	require.True(t, ok, "attribute %s missing", key)
	assert.Equal(t, want, v.AsString())
}

func requireAttrInt(t *testing.T, stub tracetest.SpanStub, key string, want int64) {
	t.Helper()
	v, ok := spanAttr(stub, key)
	require.True(t, ok, "attribute %s missing", key)
	assert.Equal(t, want, v.AsInt64())
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

func textMessage(role bedrocktypes.ConversationRole, text string) bedrocktypes.Message {
	return bedrocktypes.Message{
		Role:    role,
		Content: []bedrocktypes.ContentBlock{&bedrocktypes.ContentBlockMemberText{Value: text}},
	}
}

func TestConverseRecordsSpan(t *testing.T) {
	fake := &fakeBedrockAPI{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &bedrocktypes.ConverseOutputMemberMessage{
				Value: textMessage(bedrocktypes.ConversationRoleAssistant, "hello back"),
			},
			StopReason: bedrocktypes.StopReasonEndTurn,
			Usage: &bedrocktypes.TokenUsage{
				InputTokens:  aws.Int32(12),
				OutputTokens: aws.Int32(4),
			},
		},
	}
	client, exp := newTestClient(t, fake)

	out, err := client.Converse(context.Background(), &bedrockruntime.ConverseInput{
		ModelId: aws.String("us.amazon.nova-pro-v1:0"),
		System: []bedrocktypes.SystemContentBlock{
			&bedrocktypes.SystemContentBlockMemberText{Value: "be brief"},
		},
		Messages: []bedrocktypes.Message{textMessage(bedrocktypes.ConversationRoleUser, "hello")},
	})
	require.NoError(t, err)
	require.Same(t, fake.converseOut, out)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	stub := spans[0]

	assert.Equal(t, "chat us.amazon.nova-pro-v1:0", stub.Name)
	assert.Equal(t, trace.SpanKindClient, stub.SpanKind)
	assert.Equal(t, codes.Ok, stub.Status.Code)

	requireAttrString(t, stub, genai.System, genai.SystemBedrock)
	requireAttrString(t, stub, genai.Operation, genai.OperationChat)
	requireAttrString(t, stub, genai.RequestModel, "us.amazon.nova-pro-v1:0")
	requireAttrString(t, stub, genai.ResponseModel, "us.amazon.nova-pro-v1:0")
	requireAttrInt(t, stub, genai.InputTokens, 12)
	requireAttrInt(t, stub, genai.OutputTokens, 4)

	finish, ok := spanAttr(stub, genai.FinishReasons)
	require.True(t, ok)
	assert.Equal(t, []string{"end_turn"}, finish.AsStringSlice())

	details, ok := findEvent(stub, genai.EventOperationDetails)
	require.True(t, ok)
	assert.Contains(t, eventAttr(details, genai.InputMessages), "be brief")
	assert.Contains(t, eventAttr(details, genai.OutputMessages), "hello back")

	choice, ok := findEvent(stub, genai.EventChoice)
	require.True(t, ok)
	assert.Equal(t, "end_turn", eventAttr(choice, "finish_reason"))
	assert.Contains(t, eventAttr(choice, "message"), "hello back")

	sysEv, ok := findEvent(stub, genai.EventSystemMessage)
	require.True(t, ok)
	assert.Contains(t, eventAttr(sysEv, "content"), "be brief")

	userEv, ok := findEvent(stub, genai.EventUserMessage)
	require.True(t, ok)
	assert.Contains(t, eventAttr(userEv, "content"), "hello")
}

func TestConverseErrorPropagates(t *testing.T) {
	wantErr := errors.New("throttled")
	client, exp := newTestClient(t, &fakeBedrockAPI{err: wantErr})

	out, err := client.Converse(context.Background(), &bedrockruntime.ConverseInput{
		ModelId: aws.String("us.amazon.nova-lite-v1:0"),
	})
	assert.Nil(t, out)
	assert.Same(t, wantErr, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "throttled", spans[0].Status.Description)
	_, recorded := findEvent(spans[0], "exception")
	assert.True(t, recorded)
}

func TestConverseInferenceConfigAttrs(t *testing.T) {
	fake := &fakeBedrockAPI{converseOut: &bedrockruntime.ConverseOutput{}}
	client, exp := newTestClient(t, fake)

	_, err := client.Converse(context.Background(), &bedrockruntime.ConverseInput{
		ModelId: aws.String("us.amazon.nova-pro-v1:0"),
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			Temperature: aws.Float32(0.7),
			TopP:        aws.Float32(0.9),
			MaxTokens:   aws.Int32(2048),
		},
	})
	require.NoError(t, err)

	stub := exp.GetSpans()[0]
	temp, ok := spanAttr(stub, genai.Temperature)
	require.True(t, ok)
	assert.InDelta(t, 0.7, temp.AsFloat64(), 0.001)
	requireAttrInt(t, stub, genai.MaxTokens, 2048)
}

func TestConverseStreamErrorEndsSpan(t *testing.T) {
	wantErr := errors.New("model not found")
	client, exp := newTestClient(t, &fakeBedrockAPI{err: wantErr})

	stream, err := client.ConverseStream(context.Background(), &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String("anthropic.claude-sonnet-4-v1:0"),
		Messages: []bedrocktypes.Message{textMessage(bedrocktypes.ConversationRoleUser, "hi")},
	})
	assert.Nil(t, stream)
	assert.Same(t, wantErr, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)

	// Input context went out before the call failed.
	details, ok := findEvent(spans[0], genai.EventOperationDetails)
	require.True(t, ok)
	assert.Contains(t, eventAttr(details, genai.InputMessages), "hi")
}

func TestInvokeModelClaude(t *testing.T) {
	fake := &fakeBedrockAPI{
		invokeOut: &bedrockruntime.InvokeModelOutput{
			Body: []byte(`{"model":"claude-sonnet-4","role":"assistant","content":[{"type":"text","text":"bonjour"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3,"cache_read_input_tokens":2}}`),
		},
	}
	client, exp := newTestClient(t, fake)

	_, err := client.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("anthropic.claude-sonnet-4-v1:0"),
		Body:    []byte(`{"system":"speak french","messages":[{"role":"user","content":[{"type":"text","text":"hello"}]}]}`),
	})
	require.NoError(t, err)

	stub := exp.GetSpans()[0]
	assert.Equal(t, codes.Ok, stub.Status.Code)
	requireAttrString(t, stub, genai.ResponseModel, "claude-sonnet-4")
	requireAttrInt(t, stub, genai.InputTokens, 10)
	requireAttrInt(t, stub, genai.OutputTokens, 3)
	requireAttrInt(t, stub, genai.CacheReadTokens, 2)

	// The bare string system prompt is normalized to a content block list.
	sysEv, ok := findEvent(stub, genai.EventSystemMessage)
	require.True(t, ok)
	assert.Contains(t, eventAttr(sysEv, "content"), "speak french")

	choice, ok := findEvent(stub, genai.EventChoice)
	require.True(t, ok)
	assert.Contains(t, eventAttr(choice, "message"), "bonjour")
	assert.Equal(t, "end_turn", eventAttr(choice, "finish_reason"))
}

func TestInvokeModelNova(t *testing.T) {
	fake := &fakeBedrockAPI{
		invokeOut: &bedrockruntime.InvokeModelOutput{
			Body: []byte(`{"output":{"message":{"role":"assistant","content":[{"text":"hey"}]}},"stopReason":"end_turn","usage":{"inputTokens":5,"outputTokens":2}}`),
		},
	}
	client, exp := newTestClient(t, fake)

	_, err := client.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("us.amazon.nova-lite-v1:0"),
		Body:    []byte(`{"messages":[{"role":"user","content":[{"text":"yo"}]}]}`),
	})
	require.NoError(t, err)

	stub := exp.GetSpans()[0]
	assert.Equal(t, codes.Ok, stub.Status.Code)
	requireAttrInt(t, stub, genai.InputTokens, 5)
	requireAttrInt(t, stub, genai.OutputTokens, 2)

	choice, ok := findEvent(stub, genai.EventChoice)
	require.True(t, ok)
	assert.Contains(t, eventAttr(choice, "message"), "hey")
}

func TestInvokeModelUnknownFamilyDegrades(t *testing.T) {
	fake := &fakeBedrockAPI{
		invokeOut: &bedrockruntime.InvokeModelOutput{
			Body: []byte(`{"generation":"some text","prompt_token_count":9}`),
		},
	}
	client, exp := newTestClient(t, fake)

	out, err := client.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("meta.llama3-70b-instruct-v1:0"),
		Body:    []byte(`{"prompt":"hi"}`),
	})
	require.NoError(t, err)
	require.Same(t, fake.invokeOut, out)

	stub := exp.GetSpans()[0]
	assert.Equal(t, codes.Ok, stub.Status.Code)
	requireAttrString(t, stub, genai.RequestModel, "meta.llama3-70b-instruct-v1:0")
	_, ok := spanAttr(stub, genai.ResponseModel)
	assert.False(t, ok)
	assert.Empty(t, stub.Events)
}

func TestInvokeModelUndecodableBody(t *testing.T) {
	fake := &fakeBedrockAPI{
		invokeOut: &bedrockruntime.InvokeModelOutput{Body: []byte("\x89PNG not json")},
	}
	client, exp := newTestClient(t, fake)

	out, err := client.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("anthropic.claude-sonnet-4-v1:0"),
		Body:    []byte(`{}`),
	})
	require.NoError(t, err)
	require.Same(t, fake.invokeOut, out)

	stub := exp.GetSpans()[0]
	assert.Equal(t, codes.Ok, stub.Status.Code)
}

func TestInvokeModelErrorPropagates(t *testing.T) {
	wantErr := errors.New("access denied")
	client, exp := newTestClient(t, &fakeBedrockAPI{err: wantErr})

	_, err := client.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("anthropic.claude-sonnet-4-v1:0"),
		Body:    []byte(`{}`),
	})
	assert.Same(t, wantErr, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestInvokeModelWithResponseStreamErrorEndsSpan(t *testing.T) {
	wantErr := errors.New("validation error")
	client, exp := newTestClient(t, &fakeBedrockAPI{err: wantErr})

	stream, err := client.InvokeModelWithResponseStream(context.Background(), &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId: aws.String("us.amazon.nova-pro-v1:0"),
		Body:    []byte(`{}`),
	})
	assert.Nil(t, stream)
	assert.Same(t, wantErr, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestInstrumentUsesRegistryProvider(t *testing.T) {
	t.Cleanup(instrument.Reset)
	defaultMu.Lock()
	saved := defaultProvider
	defaultMu.Unlock()
	t.Cleanup(func() {
		defaultMu.Lock()
		defaultProvider = saved
		defaultMu.Unlock()
	})

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	require.True(t, instrument.Instrument(IntegrationName, tp, "svc", "1.0"))

	client := Instrument(&fakeBedrockAPI{converseOut: &bedrockruntime.ConverseOutput{}})
	_, err := client.Converse(context.Background(), &bedrockruntime.ConverseInput{
		ModelId: aws.String("us.amazon.nova-lite-v1:0"),
	})
	require.NoError(t, err)
	assert.Len(t, exp.GetSpans(), 1)
}

func TestDetectModelFamily(t *testing.T) {
	cases := map[string]string{
		"anthropic.claude-sonnet-4-v1:0":     familyClaude,
		"us.anthropic.claude-haiku-4-5-v1:0": familyClaude,
		"us.amazon.nova-pro-v1:0":            familyNova,
		"meta.llama3-70b-instruct-v1:0":      "",
		"mistral.mistral-large-2402-v1:0":    "",
		"cohere.command-r-plus-v1:0":         "",
		"Anthropic.Claude-3-Sonnet-20240229": familyClaude,
	}
	for modelID, want := range cases {
		assert.Equal(t, want, detectModelFamily(modelID), modelID)
	}
}
