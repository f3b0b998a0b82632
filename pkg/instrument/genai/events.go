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

package genai

import (
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teradata-labs/lens/pkg/telemetry"
)

// EncodeJSON renders a value as the JSON string carried in event
// attributes. Unencodable values degrade to "null".
func EncodeJSON(v any) string {
	raw, err := json.Marshal(telemetry.EncodeValue(v))
	if err != nil {
		return "null"
	}
	return string(raw)
}

// binaryBlockKeys are content block shapes whose payloads are bulky binary
// data. They are stripped from preview events; the full payload stays in the
// operation details event.
var binaryBlockKeys = map[string]bool{
	"image":    true,
	"document": true,
	"video":    true,
	"audio":    true,
}

// StripBinaryBlocks removes binary content blocks. It handles both the
// Converse key-based shape ({"image": {...}}) and the Claude type-based
// shape ({"type": "image", ...}).
func StripBinaryBlocks(content any) any {
	blocks, ok := content.([]any)
	if !ok {
		return content
	}
	kept := make([]any, 0, len(blocks))
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			kept = append(kept, b)
			continue
		}
		binary := binaryBlockKeys[stringValue(block, "type")]
		for key := range block {
			if binaryBlockKeys[key] {
				binary = true
				break
			}
		}
		if !binary {
			kept = append(kept, block)
		}
	}
	return kept
}

// stripBinaryMessages applies StripBinaryBlocks to each message's content,
// cloning messages so callers' inputs stay untouched.
func stripBinaryMessages(msgs []any) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok {
			out = append(out, m)
			continue
		}
		clone := make(map[string]any, len(msg))
		for k, v := range msg {
			clone[k] = v
		}
		clone["content"] = StripBinaryBlocks(msg["content"])
		out = append(out, clone)
	}
	return out
}

// EmitInputDetailsEvent records the request half of the operation details
// plus the input previews. Streaming calls use it to emit input before the
// response starts arriving.
func EmitInputDetailsEvent(span trace.Span, inputMsgs []any) {
	if !CaptureContent() {
		return
	}
	if !EncodeBinary() {
		inputMsgs = stripBinaryMessages(inputMsgs)
	}
	span.AddEvent(EventOperationDetails, trace.WithAttributes(
		attribute.String(InputMessages, EncodeJSON(inputMsgs)),
	))
	EmitInputPreviewEvents(span, inputMsgs)
}

// EmitInputPreviewEvents emits the system message and the last user message
// as lightweight per-role events. Only those two are emitted so multi-turn
// conversations don't grow the event payload quadratically.
func EmitInputPreviewEvents(span trace.Span, inputMsgs []any) {
	if !CaptureContent() {
		return
	}
	if len(inputMsgs) > 0 {
		if first, ok := inputMsgs[0].(map[string]any); ok && stringValue(first, "role") == "system" {
			span.AddEvent(EventSystemMessage, trace.WithAttributes(
				attribute.String("content", EncodeJSON(StripBinaryBlocks(first["content"]))),
			))
		}
	}
	for i := len(inputMsgs) - 1; i >= 0; i-- {
		msg, ok := inputMsgs[i].(map[string]any)
		if !ok || stringValue(msg, "role") != "user" {
			continue
		}
		span.AddEvent(EventUserMessage, trace.WithAttributes(
			attribute.String("content", EncodeJSON(StripBinaryBlocks(msg["content"]))),
		))
		break
	}
}

// ExtractToolResults collects tool result blocks from input messages, in
// both Converse and Claude shapes.
func ExtractToolResults(inputMsgs []any) []any {
	var results []any
	for _, m := range inputMsgs {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, b := range content {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if _, isConverse := block["toolResult"]; isConverse || stringValue(block, "type") == "tool_result" {
				results = append(results, block)
			}
		}
	}
	return results
}

// EmitCompletionEvents emits the standard event set for a completed
// exchange. With inputMsgs the details event carries both directions plus
// the input previews; without (stream finalize, where input went out at
// stream start) it carries output only.
func EmitCompletionEvents(span trace.Span, outputMsg map[string]any, stopReason string, toolResults []any, inputMsgs []any) {
	if !CaptureContent() {
		return
	}
	if inputMsgs != nil {
		if !EncodeBinary() {
			inputMsgs = stripBinaryMessages(inputMsgs)
		}
		span.AddEvent(EventOperationDetails, trace.WithAttributes(
			attribute.String(InputMessages, EncodeJSON(inputMsgs)),
			attribute.String(OutputMessages, EncodeJSON([]any{outputMsg})),
		))
		EmitInputPreviewEvents(span, inputMsgs)
	} else {
		span.AddEvent(EventOperationDetails, trace.WithAttributes(
			attribute.String(OutputMessages, EncodeJSON([]any{outputMsg})),
		))
	}

	choiceAttrs := []attribute.KeyValue{
		attribute.String("message", EncodeJSON(outputMsg["content"])),
	}
	if stopReason != "" {
		choiceAttrs = append(choiceAttrs, attribute.String("finish_reason", stopReason))
	}
	if len(toolResults) > 0 {
		choiceAttrs = append(choiceAttrs, attribute.String("tool.result", EncodeJSON(toolResults)))
	}
	span.AddEvent(EventChoice, trace.WithAttributes(choiceAttrs...))
}

// AssistantMessage wraps reconstructed content blocks in the assistant
// message shape recorded on spans.
func AssistantMessage(blocks []map[string]any) map[string]any {
	content := make([]any, 0, len(blocks))
	for _, b := range blocks {
		content = append(content, b)
	}
	return map[string]any{"role": "assistant", "content": content}
}

// BuildInputMessages assembles span input messages from a Messages API
// request body. Claude allows a bare string system prompt; Nova always
// sends an array of text blocks.
func BuildInputMessages(reqBody map[string]any) []any {
	var msgs []any
	if system, ok := reqBody["system"]; ok {
		if text, isString := system.(string); isString {
			msgs = append(msgs, map[string]any{
				"role":    "system",
				"content": []any{map[string]any{"text": text}},
			})
		} else {
			msgs = append(msgs, map[string]any{"role": "system", "content": system})
		}
	}
	if messages, ok := reqBody["messages"].([]any); ok {
		msgs = append(msgs, messages...)
	}
	return msgs
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
