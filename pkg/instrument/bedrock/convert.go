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
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"

	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// The SDK's typed unions are converted to wire-shaped maps so the
// accumulator and event emission work on one representation for Converse,
// ConverseStream, and raw InvokeModel bodies alike.

func documentToAny(doc document.Interface) any {
	if doc == nil {
		return nil
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return nil
	}
	return v
}

func contentBlockToMap(block bedrocktypes.ContentBlock) map[string]any {
	switch b := block.(type) {
	case *bedrocktypes.ContentBlockMemberText:
		return map[string]any{"text": b.Value}
	case *bedrocktypes.ContentBlockMemberToolUse:
		return map[string]any{"toolUse": map[string]any{
			"toolUseId": aws.ToString(b.Value.ToolUseId),
			"name":      aws.ToString(b.Value.Name),
			"input":     documentToAny(b.Value.Input),
		}}
	case *bedrocktypes.ContentBlockMemberToolResult:
		content := make([]any, 0, len(b.Value.Content))
		for _, c := range b.Value.Content {
			switch tc := c.(type) {
			case *bedrocktypes.ToolResultContentBlockMemberText:
				content = append(content, map[string]any{"text": tc.Value})
			case *bedrocktypes.ToolResultContentBlockMemberJson:
				content = append(content, map[string]any{"json": documentToAny(tc.Value)})
			case *bedrocktypes.ToolResultContentBlockMemberImage:
				content = append(content, map[string]any{"image": imageBlockToMap(tc.Value)})
			}
		}
		result := map[string]any{
			"toolUseId": aws.ToString(b.Value.ToolUseId),
			"content":   content,
		}
		if b.Value.Status != "" {
			result["status"] = string(b.Value.Status)
		}
		return map[string]any{"toolResult": result}
	case *bedrocktypes.ContentBlockMemberImage:
		return map[string]any{"image": imageBlockToMap(b.Value)}
	case *bedrocktypes.ContentBlockMemberDocument:
		doc := map[string]any{
			"format": string(b.Value.Format),
			"name":   aws.ToString(b.Value.Name),
		}
		if src, ok := b.Value.Source.(*bedrocktypes.DocumentSourceMemberBytes); ok {
			doc["source"] = map[string]any{"bytes": src.Value}
		}
		return map[string]any{"document": doc}
	case *bedrocktypes.ContentBlockMemberReasoningContent:
		switch rc := b.Value.(type) {
		case *bedrocktypes.ReasoningContentBlockMemberReasoningText:
			text := map[string]any{"text": aws.ToString(rc.Value.Text)}
			if sig := aws.ToString(rc.Value.Signature); sig != "" {
				text["signature"] = sig
			}
			return map[string]any{"reasoningContent": map[string]any{"reasoningText": text}}
		case *bedrocktypes.ReasoningContentBlockMemberRedactedContent:
			return map[string]any{"reasoningContent": map[string]any{"redactedContent": rc.Value}}
		}
		return map[string]any{"reasoningContent": map[string]any{}}
	}
	return map[string]any{}
}

func imageBlockToMap(img bedrocktypes.ImageBlock) map[string]any {
	m := map[string]any{"format": string(img.Format)}
	if src, ok := img.Source.(*bedrocktypes.ImageSourceMemberBytes); ok {
		m["source"] = map[string]any{"bytes": src.Value}
	}
	return m
}

func messageToMap(msg bedrocktypes.Message) map[string]any {
	content := make([]any, 0, len(msg.Content))
	for _, block := range msg.Content {
		content = append(content, contentBlockToMap(block))
	}
	return map[string]any{
		"role":    string(msg.Role),
		"content": content,
	}
}

func systemBlocksToContent(system []bedrocktypes.SystemContentBlock) []any {
	content := make([]any, 0, len(system))
	for _, block := range system {
		if text, ok := block.(*bedrocktypes.SystemContentBlockMemberText); ok {
			content = append(content, map[string]any{"text": text.Value})
		}
	}
	return content
}

// buildConverseInputMessages flattens a Converse request into the message
// list recorded on spans: system content first, then conversation turns.
func buildConverseInputMessages(in *bedrockruntime.ConverseInput) []any {
	var msgs []any
	if content := systemBlocksToContent(in.System); len(content) > 0 {
		msgs = append(msgs, map[string]any{"role": "system", "content": content})
	}
	for _, msg := range in.Messages {
		msgs = append(msgs, messageToMap(msg))
	}
	return msgs
}

func buildStreamInputMessages(in *bedrockruntime.ConverseStreamInput) []any {
	return buildConverseInputMessages(&bedrockruntime.ConverseInput{
		System:   in.System,
		Messages: in.Messages,
	})
}

func toolConfigToDefs(tc *bedrocktypes.ToolConfiguration) []any {
	if tc == nil {
		return nil
	}
	defs := make([]any, 0, len(tc.Tools)+1)
	for _, tool := range tc.Tools {
		spec, ok := tool.(*bedrocktypes.ToolMemberToolSpec)
		if !ok {
			continue
		}
		def := map[string]any{
			"toolSpec": map[string]any{
				"name":        aws.ToString(spec.Value.Name),
				"description": aws.ToString(spec.Value.Description),
			},
		}
		if schema, ok := spec.Value.InputSchema.(*bedrocktypes.ToolInputSchemaMemberJson); ok {
			def["toolSpec"].(map[string]any)["inputSchema"] = map[string]any{
				"json": documentToAny(schema.Value),
			}
		}
		defs = append(defs, def)
	}
	if choice := toolChoiceToMap(tc.ToolChoice); choice != nil {
		defs = append(defs, map[string]any{"toolChoice": choice})
	}
	return defs
}

func toolChoiceToMap(choice bedrocktypes.ToolChoice) any {
	switch c := choice.(type) {
	case *bedrocktypes.ToolChoiceMemberAuto:
		return map[string]any{"auto": map[string]any{}}
	case *bedrocktypes.ToolChoiceMemberAny:
		return map[string]any{"any": map[string]any{}}
	case *bedrocktypes.ToolChoiceMemberTool:
		return map[string]any{"tool": map[string]any{"name": aws.ToString(c.Value.Name)}}
	}
	return nil
}

// converseOutputMessage extracts the assistant message from a Converse
// response as a wire-shaped map.
func converseOutputMessage(out *bedrockruntime.ConverseOutput) map[string]any {
	if out == nil {
		return map[string]any{}
	}
	if msg, ok := out.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		return messageToMap(msg.Value)
	}
	return map[string]any{}
}

func tokenUsageToMap(usage *bedrocktypes.TokenUsage) map[string]any {
	if usage == nil {
		return nil
	}
	m := map[string]any{}
	if usage.InputTokens != nil {
		m["inputTokens"] = int(*usage.InputTokens)
	}
	if usage.OutputTokens != nil {
		m["outputTokens"] = int(*usage.OutputTokens)
	}
	if usage.CacheReadInputTokens != nil {
		m["cacheReadInputTokenCount"] = int(*usage.CacheReadInputTokens)
	}
	if usage.CacheWriteInputTokens != nil {
		m["cacheWriteInputTokenCount"] = int(*usage.CacheWriteInputTokens)
	}
	return m
}

// streamEventToMap converts a typed ConverseStream event into the
// wire-shaped map the accumulator consumes. Unknown event types map to nil.
func streamEventToMap(event bedrocktypes.ConverseStreamOutput) map[string]any {
	switch e := event.(type) {
	case *bedrocktypes.ConverseStreamOutputMemberMessageStart:
		return map[string]any{"messageStart": map[string]any{
			"role": string(e.Value.Role),
		}}
	case *bedrocktypes.ConverseStreamOutputMemberContentBlockStart:
		start := map[string]any{}
		if tu, ok := e.Value.Start.(*bedrocktypes.ContentBlockStartMemberToolUse); ok {
			start["toolUse"] = map[string]any{
				"toolUseId": aws.ToString(tu.Value.ToolUseId),
				"name":      aws.ToString(tu.Value.Name),
			}
		}
		return map[string]any{"contentBlockStart": map[string]any{
			"contentBlockIndex": int(aws.ToInt32(e.Value.ContentBlockIndex)),
			"start":             start,
		}}
	case *bedrocktypes.ConverseStreamOutputMemberContentBlockDelta:
		delta := map[string]any{}
		switch d := e.Value.Delta.(type) {
		case *bedrocktypes.ContentBlockDeltaMemberText:
			delta["text"] = d.Value
		case *bedrocktypes.ContentBlockDeltaMemberToolUse:
			delta["toolUse"] = map[string]any{"input": aws.ToString(d.Value.Input)}
		case *bedrocktypes.ContentBlockDeltaMemberReasoningContent:
			rc := map[string]any{}
			switch r := d.Value.(type) {
			case *bedrocktypes.ReasoningContentBlockDeltaMemberText:
				rc["text"] = r.Value
			case *bedrocktypes.ReasoningContentBlockDeltaMemberSignature:
				rc["signature"] = r.Value
			}
			delta["reasoningContent"] = rc
		}
		return map[string]any{"contentBlockDelta": map[string]any{
			"contentBlockIndex": int(aws.ToInt32(e.Value.ContentBlockIndex)),
			"delta":             delta,
		}}
	case *bedrocktypes.ConverseStreamOutputMemberContentBlockStop:
		return map[string]any{"contentBlockStop": map[string]any{
			"contentBlockIndex": int(aws.ToInt32(e.Value.ContentBlockIndex)),
		}}
	case *bedrocktypes.ConverseStreamOutputMemberMessageStop:
		return map[string]any{"messageStop": map[string]any{
			"stopReason": string(e.Value.StopReason),
		}}
	case *bedrocktypes.ConverseStreamOutputMemberMetadata:
		meta := map[string]any{}
		if usage := tokenUsageToMap(e.Value.Usage); usage != nil {
			meta["usage"] = usage
		}
		return map[string]any{"metadata": meta}
	}
	return nil
}

func mapValue(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
