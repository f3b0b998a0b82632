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

package streaming

import "encoding/json"

// ClaudeAccumulator folds Claude Messages API streaming envelopes
// (message_start / content_block_* / message_delta / message_stop) into
// Converse-shaped content blocks. Blocks are addressed by index and may be
// open concurrently. Usage reported by message_start and message_delta is
// overridden by the final amazon-bedrock-invocationMetrics when present.
type ClaudeAccumulator struct {
	model      string
	stopReason string
	usage      map[string]any

	headers    map[int]map[string]any
	texts      map[int]string
	signatures map[int]string
	blocks     []map[string]any
	finalized  bool
}

func NewClaudeAccumulator() *ClaudeAccumulator {
	return &ClaudeAccumulator{
		usage:      map[string]any{},
		headers:    map[int]map[string]any{},
		texts:      map[int]string{},
		signatures: map[int]string{},
	}
}

// Model reports the model named by message_start, if any arrived.
func (a *ClaudeAccumulator) Model() string {
	return a.model
}

// ProcessChunk parses one raw streaming chunk. Undecodable chunks are
// skipped.
func (a *ClaudeAccumulator) ProcessChunk(raw []byte) {
	if a.finalized {
		return
	}
	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		return
	}
	a.ProcessEvent(event)
}

// ProcessEvent folds one decoded envelope into the accumulator.
func (a *ClaudeAccumulator) ProcessEvent(event map[string]any) {
	if a.finalized || event == nil {
		return
	}

	switch stringValue(event, "type") {
	case "message_start":
		msg, _ := mapValue(event, "message")
		if model := stringValue(msg, "model"); model != "" {
			a.model = model
		}
		if usage, ok := mapValue(msg, "usage"); ok {
			for k, v := range usage {
				a.usage[k] = v
			}
		}

	case "content_block_start":
		idx := intValue(event, "index")
		block, _ := mapValue(event, "content_block")
		a.headers[idx] = block
		a.texts[idx] = ""

	case "content_block_delta":
		idx := intValue(event, "index")
		delta, _ := mapValue(event, "delta")
		switch {
		case delta["text"] != nil:
			a.texts[idx] += stringValue(delta, "text")
		case delta["partial_json"] != nil:
			a.texts[idx] += stringValue(delta, "partial_json")
		case delta["thinking"] != nil:
			a.texts[idx] += stringValue(delta, "thinking")
		case delta["signature"] != nil:
			a.signatures[idx] += stringValue(delta, "signature")
		}

	case "content_block_stop":
		idx := intValue(event, "index")
		a.sealBlock(idx)

	case "message_delta":
		delta, _ := mapValue(event, "delta")
		if stop := stringValue(delta, "stop_reason"); stop != "" {
			a.stopReason = stop
		}
		if usage, ok := mapValue(event, "usage"); ok {
			for k, v := range usage {
				a.usage[k] = v
			}
		}

	case "message_stop":
		if metrics, ok := mapValue(event, "amazon-bedrock-invocationMetrics"); ok {
			// Bedrock's invocation metrics are authoritative.
			if v, ok := metrics["inputTokenCount"]; ok {
				a.usage["input_tokens"] = v
			}
			if v, ok := metrics["outputTokenCount"]; ok {
				a.usage["output_tokens"] = v
			}
		}
	}
}

func (a *ClaudeAccumulator) sealBlock(idx int) {
	header := a.headers[idx]
	text := a.texts[idx]
	blockType := stringValue(header, "type")
	if blockType == "" {
		blockType = "text"
	}

	var block map[string]any
	switch blockType {
	case "tool_use":
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			parsed = text
		}
		block = map[string]any{"toolUse": map[string]any{
			"toolUseId": stringValue(header, "id"),
			"name":      stringValue(header, "name"),
			"input":     parsed,
		}}
	case "thinking":
		reasoning := map[string]any{"text": text}
		sig := a.signatures[idx]
		if sig == "" {
			sig = stringValue(header, "signature")
		}
		if sig != "" {
			reasoning["signature"] = sig
		}
		block = map[string]any{"reasoningContent": map[string]any{"reasoningText": reasoning}}
	default:
		block = map[string]any{"text": text}
	}

	a.blocks = append(a.blocks, block)
	delete(a.headers, idx)
	delete(a.texts, idx)
	delete(a.signatures, idx)
}

// Finalize freezes the accumulator. Later calls return the same values.
func (a *ClaudeAccumulator) Finalize() (blocks []map[string]any, stopReason string, usage map[string]any) {
	a.finalized = true
	if len(a.usage) == 0 {
		return a.blocks, a.stopReason, nil
	}
	return a.blocks, a.stopReason, a.usage
}
