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

// Package streaming reconstructs complete model responses from streaming
// event fragments. Both wire dialects the instrumentors see are covered:
// Converse-style events (contentBlockStart / Delta / Stop, also emitted by
// Nova models over InvokeModel) and Claude Messages API envelopes
// (message_start / content_block_* / message_stop, used by Bedrock Claude
// models and the Anthropic API alike).
package streaming

import "encoding/json"

// ConverseAccumulator folds Converse-style streaming events into finished
// content blocks. At most one block is open at a time; deltas append to its
// buffers and contentBlockStop seals it.
type ConverseAccumulator struct {
	blocks     []map[string]any
	stopReason string
	usage      map[string]any

	current   map[string]any
	text      string
	signature string
	finalized bool
}

func NewConverseAccumulator() *ConverseAccumulator {
	return &ConverseAccumulator{}
}

// ProcessEvent folds one streaming event into the accumulator. Events after
// Finalize are ignored.
func (a *ConverseAccumulator) ProcessEvent(event map[string]any) {
	if a.finalized || event == nil {
		return
	}

	if start, ok := mapValue(event, "contentBlockStart"); ok {
		header, _ := mapValue(start, "start")
		a.current = map[string]any{}
		for k, v := range header {
			a.current[k] = v
		}
		a.text = ""
		a.signature = ""
		return
	}

	if deltaEvent, ok := mapValue(event, "contentBlockDelta"); ok {
		delta, _ := mapValue(deltaEvent, "delta")
		if a.current == nil {
			// Some models skip contentBlockStart for plain text.
			if _, ok := delta["reasoningContent"]; ok {
				a.current = map[string]any{"reasoningContent": map[string]any{}}
			} else {
				a.current = map[string]any{}
			}
			a.text = ""
			a.signature = ""
		}
		switch {
		case delta["text"] != nil:
			a.text += stringValue(delta, "text")
		case delta["toolUse"] != nil:
			if tu, ok := mapValue(delta, "toolUse"); ok {
				a.text += stringValue(tu, "input")
			}
		case delta["reasoningContent"] != nil:
			if rc, ok := mapValue(delta, "reasoningContent"); ok {
				a.text += stringValue(rc, "text")
				a.signature += stringValue(rc, "signature")
			}
		}
		return
	}

	if _, ok := event["contentBlockStop"]; ok {
		if a.current == nil {
			return
		}
		block := a.current
		switch {
		case block["toolUse"] != nil:
			tu, _ := mapValue(block, "toolUse")
			var parsed any
			if err := json.Unmarshal([]byte(a.text), &parsed); err == nil {
				tu["input"] = parsed
			} else {
				// Malformed argument JSON is kept as the literal string.
				tu["input"] = a.text
			}
		case block["reasoningContent"] != nil:
			text := map[string]any{"text": a.text}
			if a.signature != "" {
				text["signature"] = a.signature
			}
			block["reasoningContent"] = map[string]any{"reasoningText": text}
		case len(block) == 0 || block["text"] != nil:
			block = map[string]any{"text": a.text}
		}
		// Unknown block types keep their start header verbatim.
		a.blocks = append(a.blocks, block)
		a.current = nil
		a.text = ""
		a.signature = ""
		return
	}

	if stop, ok := mapValue(event, "messageStop"); ok {
		a.stopReason = stringValue(stop, "stopReason")
		return
	}

	if meta, ok := mapValue(event, "metadata"); ok {
		if usage, ok := mapValue(meta, "usage"); ok && len(usage) > 0 {
			a.usage = usage
		}
	}
}

// ApplyFullResponse ingests a complete response body delivered as a single
// chunk. Short Nova responses skip the event protocol entirely and arrive
// in the non-streamed shape.
func (a *ConverseAccumulator) ApplyFullResponse(body map[string]any) {
	if a.finalized || body == nil {
		return
	}
	if output, ok := mapValue(body, "output"); ok {
		if msg, ok := mapValue(output, "message"); ok {
			a.blocks = contentToBlocks(msg["content"])
		}
	}
	if usage, ok := mapValue(body, "usage"); ok {
		a.usage = usage
	}
	if stop := stringValue(body, "stopReason"); stop != "" {
		a.stopReason = stop
	}
}

// Finalize freezes the accumulator and returns the reconstructed content.
// Later calls return the same values; later events are dropped.
func (a *ConverseAccumulator) Finalize() (blocks []map[string]any, stopReason string, usage map[string]any) {
	a.finalized = true
	return a.blocks, a.stopReason, a.usage
}

func contentToBlocks(content any) []map[string]any {
	items, ok := content.([]any)
	if !ok {
		return nil
	}
	blocks := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func mapValue(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intValue(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
