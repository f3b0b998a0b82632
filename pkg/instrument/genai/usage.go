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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SetConverseUsage records token usage from Converse-style usage maps
// (camelCase keys, cache counters with the Count suffix).
func SetConverseUsage(span trace.Span, usage map[string]any) {
	setUsageAttr(span, usage, "inputTokens", InputTokens)
	setUsageAttr(span, usage, "outputTokens", OutputTokens)
	setUsageAttr(span, usage, "cacheReadInputTokenCount", CacheReadTokens)
	setUsageAttr(span, usage, "cacheWriteInputTokenCount", CacheWriteTokens)
}

// SetClaudeUsage records token usage from Claude Messages API usage maps
// (snake_case keys; cache writes reported as cache_creation).
func SetClaudeUsage(span trace.Span, usage map[string]any) {
	setUsageAttr(span, usage, "input_tokens", InputTokens)
	setUsageAttr(span, usage, "output_tokens", OutputTokens)
	setUsageAttr(span, usage, "cache_read_input_tokens", CacheReadTokens)
	setUsageAttr(span, usage, "cache_creation_input_tokens", CacheWriteTokens)
}

func setUsageAttr(span trace.Span, usage map[string]any, key, attr string) {
	v, ok := usage[key]
	if !ok {
		return
	}
	switch n := v.(type) {
	case int:
		span.SetAttributes(attribute.Int(attr, n))
	case int64:
		span.SetAttributes(attribute.Int64(attr, n))
	case float64:
		span.SetAttributes(attribute.Int(attr, int(n)))
	}
}

// SetFinishReason records the finish reason list attribute.
func SetFinishReason(span trace.Span, stopReason string) {
	if stopReason != "" {
		span.SetAttributes(attribute.StringSlice(FinishReasons, []string{stopReason}))
	}
}
