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

// Package genai defines the Gen AI semantic convention attribute and event
// names shared by all instrumentors.
package genai

// Span attribute keys.
const (
	System           = "gen_ai.system"
	ProviderName     = "gen_ai.provider.name"
	Operation        = "gen_ai.operation.name"
	RequestModel     = "gen_ai.request.model"
	ResponseModel    = "gen_ai.response.model"
	InputTokens      = "gen_ai.usage.input_tokens"
	OutputTokens     = "gen_ai.usage.output_tokens"
	CacheReadTokens  = "gen_ai.usage.cache_read_input_tokens"
	CacheWriteTokens = "gen_ai.usage.cache_write_input_tokens"
	FinishReasons    = "gen_ai.response.finish_reasons"
	ToolDefinitions  = "gen_ai.tool.definitions"
	Temperature      = "gen_ai.request.temperature"
	TopP             = "gen_ai.request.top_p"
	MaxTokens        = "gen_ai.request.max_tokens"
	AgentID          = "gen_ai.agent.id"
)

// Event names.
const (
	EventOperationDetails = "gen_ai.client.inference.operation.details"
	EventChoice           = "gen_ai.choice"
	EventSystemMessage    = "gen_ai.system.message"
	EventUserMessage      = "gen_ai.user.message"
)

// Event attribute keys.
const (
	InputMessages  = "gen_ai.input.messages"
	OutputMessages = "gen_ai.output.messages"
)

// Provider values.
const (
	SystemBedrock   = "aws_bedrock"
	SystemAnthropic = "anthropic"
)

// Operation values.
const (
	OperationChat        = "chat"
	OperationInvokeAgent = "invoke_agent"
)
