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
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/teradata-labs/lens/pkg/instrument/genai"
	"github.com/teradata-labs/lens/pkg/telemetry"
)

// Model families whose request and response bodies we can parse. Anything
// else degrades to model and usage attribution only.
const (
	familyClaude = "claude"
	familyNova   = "nova"
)

func detectModelFamily(modelID string) string {
	lower := strings.ToLower(modelID)
	if strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic") {
		return familyClaude
	}
	if strings.Contains(lower, "nova") {
		return familyNova
	}
	return ""
}

func setBaseAttrs(span trace.Span, modelID string) {
	span.SetAttributes(
		attribute.String(genai.System, genai.SystemBedrock),
		attribute.String(genai.ProviderName, genai.SystemBedrock),
		attribute.String(genai.Operation, genai.OperationChat),
		attribute.String(genai.RequestModel, modelID),
	)
}

func setInferenceConfigAttrs(span trace.Span, cfg *bedrocktypes.InferenceConfiguration) {
	if cfg == nil {
		return
	}
	if cfg.Temperature != nil {
		span.SetAttributes(attribute.Float64(genai.Temperature, float64(*cfg.Temperature)))
	}
	if cfg.TopP != nil {
		span.SetAttributes(attribute.Float64(genai.TopP, float64(*cfg.TopP)))
	}
	if cfg.MaxTokens != nil {
		span.SetAttributes(attribute.Int(genai.MaxTokens, int(*cfg.MaxTokens)))
	}
}

func setToolDefinitionAttrs(span trace.Span, tc *bedrocktypes.ToolConfiguration) {
	defs := toolConfigToDefs(tc)
	if len(defs) == 0 {
		return
	}
	if raw, err := json.Marshal(telemetry.EncodeValue(defs)); err == nil {
		span.SetAttributes(attribute.String(genai.ToolDefinitions, string(raw)))
	}
}

func setConverseRequestAttrs(span trace.Span, in *bedrockruntime.ConverseInput, modelID string) {
	setBaseAttrs(span, modelID)
	setToolDefinitionAttrs(span, in.ToolConfig)
	setInferenceConfigAttrs(span, in.InferenceConfig)
}

func setStreamRequestAttrs(span trace.Span, in *bedrockruntime.ConverseStreamInput, modelID string) {
	setBaseAttrs(span, modelID)
	setToolDefinitionAttrs(span, in.ToolConfig)
	setInferenceConfigAttrs(span, in.InferenceConfig)
}
