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
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestRecordCallErrorPlain(t *testing.T) {
	span, flush := startRecordedSpan(t)

	RecordCallError(span, errors.New("boom"))
	got := flush()

	assert.Equal(t, codes.Error, got.Status.Code)
	_, hasType := findEvent(got, "exception")
	assert.True(t, hasType)
	for _, kv := range got.Attributes {
		assert.NotEqual(t, "error.type", string(kv.Key))
	}
}

func TestRecordCallErrorAPIError(t *testing.T) {
	span, flush := startRecordedSpan(t)

	apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	RecordCallError(span, fmt.Errorf("converse: %w", apiErr))
	got := flush()

	require.Equal(t, codes.Error, got.Status.Code)
	var errType string
	for _, kv := range got.Attributes {
		if string(kv.Key) == "error.type" {
			errType = kv.Value.AsString()
		}
	}
	assert.Equal(t, "ThrottlingException", errType)
}
