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

package lens

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lens/pkg/config"
	"github.com/teradata-labs/lens/pkg/instrument"
	"github.com/teradata-labs/lens/pkg/instrument/genai"
	"github.com/teradata-labs/lens/pkg/telemetry"
)

func disabledSDK(t *testing.T) *SDK {
	t.Helper()
	s, err := New(config.WithDisabled(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestGetBeforeInit(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))

	_, err := Get()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, IsInitialized())
}

func TestInitIdempotent(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	first, err := Init(config.WithDisabled(true))
	require.NoError(t, err)
	require.True(t, IsInitialized())

	second, err := Init(config.WithDisabled(true))
	require.NoError(t, err)
	assert.Same(t, first, second)

	got, err := Get()
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestShutdownClearsGlobal(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))

	_, err := Init(config.WithDisabled(true))
	require.NoError(t, err)
	require.NoError(t, Shutdown(context.Background()))

	assert.False(t, IsInitialized())
	// Shutdown of an uninitialized SDK is a no-op.
	require.NoError(t, Shutdown(context.Background()))
}

func TestDisabledSpansDoNotRecord(t *testing.T) {
	s := disabledSDK(t)
	assert.True(t, s.Disabled())

	_, span := s.Span(context.Background(), "work")
	defer span.End()
	assert.False(t, span.IsRecording())
}

func TestSessionGeneratesID(t *testing.T) {
	s := disabledSDK(t)

	ctx, span := s.Session(context.Background(), "chat", "")
	defer span.End()

	id, ok := telemetry.SessionFromContext(ctx)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestSessionExplicitID(t *testing.T) {
	s := disabledSDK(t)

	ctx, span := s.Session(context.Background(), "chat", "sess-123")
	defer span.End()

	id, ok := telemetry.SessionFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "sess-123", id)
}

func TestWithSpanReturnsError(t *testing.T) {
	s := disabledSDK(t)

	wantErr := errors.New("boom")
	err := s.WithSpan(context.Background(), "work", func(context.Context) error {
		return wantErr
	})
	assert.Same(t, wantErr, err)

	require.NoError(t, s.WithSpan(context.Background(), "work", func(context.Context) error {
		return nil
	}))
}

func TestAutoInstrumentSkippedWhenDisabled(t *testing.T) {
	instrument.Reset()
	t.Cleanup(instrument.Reset)

	s, err := New(config.WithDisabled(true), config.WithFramework(config.ProviderBedrock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	assert.False(t, instrument.IsInstrumented(config.ProviderBedrock))
}

func TestNewAppliesContentCaptureSettings(t *testing.T) {
	t.Cleanup(func() {
		genai.SetCaptureContent(true)
		genai.SetEncodeBinary(true)
	})

	s, err := New(config.WithDisabled(true),
		config.WithCaptureContent(false), config.WithEncodeBinary(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	assert.False(t, genai.CaptureContent())
	assert.False(t, genai.EncodeBinary())
}

func TestAutoInstrumentActivatesProviders(t *testing.T) {
	instrument.Reset()
	t.Cleanup(instrument.Reset)

	s, err := New(config.WithFramework(config.ProviderBedrock, config.ProviderAnthropic))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	assert.True(t, instrument.IsInstrumented(config.ProviderBedrock))
	assert.True(t, instrument.IsInstrumented(config.ProviderAnthropic))
	assert.False(t, instrument.IsInstrumented(config.ProviderBedrockAgent))
}
