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

import "sync/atomic"

// Process-wide content capture settings. The SDK applies them from its
// configuration before activating any integration; both default to enabled.
var (
	captureContent atomic.Bool
	encodeBinary   atomic.Bool
)

func init() {
	captureContent.Store(true)
	encodeBinary.Store(true)
}

// SetCaptureContent toggles recording of prompt and completion content in
// span events. When disabled, spans keep model, token usage, and finish
// reason attributes but carry no content-bearing events.
func SetCaptureContent(enabled bool) { captureContent.Store(enabled) }

// CaptureContent reports whether message content is recorded on spans.
func CaptureContent() bool { return captureContent.Load() }

// SetEncodeBinary toggles base64 pass-through of binary content blocks
// (images, documents, video, audio) in the operation details event. When
// disabled, binary blocks are stripped from every event, not just the
// per-role previews.
func SetEncodeBinary(enabled bool) { encodeBinary.Store(enabled) }

// EncodeBinary reports whether binary content blocks are carried in events.
func EncodeBinary() bool { return encodeBinary.Load() }
