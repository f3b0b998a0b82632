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

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
)

// JSONFileExporter writes finished spans as JSON lines. A path ending in
// .gz is transparently gzip-compressed.
type JSONFileExporter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	gz     *gzip.Writer
	w      io.Writer
	closed bool
}

var _ sdktrace.SpanExporter = (*JSONFileExporter)(nil)

// NewJSONFileExporter opens path for span export. When appendMode is false
// an existing file is truncated.
func NewJSONFileExporter(path string, appendMode bool) (*JSONFileExporter, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span export file: %w", err)
	}

	e := &JSONFileExporter{path: path, file: f, w: f}
	if strings.HasSuffix(path, ".gz") {
		e.gz = gzip.NewWriter(f)
		e.w = e.gz
	}
	return e, nil
}

// ExportSpans writes one JSON line per span.
func (e *JSONFileExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("exporter closed: %s", e.path)
	}
	enc := json.NewEncoder(e.w)
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(SpanToMap(span)); err != nil {
			log.Warn("failed to export span to file", zap.String("path", e.path), zap.Error(err))
			return err
		}
	}
	return e.flushLocked()
}

// Shutdown flushes and closes the file. Idempotent.
func (e *JSONFileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.flushLocked(); err != nil {
		e.file.Close()
		return err
	}
	if e.gz != nil {
		if err := e.gz.Close(); err != nil {
			e.file.Close()
			return err
		}
	}
	return e.file.Close()
}

func (e *JSONFileExporter) flushLocked() error {
	if e.gz != nil {
		return e.gz.Flush()
	}
	return nil
}
