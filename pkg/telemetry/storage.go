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
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	_ "github.com/teradata-labs/lens/internal/sqlitedriver" // registers "sqlite3"
)

// SQLiteExporter persists finished spans to a local SQLite database.
// Thread-safe for concurrent export.
type SQLiteExporter struct {
	db     *sql.DB
	dbPath string

	mu     sync.Mutex
	closed bool
}

var _ sdktrace.SpanExporter = (*SQLiteExporter)(nil)

// NewSQLiteExporter opens (or creates) a span database at dbPath.
func NewSQLiteExporter(dbPath string) (*SQLiteExporter, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	e := &SQLiteExporter{db: db, dbPath: dbPath}
	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return e, nil
}

func (e *SQLiteExporter) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spans (
		span_id TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		parent_span_id TEXT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		status_code TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		duration_ms REAL,
		session_id TEXT,
		payload_json TEXT NOT NULL,
		PRIMARY KEY (trace_id, span_id)
	);

	CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id);
	CREATE INDEX IF NOT EXISTS idx_spans_name ON spans(name);
	CREATE INDEX IF NOT EXISTS idx_spans_session_id ON spans(session_id);
	CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time);
	`
	_, err := e.db.Exec(schema)
	return err
}

// ExportSpans writes each span as a row keyed by (trace_id, span_id).
// Re-exported spans (retried batches) replace their earlier row.
func (e *SQLiteExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("exporter closed: %s", e.dbPath)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO spans
		(span_id, trace_id, parent_span_id, name, kind, status_code,
		 start_time, end_time, duration_ms, session_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, span := range spans {
		record := SpanToMap(span)
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal span %q: %w", span.Name(), err)
		}

		var sessionID any
		if attrs, ok := record["attributes"].(map[string]any); ok {
			if id, ok := attrs["session.id"].(string); ok {
				sessionID = id
			}
		}

		var statusCode string
		if status, ok := record["status"].(map[string]any); ok {
			statusCode, _ = status["status_code"].(string)
		}

		_, err = stmt.ExecContext(ctx,
			record["span_id"], record["trace_id"], record["parent_span_id"],
			record["name"], record["kind"], statusCode,
			record["start_time"], record["end_time"], record["duration_ms"],
			sessionID, string(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to insert span %q: %w", span.Name(), err)
		}
	}
	return tx.Commit()
}

// Shutdown closes the database. Idempotent.
func (e *SQLiteExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}
