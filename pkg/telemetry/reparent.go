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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/lens/internal/log"
)

// StreamReparenter repairs a trace-context defect in streaming
// instrumentation: some libraries capture the ambient OTel context before
// the request span exists, so the post-stream response record starts a new
// root trace instead of continuing the request's trace.
//
// The processor watches finished spans for the two halves. A request half
// carries the request payload but no response; a response half carries both.
// Halves are matched by a SHA-256 hash of the request payload, FIFO per hash
// so concurrent identical requests pair up in order. A matched response span
// is rebuilt with the request's trace ID and the request span as its remote
// parent before being handed to the downstream processor.
//
// StreamReparenter wraps the downstream (batching) processor rather than
// sitting beside it, so the rewrite always completes before the span enters
// the export queue.
type StreamReparenter struct {
	next sdktrace.SpanProcessor

	markerKey   string
	requestVal  string
	responseVal string
	payloadKey  string
	outputKey   string

	ttl        time.Duration
	maxPending int

	mu      sync.Mutex
	pending map[string][]pendingEntry
	now     func() time.Time
}

type pendingEntry struct {
	traceID trace.TraceID
	spanID  trace.SpanID
	at      time.Time
}

// ReparenterOption customizes a StreamReparenter.
type ReparenterOption func(*StreamReparenter)

// WithMarkerKey overrides the attribute key and values used to classify the
// two halves of a streaming call.
func WithMarkerKey(key, requestVal, responseVal string) ReparenterOption {
	return func(r *StreamReparenter) {
		r.markerKey = key
		r.requestVal = requestVal
		r.responseVal = responseVal
	}
}

// WithPayloadKeys overrides the attribute keys holding the request payload
// (the match key) and the response payload (the response-half signal).
func WithPayloadKeys(payloadKey, outputKey string) ReparenterOption {
	return func(r *StreamReparenter) {
		r.payloadKey = payloadKey
		r.outputKey = outputKey
	}
}

// WithPendingTTL overrides how long an unmatched request half is remembered.
func WithPendingTTL(ttl time.Duration) ReparenterOption {
	return func(r *StreamReparenter) { r.ttl = ttl }
}

// WithMaxPending overrides the cap on remembered request halves.
func WithMaxPending(n int) ReparenterOption {
	return func(r *StreamReparenter) { r.maxPending = n }
}

// NewStreamReparenter wraps next with streaming span reparenting.
func NewStreamReparenter(next sdktrace.SpanProcessor, opts ...ReparenterOption) *StreamReparenter {
	r := &StreamReparenter{
		next:        next,
		markerKey:   "logfire.span_type",
		requestVal:  "span",
		responseVal: "log",
		payloadKey:  "request_data",
		outputKey:   "response_data",
		ttl:         60 * time.Second,
		maxPending:  1000,
		pending:     make(map[string][]pendingEntry),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ sdktrace.SpanProcessor = (*StreamReparenter)(nil)

// OnStart forwards to the downstream processor unchanged.
func (r *StreamReparenter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	r.next.OnStart(parent, s)
}

// OnEnd classifies the span, records or matches it, and forwards the
// (possibly rebuilt) span downstream.
func (r *StreamReparenter) OnEnd(s sdktrace.ReadOnlySpan) {
	marker, payload, hasOutput := r.classify(s)

	switch {
	case marker == r.requestVal && payload != "" && !hasOutput:
		r.storeRequest(payload, s)
		r.next.OnEnd(s)
	case marker == r.responseVal && payload != "" && hasOutput:
		r.next.OnEnd(r.reparent(payload, s))
	default:
		r.next.OnEnd(s)
	}
}

func (r *StreamReparenter) classify(s sdktrace.ReadOnlySpan) (marker, payload string, hasOutput bool) {
	for _, kv := range s.Attributes() {
		switch string(kv.Key) {
		case r.markerKey:
			marker = kv.Value.AsString()
		case r.payloadKey:
			payload = kv.Value.AsString()
		case r.outputKey:
			// Presence of a string-typed output attribute marks the
			// response half, even when the reconstructed output is empty.
			hasOutput = kv.Value.Type() == attribute.STRING
		}
	}
	return marker, payload, hasOutput
}

func (r *StreamReparenter) storeRequest(payload string, s sdktrace.ReadOnlySpan) {
	key := hashPayload(payload)
	sc := s.SpanContext()
	entry := pendingEntry{traceID: sc.TraceID(), spanID: sc.SpanID(), at: r.now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = append(r.pending[key], entry)
	r.sweepLocked()
}

// reparent pops the oldest matching request half and returns a rebuilt span
// on that request's trace. Unmatched or same-trace spans pass through.
func (r *StreamReparenter) reparent(payload string, s sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	key := hashPayload(payload)

	r.mu.Lock()
	entries := r.pending[key]
	if len(entries) == 0 {
		r.mu.Unlock()
		return s
	}
	entry := entries[0]
	if len(entries) == 1 {
		delete(r.pending, key)
	} else {
		r.pending[key] = entries[1:]
	}
	r.mu.Unlock()

	old := s.SpanContext()
	if old.TraceID() == entry.traceID {
		// Propagation worked; the match is only consumed.
		return s
	}

	rebuilt, err := rebuildSpan(s, entry)
	if err != nil {
		log.Debug("failed to reparent streaming response span", zap.Error(err))
		r.mu.Lock()
		r.pending[key] = append([]pendingEntry{entry}, r.pending[key]...)
		r.mu.Unlock()
		return s
	}
	return rebuilt
}

// rebuildSpan copies a finished span with its trace ID replaced by the
// request's and the request span set as a remote sampled parent. Finished
// spans are immutable, so the copy goes through a mutable stub.
func rebuildSpan(s sdktrace.ReadOnlySpan, entry pendingEntry) (rebuilt sdktrace.ReadOnlySpan, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("span rebuild panicked: %v", rec)
		}
	}()

	stub := tracetest.SpanStubFromReadOnlySpan(s)
	old := stub.SpanContext
	stub.SpanContext = trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    entry.traceID,
		SpanID:     old.SpanID(),
		TraceFlags: old.TraceFlags(),
		TraceState: old.TraceState(),
		Remote:     old.IsRemote(),
	})
	stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    entry.traceID,
		SpanID:     entry.spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return stub.Snapshot(), nil
}

// sweepLocked drops expired entries and enforces the pending cap by evicting
// the globally oldest entry. Caller holds the lock.
func (r *StreamReparenter) sweepLocked() {
	now := r.now()
	total := 0
	for key, entries := range r.pending {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.at) <= r.ttl {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.pending, key)
		} else {
			r.pending[key] = kept
			total += len(kept)
		}
	}

	for total > r.maxPending {
		var oldestKey string
		var oldest time.Time
		for key, entries := range r.pending {
			if oldestKey == "" || entries[0].at.Before(oldest) {
				oldestKey = key
				oldest = entries[0].at
			}
		}
		entries := r.pending[oldestKey]
		if len(entries) == 1 {
			delete(r.pending, oldestKey)
		} else {
			r.pending[oldestKey] = entries[1:]
		}
		total--
	}
}

// Shutdown clears pending state and shuts down the downstream processor.
func (r *StreamReparenter) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.pending = make(map[string][]pendingEntry)
	r.mu.Unlock()
	return r.next.Shutdown(ctx)
}

// ForceFlush flushes the downstream processor.
func (r *StreamReparenter) ForceFlush(ctx context.Context) error {
	return r.next.ForceFlush(ctx)
}

func hashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
