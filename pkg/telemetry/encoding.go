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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// EncodeValue converts an arbitrary value into a JSON-safe form. Binary data
// becomes base64, timestamps become RFC 3339, containers recurse, and values
// JSON cannot represent degrade to a "<TypeName>" placeholder. It never
// panics and never fails.
func EncodeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case json.RawMessage:
		return base64.StdEncoding.EncodeToString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = EncodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = EncodeValue(item)
		}
		return out
	}
	return encodeReflect(reflect.ValueOf(v))
}

func encodeReflect(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return EncodeValue(rv.Elem().Interface())
	case reflect.Map:
		// A map with empty-struct values is the Go set idiom; encode it as a
		// sorted array of its keys for a stable representation.
		if rv.Type().Elem() == reflect.TypeOf(struct{}{}) {
			return encodeSet(rv)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = EncodeValue(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = EncodeValue(rv.Index(i).Interface())
		}
		return out
	}
	return encodeFallback(rv.Interface())
}

func encodeSet(rv reflect.Value) any {
	elems := make([]any, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		elems = append(elems, EncodeValue(iter.Key().Interface()))
	}
	sortable := true
	for _, e := range elems {
		switch e.(type) {
		case string, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			sortable = false
		}
	}
	if sortable {
		sort.Slice(elems, func(i, j int) bool {
			return fmt.Sprint(elems[i]) < fmt.Sprint(elems[j])
		})
	}
	return elems
}

// encodeFallback round-trips through json.Marshal so struct values keep
// their field structure; anything unmarshalable degrades to a placeholder.
func encodeFallback(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return decoded
}

// SpanToMap flattens a finished span into a JSON-ready map. Attribute,
// resource, event, and link values go through EncodeValue.
func SpanToMap(span sdktrace.ReadOnlySpan) map[string]any {
	sc := span.SpanContext()

	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = EncodeValue(kv.Value.AsInterface())
	}

	var parentID any
	if span.Parent().IsValid() {
		parentID = span.Parent().SpanID().String()
	}

	events := make([]map[string]any, 0, len(span.Events()))
	for _, e := range span.Events() {
		eventAttrs := make(map[string]any, len(e.Attributes))
		for _, kv := range e.Attributes {
			eventAttrs[string(kv.Key)] = EncodeValue(kv.Value.AsInterface())
		}
		events = append(events, map[string]any{
			"name":       e.Name,
			"timestamp":  e.Time.UTC().Format(time.RFC3339Nano),
			"attributes": eventAttrs,
		})
	}

	links := make([]map[string]any, 0, len(span.Links()))
	for _, l := range span.Links() {
		linkAttrs := make(map[string]any, len(l.Attributes))
		for _, kv := range l.Attributes {
			linkAttrs[string(kv.Key)] = EncodeValue(kv.Value.AsInterface())
		}
		links = append(links, map[string]any{
			"trace_id":   l.SpanContext.TraceID().String(),
			"span_id":    l.SpanContext.SpanID().String(),
			"attributes": linkAttrs,
		})
	}

	resourceAttrs := map[string]any{}
	if res := span.Resource(); res != nil {
		for _, kv := range res.Attributes() {
			resourceAttrs[string(kv.Key)] = EncodeValue(kv.Value.AsInterface())
		}
	}

	scope := span.InstrumentationScope()

	var durationMS any
	if !span.StartTime().IsZero() && !span.EndTime().IsZero() {
		durationMS = float64(span.EndTime().Sub(span.StartTime()).Nanoseconds()) / 1e6
	}

	return map[string]any{
		"name":           span.Name(),
		"trace_id":       sc.TraceID().String(),
		"span_id":        sc.SpanID().String(),
		"parent_span_id": parentID,
		"kind":           spanKindString(span.SpanKind()),
		"start_time":     span.StartTime().UTC().Format(time.RFC3339Nano),
		"end_time":       span.EndTime().UTC().Format(time.RFC3339Nano),
		"duration_ms":    durationMS,
		"attributes":     attrs,
		"events":         events,
		"links":          links,
		"status": map[string]any{
			"status_code": span.Status().Code.String(),
			"description": span.Status().Description,
		},
		"resource": resourceAttrs,
		"scope": map[string]any{
			"name":       scope.Name,
			"version":    scope.Version,
			"schema_url": scope.SchemaURL,
		},
	}
}

func spanKindString(kind trace.SpanKind) string {
	switch kind {
	case trace.SpanKindInternal:
		return "internal"
	case trace.SpanKindServer:
		return "server"
	case trace.SpanKindClient:
		return "client"
	case trace.SpanKindProducer:
		return "producer"
	case trace.SpanKindConsumer:
		return "consumer"
	}
	return "unspecified"
}
