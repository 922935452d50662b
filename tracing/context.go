// Copyright (c) 2026 - The Event Horizon authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing adds Open Tracing spans to event handling, publishing and
// event storage.
package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	ec "github.com/looplab/eventcore"
)

// The context key of the serialized span.
const tracingSpanKeyStr = "ec_tracing_span"

// remoteSpanName is the span started for events arriving from the wire.
const remoteSpanName = "EventCodec.Receive"

var registerOnce sync.Once

// RegisterContext makes the codecs carry the current span, so that a consumer
// of a publisher continues the trace of the producer. Calling it more than
// once has no effect.
func RegisterContext() {
	registerOnce.Do(func() {
		ec.RegisterContextMarshaler(marshalSpan)
		ec.RegisterContextUnmarshaler(unmarshalSpan)
	})
}

func marshalSpan(ctx context.Context, vals map[string]interface{}) {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	s, err := injectSpan(span.Context())
	if err != nil {
		slog.Warn("could not marshal tracing span", "error", err)

		return
	}

	vals[tracingSpanKeyStr] = s
}

func unmarshalSpan(ctx context.Context, vals map[string]interface{}) context.Context {
	s, ok := vals[tracingSpanKeyStr].(string)
	if !ok {
		return ctx
	}

	parent, err := extractSpan(s)
	if err != nil {
		slog.Warn("could not unmarshal tracing span", "error", err)

		return ctx
	}

	span := opentracing.GlobalTracer().StartSpan(remoteSpanName, ext.RPCServerOption(parent))

	return opentracing.ContextWithSpan(ctx, span)
}

// injectSpan serializes a span context as a JSON text map.
func injectSpan(sc opentracing.SpanContext) (string, error) {
	carrier := opentracing.TextMapCarrier{}
	if err := opentracing.GlobalTracer().Inject(sc, opentracing.TextMap, carrier); err != nil {
		return "", fmt.Errorf("could not inject span: %w", err)
	}

	b, err := json.Marshal(carrier)
	if err != nil {
		return "", fmt.Errorf("could not encode span: %w", err)
	}

	return string(b), nil
}

// extractSpan is the inverse of injectSpan. A missing span is not an error,
// the result is then nil.
func extractSpan(s string) (opentracing.SpanContext, error) {
	carrier := opentracing.TextMapCarrier{}
	if err := json.Unmarshal([]byte(s), &carrier); err != nil {
		return nil, fmt.Errorf("could not decode span: %w", err)
	}

	sc, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, carrier)
	if err != nil && !errors.Is(err, opentracing.ErrSpanContextNotFound) {
		return nil, fmt.Errorf("could not extract span: %w", err)
	}

	return sc, nil
}
