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

package tracing

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	ec "github.com/looplab/eventcore"
)

// NewEventHandlerMiddleware returns an event handler middleware that starts a
// span named after the handler and event type for every handled event.
func NewEventHandlerMiddleware() ec.EventHandlerMiddleware {
	return func(h ec.EventHandler) ec.EventHandler {
		return &eventHandler{h}
	}
}

type eventHandler struct {
	ec.EventHandler
}

// InnerHandler implements EventHandlerChain.
func (h *eventHandler) InnerHandler() ec.EventHandler {
	return h.EventHandler
}

// HandleEvent implements the HandleEvent method of the EventHandler.
func (h *eventHandler) HandleEvent(ctx context.Context, event ec.Event) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx,
		fmt.Sprintf("%s.Event(%s)", h.HandlerType(), event.EventType()))
	defer sp.Finish()

	sp.SetTag("ec.handler_type", h.HandlerType())
	setEventTags(sp, event)

	err := h.EventHandler.HandleEvent(ctx, event)
	setErrorTags(sp, err)

	return err
}

func setEventTags(sp opentracing.Span, event ec.Event) {
	sp.SetTag("ec.event_type", event.EventType())
	sp.SetTag("ec.aggregate_type", event.AggregateType())
	sp.SetTag("ec.aggregate_id", event.AggregateID())
	sp.SetTag("ec.version", event.Version())
}

// setErrorTags marks the span as failed. Failing handlers of a publish and
// version conflicts are tagged so that they can be searched for.
func setErrorTags(sp opentracing.Span, err error) {
	if err == nil {
		return
	}

	ext.LogError(sp, err)

	var execErr *ec.HandlerExecutionError
	if errors.As(err, &execErr) {
		sp.SetTag("ec.failed_handlers", fmt.Sprint(execErr.HandlerTypes()))
	}

	var concErr *ec.ConcurrencyError
	if errors.As(err, &concErr) {
		sp.SetTag("ec.conflict", true)
		sp.SetTag("ec.expected_version", concErr.Expected)
		sp.SetTag("ec.actual_version", concErr.Actual)
	}
}
