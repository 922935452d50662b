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
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	ec "github.com/looplab/eventcore"
)

// EventBus is an event bus wrapper that adds tracing. Every subscribed handler
// gets its own span as a child of the publish span.
type EventBus struct {
	ec.EventBus
}

var _ = ec.EventBus(&EventBus{})

// NewEventBus creates a EventBus.
func NewEventBus(eventBus ec.EventBus) *EventBus {
	if eventBus == nil {
		return nil
	}

	return &EventBus{
		EventBus: eventBus,
	}
}

// HandlerType implements the HandlerType method of the ec.EventHandler interface.
func (b *EventBus) HandlerType() ec.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event ec.Event) error {
	return b.Publish(ctx, event)
}

// Subscribe implements the Subscribe method of the ec.EventBus interface.
func (b *EventBus) Subscribe(t ec.EventType, h ec.EventHandler) error {
	if h == nil {
		return ec.ErrMissingHandler
	}

	// Wrap the handlers in tracing middleware.
	h = ec.UseEventHandlerMiddleware(h, NewEventHandlerMiddleware())

	return b.EventBus.Subscribe(t, h)
}

// Publish implements the Publish method of the ec.EventBus interface.
func (b *EventBus) Publish(ctx context.Context, event ec.Event) error {
	if event == nil {
		return b.EventBus.Publish(ctx, event)
	}

	sp, ctx := opentracing.StartSpanFromContext(ctx,
		fmt.Sprintf("EventBus.Publish(%s)", event.EventType()))
	ext.SpanKindProducer.Set(sp)

	defer sp.Finish()

	setEventTags(sp, event)

	err := b.EventBus.Publish(ctx, event)
	setErrorTags(sp, err)

	return err
}
