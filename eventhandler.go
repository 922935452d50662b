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

package eventcore

import (
	"context"
)

// EventHandlerType is the type of an event handler, used as its unique identifier.
type EventHandlerType string

// String returns the string representation of an event handler type.
func (ht EventHandlerType) String() string {
	return string(ht)
}

// EventHandler is a handler of events. A handler must report failures by
// returning an error, never by swallowing them.
type EventHandler interface {
	// HandlerType is the type of the handler.
	HandlerType() EventHandlerType

	// HandleEvent handles an event.
	HandleEvent(context.Context, Event) error
}

// EventHandlerFunc is a function that can be used as an event handler.
type EventHandlerFunc func(context.Context, Event) error

// HandlerFunc creates an EventHandler of a type from a function.
func HandlerFunc(t EventHandlerType, f EventHandlerFunc) EventHandler {
	return &funcHandler{t: t, f: f}
}

type funcHandler struct {
	t EventHandlerType
	f EventHandlerFunc
}

// HandlerType implements the HandlerType method of the EventHandler interface.
func (h *funcHandler) HandlerType() EventHandlerType {
	return h.t
}

// HandleEvent implements the HandleEvent method of the EventHandler interface.
func (h *funcHandler) HandleEvent(ctx context.Context, e Event) error {
	return h.f(ctx, e)
}

// EventHandlerMiddleware is a function that middlewares can implement to be
// able to chain.
type EventHandlerMiddleware func(EventHandler) EventHandler

// UseEventHandlerMiddleware wraps a EventHandler in one or more middleware.
func UseEventHandlerMiddleware(h EventHandler, middleware ...EventHandlerMiddleware) EventHandler {
	// Apply in reverse order.
	for i := len(middleware) - 1; i >= 0; i-- {
		m := middleware[i]
		h = m(h)
	}

	return h
}

// EventHandlerChain declares InnerHandler that returns the inner handler of a event handler middleware.
// This enables an endpoint or other middlewares to traverse the chain of handlers
// in order to find a specific middleware that can be interacted with.
type EventHandlerChain interface {
	InnerHandler() EventHandler
}
