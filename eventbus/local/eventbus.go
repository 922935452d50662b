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

// Package local provides an in-process event bus that delivers every published
// event to its subscribed handlers concurrently and waits for all of them.
package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	ec "github.com/looplab/eventcore"
)

// EventBus is a local event bus. Handlers are subscribed to exact event types
// and each publish runs them in their own goroutine, joined before returning.
type EventBus struct {
	handlers   map[ec.EventType][]ec.EventHandler
	handlersMu sync.RWMutex
	logger     *slog.Logger
}

var _ = ec.EventBus(&EventBus{})

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *EventBus) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		b.logger = logger

		return nil
	}
}

// NewEventBus creates an EventBus.
func NewEventBus(options ...Option) (*EventBus, error) {
	b := &EventBus{
		handlers: map[ec.EventType][]ec.EventHandler{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return b, nil
}

// HandlerType implements the HandlerType method of the ec.EventHandler interface,
// which makes it possible to chain busses.
func (b *EventBus) HandlerType() ec.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event ec.Event) error {
	return b.Publish(ctx, event)
}

// Subscribe implements the Subscribe method of the ec.EventBus interface.
func (b *EventBus) Subscribe(t ec.EventType, h ec.EventHandler) error {
	if t == "" {
		return ec.ErrMissingEventType
	}

	if h == nil {
		return ec.ErrMissingHandler
	}

	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	for _, existing := range b.handlers[t] {
		if existing.HandlerType() == h.HandlerType() {
			return fmt.Errorf("%w: %s for %s", ec.ErrHandlerAlreadyAdded, h.HandlerType(), t)
		}
	}

	b.handlers[t] = append(b.handlers[t], h)

	return nil
}

// Publish implements the Publish method of the ec.EventBus interface. It
// blocks until every handler subscribed to the event type has returned, there
// is no timeout. A failing or panicking handler does not affect the others.
func (b *EventBus) Publish(ctx context.Context, event ec.Event) error {
	if event == nil {
		return fmt.Errorf("missing event")
	}

	b.handlersMu.RLock()
	handlers := append([]ec.EventHandler(nil), b.handlers[event.EventType()]...)
	b.handlersMu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	errs := make([]error, len(handlers))

	var wg sync.WaitGroup

	for i, h := range handlers {
		wg.Add(1)

		go func(i int, h ec.EventHandler) {
			defer wg.Done()

			errs[i] = b.handle(ctx, h, event)
		}(i, h)
	}

	wg.Wait()

	var failed []ec.HandlerError

	for i, err := range errs {
		if err == nil {
			continue
		}

		b.logger.Error("could not handle event",
			"handler", handlers[i].HandlerType(),
			"event", event.String(),
			"err", err,
		)

		failed = append(failed, ec.HandlerError{
			HandlerType: handlers[i].HandlerType(),
			Err:         err,
		})
	}

	if len(failed) > 0 {
		return &ec.HandlerExecutionError{
			Event:  event,
			Errors: failed,
		}
	}

	return nil
}

func (b *EventBus) handle(ctx context.Context, h ec.EventHandler, event ec.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				"handler", h.HandlerType(),
				"panic", r,
				"stack", string(debug.Stack()),
			)

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return h.HandleEvent(ctx, event)
}
