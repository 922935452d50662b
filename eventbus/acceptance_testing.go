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

// Package eventbus contains the acceptance test for event bus implementations.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kr/pretty"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of EventBus
// should pass. It should manually be called from a test case in each
// implementation:
//
//   func TestEventBus(t *testing.T) {
//       bus, err := NewEventBus()
//       if err != nil {
//           t.Fatal(err)
//       }
//       eventbus.AcceptanceTest(t, bus)
//   }
//
func AcceptanceTest(t *testing.T, bus ec.EventBus) {
	t.Helper()

	if err := bus.Subscribe(mocks.EventType, nil); !errors.Is(err, ec.ErrMissingHandler) {
		t.Error("there should be a missing handler error:", err)
	}

	if err := bus.Subscribe("", mocks.NewEventHandler("nil")); !errors.Is(err, ec.ErrMissingEventType) {
		t.Error("there should be a missing event type error:", err)
	}

	if err := bus.Subscribe(mocks.EventType, mocks.NewEventHandler("multi")); err != nil {
		t.Error("there should be no error:", err)
	}

	if err := bus.Subscribe(mocks.EventType, mocks.NewEventHandler("multi")); !errors.Is(err, ec.ErrHandlerAlreadyAdded) {
		t.Error("there should be a handler already added error:", err)
	}

	ctx := mocks.WithContextOne(context.Background(), "testval")
	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	// Publish without any matching handler.
	eventOther := ec.NewEvent(mocks.EventOtherType, &mocks.EventData{Content: "other"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 1))
	if err := bus.Publish(ctx, eventOther); err != nil {
		t.Error("there should be no error:", err)
	}

	handler := mocks.NewEventHandler("handler")
	anotherHandler := mocks.NewEventHandler("another_handler")
	otherHandler := mocks.NewEventHandler("other_handler")

	if err := bus.Subscribe(mocks.EventType, handler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := bus.Subscribe(mocks.EventType, anotherHandler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := bus.Subscribe(mocks.EventOtherType, otherHandler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	// The same handler type can be used for several event types.
	if err := bus.Subscribe(mocks.EventOtherType, mocks.NewEventHandler("handler")); err != nil {
		t.Fatal("there should be no error:", err)
	}

	event1 := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 2))
	if err := bus.Publish(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	// Publish is blocking, the handlers must be done.
	for _, h := range []*mocks.EventHandler{handler, anotherHandler} {
		events := h.HandledEvents()
		if len(events) != 1 {
			t.Fatal("there should be one event handled by", h.Type, pretty.Sprint(events))
		}

		if err := mocks.CompareEvents(events[0], event1); err != nil {
			t.Error("the event was incorrect:", err)
		}

		if val, ok := mocks.ContextOne(h.Context); !ok || val != "testval" {
			t.Error("the context should be correct:", h.Context)
		}
	}

	if len(otherHandler.HandledEvents()) != 0 {
		t.Error("there should be no events handled by the other handler")
	}

	// Only exact types are delivered, ancestors are not consulted.
	baseHandler := mocks.NewEventHandler("base_handler")
	if err := bus.Subscribe(mocks.BaseEventType, baseHandler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := bus.Publish(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	if len(baseHandler.HandledEvents()) != 0 {
		t.Error("the base handler should not get events of sub types")
	}

	// A failing handler does not stop the others.
	handler.Reset()
	anotherHandler.Reset()

	handlerErr := errors.New("handler error")
	anotherHandler.Err = handlerErr

	err := bus.Publish(ctx, event1)

	var execErr *ec.HandlerExecutionError
	if !errors.As(err, &execErr) {
		t.Fatal("there should be a handler execution error:", err)
	}

	if len(execErr.Errors) != 1 || execErr.Errors[0].HandlerType != "another_handler" {
		t.Error("the failing handler should be reported:", pretty.Sprint(execErr.Errors))
	}

	if !errors.Is(err, handlerErr) {
		t.Error("the handler error should be wrapped:", err)
	}

	if len(handler.HandledEvents()) != 1 {
		t.Error("the other handler should still have handled the event")
	}

	anotherHandler.Err = nil

	// Concurrent publishers.
	handler.Reset()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := bus.Publish(ctx, event1); err != nil {
				t.Error("there should be no error:", err)
			}
		}()
	}

	wg.Wait()

	if len(handler.HandledEvents()) != 10 {
		t.Error("there should be 10 handled events:", len(handler.HandledEvents()))
	}
}
