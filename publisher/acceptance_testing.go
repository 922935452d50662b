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

// Package publisher contains the acceptance test for publishers, which forward
// events to a message broker and feed events from it into a local event bus.
package publisher

import (
	"context"
	"testing"
	"time"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/eventbus/local"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/uuid"
)

// Publisher is the part of a publisher that the acceptance test uses.
type Publisher interface {
	ec.EventHandler

	// Consume publishes received events on the bus until ctx is done.
	Consume(ctx context.Context, bus ec.EventBus) error
}

// AcceptanceTest is the acceptance test that all implementations of
// publishers should pass. Events handled by pub must be consumed by sub, which
// can be the same publisher. It should manually be called from a test case in
// each implementation:
//
//   func TestPublisher(t *testing.T) {
//       p, err := NewPublisher(...)
//       if err != nil {
//           t.Fatal(err)
//       }
//       publisher.AcceptanceTest(t, p, p, time.Second)
//   }
//
func AcceptanceTest(t *testing.T, pub, sub Publisher, timeout time.Duration) {
	bus, err := local.NewEventBus()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	handler := mocks.NewEventHandler("remote")
	if err := bus.Subscribe(mocks.EventType, handler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := bus.Subscribe(mocks.EventOtherType, handler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	consumeErr := make(chan error, 1)

	go func() {
		consumeErr <- sub.Consume(cctx, bus)
	}()

	ctx := mocks.WithContextOne(context.Background(), "testval")
	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	t.Log("publish event")

	event1 := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 1))
	if err := pub.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	if !handler.Wait(timeout) {
		t.Error("did not receive event in time")
	}

	if err := mocks.CompareEventLists(handler.HandledEvents(), []ec.Event{event1}); err != nil {
		t.Error("the event was incorrect:", err)
	}

	if val, ok := mocks.ContextOne(handler.Context); !ok || val != "testval" {
		t.Error("the context should be correct:", handler.Context)
	}

	t.Log("publish event without data")

	event2 := ec.NewEvent(mocks.EventOtherType, nil, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 2))
	if err := pub.HandleEvent(ctx, event2); err != nil {
		t.Error("there should be no error:", err)
	}

	if !handler.Wait(timeout) {
		t.Error("did not receive event in time")
	}

	if err := mocks.CompareEventLists(handler.HandledEvents(), []ec.Event{event1, event2}); err != nil {
		t.Error("the events were incorrect:", err)
	}

	cancel()

	select {
	case err := <-consumeErr:
		if err != nil {
			t.Error("there should be no error:", err)
		}
	case <-time.After(timeout + 5*time.Second):
		t.Error("consume did not stop in time")
	}
}
