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

// Package eventstore contains the acceptance test for event store implementations.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of EventStore
// should pass. It should manually be called from a test case in each
// implementation, the store must decode event data using mocks.NewEventTypes:
//
//	func TestEventStore(t *testing.T) {
//	    store := NewEventStore(WithEventTypes(mocks.NewEventTypes()))
//	    eventstore.AcceptanceTest(t, store, context.Background())
//	}
func AcceptanceTest(t *testing.T, store ec.EventStore, ctx context.Context) []ec.Event {
	savedEvents := []ec.Event{}

	ctx = mocks.WithContextOne(ctx, "testval")

	// Save no events.
	eventStoreErr := &ec.EventStoreError{}

	err := store.Save(ctx, []ec.Event{}, 0)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ec.ErrMissingEvents) {
		t.Error("there should be a event store error:", err)
	}

	// Save event, version 1.
	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 1))

	if err := store.Save(ctx, []ec.Event{event1}, 0); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event1)

	// Try to save same event twice.
	err = store.Save(ctx, []ec.Event{event1}, 1)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ec.ErrIncorrectEventVersion) {
		t.Error("there should be a event store error:", err)
	}

	// Save event, version 2, with metadata.
	event2 := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event2"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 2),
		ec.WithMetadata(map[string]interface{}{"meta": "data", "num": 42.0}),
	)

	if err := store.Save(ctx, []ec.Event{event2}, 1); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event2)

	// Save event without data, version 3.
	event3 := ec.NewEvent(mocks.EventOtherType, nil, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 3))

	if err := store.Save(ctx, []ec.Event{event3}, 2); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event3)

	// Save multiple events, version 4,5 and 6.
	event4 := ec.NewEvent(mocks.EventOtherType, nil, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 4))
	event5 := ec.NewEvent(mocks.EventOtherType, nil, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 5))
	event6 := ec.NewEvent(mocks.EventOtherType, nil, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 6))

	if err := store.Save(ctx, []ec.Event{event4, event5, event6}, 3); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event4, event5, event6)

	// Invalid batches are rejected before anything is written.
	invalid := map[string]struct {
		events []ec.Event
		err    error
	}{
		"different aggregate IDs": {
			[]ec.Event{
				ec.NewEvent(mocks.EventOtherType, nil, timestamp, ec.ForAggregate(mocks.AggregateType, id, 7)),
				ec.NewEvent(mocks.EventOtherType, nil, timestamp, ec.ForAggregate(mocks.AggregateType, uuid.New(), 8)),
			},
			ec.ErrMismatchedEventAggregateIDs,
		},
		"different aggregate types": {
			[]ec.Event{
				ec.NewEvent(mocks.EventOtherType, nil, timestamp, ec.ForAggregate(mocks.AggregateType, id, 7)),
				ec.NewEvent(mocks.EventOtherType, nil, timestamp, ec.ForAggregate("OtherAggregate", id, 8)),
			},
			ec.ErrMismatchedEventAggregateTypes,
		},
		"version gap": {
			[]ec.Event{
				ec.NewEvent(mocks.EventOtherType, nil, timestamp, ec.ForAggregate(mocks.AggregateType, id, 7)),
				ec.NewEvent(mocks.EventOtherType, nil, timestamp, ec.ForAggregate(mocks.AggregateType, id, 9)),
			},
			ec.ErrIncorrectEventVersion,
		},
	}

	for name, tc := range invalid {
		t.Run(name, func(t *testing.T) {
			err := store.Save(ctx, tc.events, 6)
			if !errors.As(err, &eventStoreErr) || !errors.Is(err, tc.err) {
				t.Errorf("there should be a event store error with %v: %v", tc.err, err)
			}
		})
	}

	// Save with a stale version, nothing may be written.
	staleEvent := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "stale"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 5))

	err = store.Save(ctx, []ec.Event{staleEvent}, 4)

	concurrencyErr := &ec.ConcurrencyError{}
	if !errors.As(err, &concurrencyErr) || !errors.Is(err, ec.ErrConcurrentSave) {
		t.Error("there should be a concurrency error:", err)
	} else if concurrencyErr.AggregateID != id ||
		concurrencyErr.Expected != 4 || concurrencyErr.Actual != 6 {
		t.Errorf("the concurrency error should be correct: %+v", concurrencyErr)
	}

	if !errors.As(err, &eventStoreErr) || eventStoreErr.Op != ec.EventStoreOpSave {
		t.Error("the concurrency error should be wrapped in a event store error:", err)
	}

	// Save event for another aggregate.
	id2 := uuid.New()
	event7 := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event7"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id2, 1))

	if err := store.Save(ctx, []ec.Event{event7}, 0); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event7)

	// Load events for non-existing aggregate.
	events, err := store.Load(ctx, uuid.New())
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, ec.ErrAggregateNotFound) {
		t.Error("there should be a not found error:", err)
	}

	if len(events) != 0 {
		t.Error("there should be no loaded events:", eventsToString(events))
	}

	// Load events.
	events, err = store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	compareLoaded(t, events, []ec.Event{
		event1,                 // Version 1
		event2,                 // Version 2
		event3,                 // Version 3
		event4, event5, event6, // Version 4, 5 and 6
	})

	// Load events for another aggregate.
	events, err = store.Load(ctx, id2)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	compareLoaded(t, events, []ec.Event{event7})

	// Loaded events must not share data with the stored events.
	if len(events) == 1 {
		if data, ok := events[0].Data().(*mocks.EventData); ok {
			data.Content = "changed"
		}

		reloaded, err := store.Load(ctx, id2)
		if err != nil {
			t.Error("there should be no error:", err)
		}

		compareLoaded(t, reloaded, []ec.Event{event7})
	}

	return savedEvents
}

// ConcurrencyAcceptanceTest saves from many goroutines using the same expected
// version. Exactly one of them must succeed and all others get a
// ConcurrencyError without anything being written.
func ConcurrencyAcceptanceTest(t *testing.T, store ec.EventStore, ctx context.Context) {
	const writers = 8

	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	event1 := ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 1))
	if err := store.Save(ctx, []ec.Event{event1}, 0); err != nil {
		t.Fatal("there should be no error:", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []ec.Event
		conflicts int
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			events := []ec.Event{
				ec.NewEvent(mocks.EventType, &mocks.EventData{Content: fmt.Sprintf("writer%d-a", i)}, timestamp,
					ec.ForAggregate(mocks.AggregateType, id, 2)),
				ec.NewEvent(mocks.EventType, &mocks.EventData{Content: fmt.Sprintf("writer%d-b", i)}, timestamp,
					ec.ForAggregate(mocks.AggregateType, id, 3)),
			}

			err := store.Save(ctx, events, 1)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded = append(succeeded, events...)
			case errors.Is(err, ec.ErrConcurrentSave):
				conflicts++
			default:
				t.Error("there should be no other error:", err)
			}
		}(i)
	}

	wg.Wait()

	if len(succeeded) != 2 || conflicts != writers-1 {
		t.Fatalf("exactly one writer should succeed: %d events saved, %d conflicts", len(succeeded), conflicts)
	}

	events, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	compareLoaded(t, events, append([]ec.Event{event1}, succeeded...))
}

func compareLoaded(t *testing.T, events, expected []ec.Event) {
	t.Helper()

	if len(events) != len(expected) {
		t.Errorf("incorrect number of loaded events: %d (should be %d): %s",
			len(events), len(expected), eventsToString(events))

		return
	}

	for i, event := range events {
		if err := mocks.CompareEvents(event, expected[i]); err != nil {
			t.Error("the event was incorrect:", err)
		}

		if !event.Timestamp().Equal(expected[i].Timestamp()) {
			t.Error("the timestamp was incorrect:", event.Timestamp())
		}

		if !reflect.DeepEqual(event.Metadata(), expected[i].Metadata()) &&
			(len(event.Metadata()) != 0 || len(expected[i].Metadata()) != 0) {
			t.Error("the metadata was incorrect:", event.Metadata())
		}
	}
}

func eventsToString(events []ec.Event) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = fmt.Sprintf("%s:%s (%s@%d)",
			e.AggregateType(), e.EventType(),
			e.AggregateID(), e.Version())
	}

	return strings.Join(parts, ", ")
}
