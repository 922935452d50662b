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

// Package mocks contains test doubles for the interfaces in eventcore.
package mocks

import (
	"context"
	"sync"
	"testing"
	"time"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/aggregate"
	"github.com/looplab/eventcore/dispatch"
	"github.com/looplab/eventcore/uuid"
)

const (
	// AggregateType is the type for Aggregate.
	AggregateType ec.AggregateType = "Aggregate"

	// BaseEventType is the abstract parent of EventType and EventOtherType.
	BaseEventType ec.EventType = "BaseEvent"
	// EventType is a the type for Event.
	EventType ec.EventType = "Event"
	// EventOtherType is the type for EventOther.
	EventOtherType ec.EventType = "EventOther"
)

// NewEventTypes returns a registry with the mocked event types.
func NewEventTypes() *ec.EventTypes {
	types := ec.NewEventTypes()
	types.MustRegister(BaseEventType, nil)
	types.MustRegister(EventType, func() ec.EventData { return &EventData{} }, BaseEventType)
	types.MustRegister(EventOtherType, func() ec.EventData { return &EventData{} }, BaseEventType)

	return types
}

// EventData is a mocked event data, useful in testing.
type EventData struct {
	Content string
}

// Aggregate is a mocked ec.Aggregate, useful in testing. It keeps every
// applied event.
type Aggregate struct {
	*aggregate.AggregateBase

	Applied []ec.Event
	Context context.Context
	// Used to simulate errors when applying events.
	Err error
}

var _ = ec.Aggregate(&Aggregate{})

var aggregateApplier = dispatch.MustNew(nil,
	dispatch.HandleAny(func(ctx context.Context, a *Aggregate, e ec.Event) error {
		if a.Err != nil {
			return a.Err
		}

		a.Applied = append(a.Applied, e)
		a.Context = ctx

		return nil
	}),
)

// NewAggregate returns a new Aggregate.
func NewAggregate(id uuid.UUID) *Aggregate {
	a := &Aggregate{}
	a.AggregateBase = aggregate.NewAggregateBase(AggregateType, id, a)

	return a
}

// ApplyEvent implements the ApplyEvent method of the aggregate.Applier interface.
func (a *Aggregate) ApplyEvent(ctx context.Context, e ec.Event) error {
	return aggregateApplier.Apply(ctx, a, e)
}

// EventHandler is a mocked ec.EventHandler, useful in testing.
type EventHandler struct {
	Type    ec.EventHandlerType
	Events  []ec.Event
	Context context.Context
	Recv    chan ec.Event
	// Used to simulate errors when handling.
	Err error
	// Used to block handling until closed, if set.
	Block chan struct{}

	mu sync.Mutex
}

var _ = ec.EventHandler(&EventHandler{})

// NewEventHandler creates a new EventHandler.
func NewEventHandler(handlerType ec.EventHandlerType) *EventHandler {
	return &EventHandler{
		Type:    handlerType,
		Context: context.Background(),
		Recv:    make(chan ec.Event, 10),
	}
}

// HandlerType implements the HandlerType method of the ec.EventHandler interface.
func (m *EventHandler) HandlerType() ec.EventHandlerType {
	return m.Type
}

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (m *EventHandler) HandleEvent(ctx context.Context, event ec.Event) error {
	if m.Block != nil {
		<-m.Block
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, event)
	m.Context = ctx

	select {
	case m.Recv <- event:
	default:
	}

	return nil
}

// HandledEvents returns a copy of the handled events.
func (m *EventHandler) HandledEvents() []ec.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]ec.Event(nil), m.Events...)
}

// Reset forgets the handled events.
func (m *EventHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = nil
	m.Context = context.Background()
}

// Wait is a helper to wait some duration until for an event to be handled.
func (m *EventHandler) Wait(d time.Duration) bool {
	select {
	case <-m.Recv:
		return true
	case <-time.After(d):
		return false
	}
}

// WaitForEvent is a helper to wait until an event has been handled, it timeouts
// after 1 second.
func (m *EventHandler) WaitForEvent(t *testing.T) {
	t.Helper()

	if !m.Wait(time.Second) {
		t.Error("did not receive event in time")
	}
}

// EventStore is a mocked ec.EventStore, useful in testing.
type EventStore struct {
	Events  []ec.Event
	Loaded  uuid.UUID
	Context context.Context
	// Used to simulate errors in the store.
	Err error
}

var _ = ec.EventStore(&EventStore{})

// Save implements the Save method of the ec.EventStore interface.
func (m *EventStore) Save(ctx context.Context, events []ec.Event, originalVersion int) error {
	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, events...)
	m.Context = ctx

	return nil
}

// Load implements the Load method of the ec.EventStore interface.
func (m *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	m.Loaded = id
	m.Context = ctx

	var events []ec.Event

	for _, e := range m.Events {
		if e.AggregateID() == id {
			events = append(events, e)
		}
	}

	if len(events) == 0 {
		return nil, ec.ErrAggregateNotFound
	}

	return events, nil
}

// Close implements the Close method of the ec.EventStore interface.
func (m *EventStore) Close() error {
	return nil
}

// EventBus is a mocked ec.EventBus, useful in testing.
type EventBus struct {
	Events  []ec.Event
	Context context.Context
	// Used to simulate errors in publish, per event type when set.
	Err    error
	ErrFor map[ec.EventType]error

	mu sync.Mutex
}

var _ = ec.EventBus(&EventBus{})

// Subscribe implements the Subscribe method of the ec.EventBus interface.
func (m *EventBus) Subscribe(t ec.EventType, h ec.EventHandler) error {
	return m.Err
}

// Publish implements the Publish method of the ec.EventBus interface.
func (m *EventBus) Publish(ctx context.Context, event ec.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.ErrFor[event.EventType()]; ok {
		return err
	}

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, event)
	m.Context = ctx

	return nil
}

// PublishedEvents returns a copy of the published events.
func (m *EventBus) PublishedEvents() []ec.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]ec.Event(nil), m.Events...)
}

type contextKey int

const (
	contextKeyOne contextKey = iota
)

const (
	// The string key used to marshal contextKeyOne.
	contextKeyOneStr = "context_one"
)

// Register the marshalers and unmarshalers for ContextOne.
func init() {
	ec.RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if val, ok := ContextOne(ctx); ok {
			vals[contextKeyOneStr] = val
		}
	})
	ec.RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if val, ok := vals[contextKeyOneStr].(string); ok {
			return WithContextOne(ctx, val)
		}

		return ctx
	})
}

// WithContextOne sets a value for One one the context.
func WithContextOne(ctx context.Context, val string) context.Context {
	return context.WithValue(ctx, contextKeyOne, val)
}

// ContextOne returns a value for One from the context.
func ContextOne(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(contextKeyOne).(string)

	return val, ok
}
