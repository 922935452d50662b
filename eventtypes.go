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
	"errors"
	"fmt"
	"sync"
)

// AnyEventType is the universal root of every event type hierarchy. It is
// implicitly an ancestor of all event types and can not be registered.
const AnyEventType EventType = "*"

var (
	// ErrEmptyEventType is when an event type is registered without a name.
	ErrEmptyEventType = errors.New("empty event type")
	// ErrReservedEventType is when AnyEventType is registered.
	ErrReservedEventType = errors.New("reserved event type")
	// ErrEventTypeAlreadyRegistered is when an event type is registered twice.
	ErrEventTypeAlreadyRegistered = errors.New("event type already registered")
	// ErrUnknownParentEventType is when a parent is not registered before its child.
	ErrUnknownParentEventType = errors.New("unknown parent event type")
	// ErrEventDataNotRegistered is when no event data factory was registered.
	ErrEventDataNotRegistered = errors.New("event data not registered")
)

// EventTypes is a registry of event types. It keeps the type hierarchy used
// when dispatching events and the factories used to create concrete event
// data when decoding stored or transported events.
//
// Parents must be registered before their children, which keeps the hierarchy
// free of cycles. Types are never removed once registered.
type EventTypes struct {
	types   map[EventType]eventTypeEntry
	typesMu sync.RWMutex
}

type eventTypeEntry struct {
	parents []EventType
	factory func() EventData
}

// NewEventTypes creates an empty registry.
func NewEventTypes() *EventTypes {
	return &EventTypes{
		types: map[EventType]eventTypeEntry{},
	}
}

// Register registers an event type with its direct parents. The factory can be
// nil for abstract types that are only used as ancestors.
//
// An example would be:
//     types.Register(ItemAddedEvent, func() EventData { return &ItemAddedData{} }, OrderItemEvent)
func (r *EventTypes) Register(t EventType, factory func() EventData, parents ...EventType) error {
	if t == "" {
		return ErrEmptyEventType
	}

	if t == AnyEventType {
		return ErrReservedEventType
	}

	r.typesMu.Lock()
	defer r.typesMu.Unlock()

	if _, ok := r.types[t]; ok {
		return fmt.Errorf("%w: %s", ErrEventTypeAlreadyRegistered, t)
	}

	ps := make([]EventType, 0, len(parents))
	seen := map[EventType]bool{}

	for _, p := range parents {
		if p == AnyEventType || seen[p] {
			continue
		}

		if _, ok := r.types[p]; !ok {
			return fmt.Errorf("%w: %s (parent of %s)", ErrUnknownParentEventType, p, t)
		}

		seen[p] = true
		ps = append(ps, p)
	}

	r.types[t] = eventTypeEntry{
		parents: ps,
		factory: factory,
	}

	return nil
}

// MustRegister is like Register but panics on errors, useful in init funcs.
func (r *EventTypes) MustRegister(t EventType, factory func() EventData, parents ...EventType) {
	if err := r.Register(t, factory, parents...); err != nil {
		panic("eventcore: " + err.Error())
	}
}

// IsRegistered returns true if the event type has been registered.
func (r *EventTypes) IsRegistered(t EventType) bool {
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()

	_, ok := r.types[t]

	return ok
}

// Parents returns the direct parents of an event type, in registration order.
// AnyEventType is never included.
func (r *EventTypes) Parents(t EventType) []EventType {
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()

	entry, ok := r.types[t]
	if !ok || len(entry.parents) == 0 {
		return nil
	}

	return append([]EventType(nil), entry.parents...)
}

// IsA returns true if t is ancestor or has ancestor somewhere in its hierarchy.
// Every event type is an AnyEventType.
func (r *EventTypes) IsA(t, ancestor EventType) bool {
	if t == ancestor || ancestor == AnyEventType {
		return true
	}

	for _, p := range r.Parents(t) {
		if r.IsA(p, ancestor) {
			return true
		}
	}

	return false
}

// CreateEventData creates an event data of a type using the factory registered
// with Register.
func (r *EventTypes) CreateEventData(t EventType) (EventData, error) {
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()

	if entry, ok := r.types[t]; ok && entry.factory != nil {
		return entry.factory(), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrEventDataNotRegistered, t)
}
