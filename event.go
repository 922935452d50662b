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
	"fmt"
	"time"

	"github.com/looplab/eventcore/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
//
// An event struct and type name should:
//   1) Be in past tense (CustomerMoved)
//   2) Contain the intent (CustomerMoved vs CustomerAddressCorrected).
//
// The event should contain all the data needed when applying/handling it.
// Events are immutable once created.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType
	// The data attached to the event.
	Data() EventData
	// Timestamp of when the event was created.
	Timestamp() time.Time

	// AggregateType is the type of the aggregate that the event can be
	// applied to.
	AggregateType() AggregateType
	// AggregateID is the ID of the aggregate that the event belongs to.
	AggregateID() uuid.UUID
	// Version is the position of the event in the history of the aggregate,
	// starting at 1.
	Version() int

	// Metadata is app-specific metadata such as request ID, originating user etc.
	// A copy is returned, the event itself can not be changed.
	Metadata() map[string]interface{}

	// A string representation of the event.
	String() string
}

// EventType is the type of an event, used as its unique identifier.
type EventType string

// String returns the string representation of an event type.
func (et EventType) String() string {
	return string(et)
}

// EventData is any additional data for an event.
type EventData interface{}

// EventOption is an option to use when creating events.
type EventOption func(*event)

// ForAggregate adds aggregate data when creating an event.
func ForAggregate(aggregateType AggregateType, aggregateID uuid.UUID, version int) EventOption {
	return func(e *event) {
		e.aggregateType = aggregateType
		e.aggregateID = aggregateID
		e.version = version
	}
}

// WithMetadata adds metadata when creating an event.
// Note that the values are merged into any existing metadata.
func WithMetadata(metadata map[string]interface{}) EventOption {
	return func(e *event) {
		if len(metadata) == 0 {
			return
		}

		if e.metadata == nil {
			e.metadata = make(map[string]interface{}, len(metadata))
		}

		for k, v := range metadata {
			e.metadata[k] = v
		}
	}
}

// NewEvent creates a new event with a type and data, setting its timestamp.
func NewEvent(eventType EventType, data EventData, timestamp time.Time, options ...EventOption) Event {
	e := &event{
		eventType: eventType,
		data:      data,
		timestamp: timestamp,
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		option(e)
	}

	return e
}

// event is an internal representation of an event, returned when the aggregate
// uses NewEvent to create a new event. The events loaded from the db is
// represented by each DBs internal event type, implementing Event.
type event struct {
	eventType     EventType
	data          EventData
	timestamp     time.Time
	aggregateType AggregateType
	aggregateID   uuid.UUID
	version       int
	metadata      map[string]interface{}
}

// EventType implements the EventType method of the Event interface.
func (e *event) EventType() EventType {
	return e.eventType
}

// Data implements the Data method of the Event interface.
func (e *event) Data() EventData {
	return e.data
}

// Timestamp implements the Timestamp method of the Event interface.
func (e *event) Timestamp() time.Time {
	return e.timestamp
}

// AggregateType implements the AggregateType method of the Event interface.
func (e *event) AggregateType() AggregateType {
	return e.aggregateType
}

// AggregateID implements the AggregateID method of the Event interface.
func (e *event) AggregateID() uuid.UUID {
	return e.aggregateID
}

// Version implements the Version method of the Event interface.
func (e *event) Version() int {
	return e.version
}

// Metadata implements the Metadata method of the Event interface.
func (e *event) Metadata() map[string]interface{} {
	if e.metadata == nil {
		return nil
	}

	m := make(map[string]interface{}, len(e.metadata))
	for k, v := range e.metadata {
		m[k] = v
	}

	return m
}

// String implements the String method of the Event interface.
func (e *event) String() string {
	str := string(e.eventType)

	if e.aggregateID != uuid.Nil && e.version != 0 {
		str += fmt.Sprintf("(%s, v%d)", e.aggregateID, e.version)
	}

	return str
}
