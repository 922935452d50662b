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
	"errors"

	"github.com/looplab/eventcore/uuid"
)

// Entity is an item which is identified by an ID.
type Entity interface {
	// EntityID returns the ID of the entity.
	EntityID() uuid.UUID
}

// AggregateType is the type of an aggregate.
type AggregateType string

// String returns the string representation of an aggregate type.
func (at AggregateType) String() string {
	return string(at)
}

// Aggregate is an interface representing a versioned data entity created from
// events. Its state is only ever changed by applying events, either when
// replaying its history or when its own behavior produces new events.
//
// A domain specific aggregate can either implement the full interface, or more
// commonly embed *aggregate.AggregateBase to take care of the common methods.
type Aggregate interface {
	// Entity provides the ID of the aggregate.
	Entity

	// AggregateType returns the type name of the aggregate.
	AggregateType() AggregateType

	// AggregateVersion returns the number of events applied to the aggregate,
	// including uncommitted events.
	AggregateVersion() int
	// OriginalVersion returns the version of the aggregate when it was loaded,
	// which is the version expected by the event store when saving.
	OriginalVersion() int

	// UncommittedEvents returns the events that are not yet stored.
	UncommittedEvents() []Event
	// ClearUncommittedEvents clears the uncommitted events after storing.
	ClearUncommittedEvents()

	// LoadHistory replays stored events on a new aggregate.
	LoadHistory(context.Context, []Event) error
}

// ErrAggregateNotFound is when no aggregate (or events) can be found.
var ErrAggregateNotFound = errors.New("aggregate not found")

// ErrMismatchedEventType is when an event is applied to an aggregate of another type.
var ErrMismatchedEventType = errors.New("mismatched event type and aggregate type")

// ApplyEventError is when an event could not be applied. It contains the error
// and the event that caused it.
type ApplyEventError struct {
	// Event is the event that caused the error.
	Event Event
	// Err is the error that happened when applying the event.
	Err error
}

// Error implements the Error method of the error interface.
func (a *ApplyEventError) Error() string {
	str := "could not apply event: "

	if a.Err != nil {
		str += a.Err.Error()
	} else {
		str += "unknown error"
	}

	if a.Event != nil {
		str += " (" + a.Event.String() + ")"
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (a *ApplyEventError) Unwrap() error {
	return a.Err
}
