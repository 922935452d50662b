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
	"fmt"

	"github.com/looplab/eventcore/uuid"
)

// EventStore is an interface for an event sourcing event store.
type EventStore interface {
	// Save appends all events to the store, if and only if the stored version
	// of the aggregate equals originalVersion. The check and the append must be
	// atomic with respect to other saves for the same aggregate. On a version
	// mismatch nothing is written and a *ConcurrencyError is returned.
	Save(ctx context.Context, events []Event, originalVersion int) error

	// Load loads all events for the aggregate id from the store, ordered by
	// version. Returns ErrAggregateNotFound if there are none.
	Load(context.Context, uuid.UUID) ([]Event, error)

	// Close closes the EventStore.
	Close() error
}

var (
	// ErrMissingEvents is when there is no events to save.
	ErrMissingEvents = errors.New("missing events")
	// ErrMismatchedEventAggregateIDs is when the events to save belong to different aggregates.
	ErrMismatchedEventAggregateIDs = errors.New("mismatched event aggregate IDs")
	// ErrMismatchedEventAggregateTypes is when the events to save belong to different aggregate types.
	ErrMismatchedEventAggregateTypes = errors.New("mismatched event aggregate types")
	// ErrIncorrectEventVersion is when an event is for an other version of the aggregate.
	ErrIncorrectEventVersion = errors.New("mismatching event version")
	// ErrConcurrentSave is the sentinel matched by every *ConcurrencyError.
	ErrConcurrentSave = errors.New("concurrent save")
)

// EventStoreOperation is the operation done when an error happened.
type EventStoreOperation string

const (
	// Errors during loading of events.
	EventStoreOpLoad EventStoreOperation = "load"
	// Errors during saving of events.
	EventStoreOpSave EventStoreOperation = "save"
)

// EventStoreError is an error in the event store.
type EventStoreError struct {
	// Err is the error.
	Err error
	// Op is the operation for the error.
	Op EventStoreOperation
	// AggregateType of related operation.
	AggregateType AggregateType
	// AggregateID of related operation.
	AggregateID uuid.UUID
	// AggregateVersion of related operation.
	AggregateVersion int
	// Events of the related operation.
	Events []Event
}

// Error implements the Error method of the errors.Error interface.
func (e *EventStoreError) Error() string {
	str := "event store: "

	if e.Op != "" {
		str += string(e.Op) + ": "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.AggregateID != uuid.Nil {
		at := "Aggregate"
		if e.AggregateType != "" {
			at = string(e.AggregateType)
		}

		str += fmt.Sprintf(", %s(%s, v%d)", at, e.AggregateID, e.AggregateVersion)
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *EventStoreError) Cause() error {
	return e.Unwrap()
}

// ConcurrencyError is when the version expected by a save did not match the
// version stored for the aggregate. Nothing has been written when it occurs.
type ConcurrencyError struct {
	// AggregateID is the aggregate that was saved.
	AggregateID uuid.UUID
	// Expected is the version the save expected.
	Expected int
	// Actual is the version found in the store.
	Actual int
}

// Error implements the Error method of the errors.Error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrent save of %s: expected version %d, actual version %d",
		e.AggregateID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrConcurrentSave) match all concurrency errors.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrentSave
}

// ValidateEvents checks that events can be appended to an aggregate at
// originalVersion: they must belong to the same aggregate and have versions
// following originalVersion without gaps. Stores use it before writing.
func ValidateEvents(events []Event, originalVersion int) error {
	if len(events) == 0 {
		return ErrMissingEvents
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	for i, e := range events {
		if e.AggregateID() != id {
			return ErrMismatchedEventAggregateIDs
		}

		if e.AggregateType() != at {
			return ErrMismatchedEventAggregateTypes
		}

		if e.Version() != originalVersion+i+1 {
			return ErrIncorrectEventVersion
		}
	}

	return nil
}
