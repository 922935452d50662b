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

// Package memory provides an in memory event store, useful in tests and for
// single process setups.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

// EventStore is an ec.EventStore keeping events in memory. Saves are
// serialized by a mutex which makes the version check and append atomic.
type EventStore struct {
	db    map[uuid.UUID]aggregateRecord
	dbMu  sync.RWMutex
	types *ec.EventTypes
}

type aggregateRecord struct {
	AggregateID uuid.UUID
	Version     int
	Events      []ec.Event
}

var _ = ec.EventStore(&EventStore{})

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithEventTypes makes the store deep copy event data using the factories in
// types, so that events saved and loaded never share data. Without it events
// are kept as is, which requires event data to be treated as immutable.
func WithEventTypes(types *ec.EventTypes) Option {
	return func(s *EventStore) error {
		if types == nil {
			return fmt.Errorf("missing event types")
		}

		s.types = types

		return nil
	}
}

// NewEventStore creates a new EventStore using memory as storage.
func NewEventStore(options ...Option) (*EventStore, error) {
	s := &EventStore{
		db: map[uuid.UUID]aggregateRecord{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return s, nil
}

// Save implements the Save method of the ec.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []ec.Event, originalVersion int) error {
	if err := ec.ValidateEvents(events, originalVersion); err != nil {
		return &ec.EventStoreError{
			Err:    err,
			Op:     ec.EventStoreOpSave,
			Events: events,
		}
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	// Copy before taking the lock, copying may be slow.
	dbEvents := make([]ec.Event, len(events))

	for i, e := range events {
		var err error
		if dbEvents[i], err = s.copyEvent(e); err != nil {
			return &ec.EventStoreError{
				Err:              err,
				Op:               ec.EventStoreOpSave,
				AggregateType:    at,
				AggregateID:      id,
				AggregateVersion: originalVersion,
				Events:           events,
			}
		}
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	aggregate := s.db[id]
	if aggregate.Version != originalVersion {
		return &ec.EventStoreError{
			Err: &ec.ConcurrencyError{
				AggregateID: id,
				Expected:    originalVersion,
				Actual:      aggregate.Version,
			},
			Op:               ec.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	// Never append to the stored slice in place, loaded slices may share it.
	stored := make([]ec.Event, 0, len(aggregate.Events)+len(dbEvents))
	stored = append(stored, aggregate.Events...)
	stored = append(stored, dbEvents...)

	s.db[id] = aggregateRecord{
		AggregateID: id,
		Version:     originalVersion + len(dbEvents),
		Events:      stored,
	}

	return nil
}

// Load implements the Load method of the ec.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	s.dbMu.RLock()
	aggregate, ok := s.db[id]
	s.dbMu.RUnlock()

	if !ok {
		return nil, &ec.EventStoreError{
			Err:         ec.ErrAggregateNotFound,
			Op:          ec.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	events := make([]ec.Event, len(aggregate.Events))

	for i, e := range aggregate.Events {
		var err error
		if events[i], err = s.copyEvent(e); err != nil {
			return nil, &ec.EventStoreError{
				Err:              err,
				Op:               ec.EventStoreOpLoad,
				AggregateType:    e.AggregateType(),
				AggregateID:      id,
				AggregateVersion: e.Version(),
			}
		}
	}

	return events, nil
}

// Close implements the Close method of the ec.EventStore interface.
func (s *EventStore) Close() error {
	return nil
}

// copyEvent duplicates the event, deep copying the data when possible.
func (s *EventStore) copyEvent(event ec.Event) (ec.Event, error) {
	data := event.Data()

	if data != nil && s.types != nil {
		var err error
		if data, err = s.types.CreateEventData(event.EventType()); err != nil {
			return nil, fmt.Errorf("could not create event data: %w", err)
		}

		if err := copier.CopyWithOption(data, event.Data(), copier.Option{DeepCopy: true}); err != nil {
			return nil, fmt.Errorf("could not copy event data: %w", err)
		}
	}

	return ec.NewEvent(
		event.EventType(),
		data,
		event.Timestamp(),
		ec.ForAggregate(
			event.AggregateType(),
			event.AggregateID(),
			event.Version(),
		),
		ec.WithMetadata(event.Metadata()),
	), nil
}
