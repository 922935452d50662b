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

// Package bbolt provides an event store persisted in a local bbolt file.
package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/bson"
	"github.com/looplab/eventcore/uuid"
)

// EventStore is an ec.EventStore using one bbolt bucket per aggregate, with the
// big endian version as key. bbolt allows a single writer at a time which
// makes the version check and the append of a Save atomic.
type EventStore struct {
	db    *bbolt.DB
	codec ec.EventCodec
}

var _ = ec.EventStore(&EventStore{})

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithCodec sets the codec used for stored events, the default is BSON.
func WithCodec(c ec.EventCodec) Option {
	return func(s *EventStore) error {
		if c == nil {
			return errors.New("missing codec")
		}

		s.codec = c

		return nil
	}
}

// NewEventStore opens or creates the bbolt file at path. Event data is
// created using types when loading.
func NewEventStore(path string, types *ec.EventTypes, options ...Option) (*EventStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	s := &EventStore{
		db:    db,
		codec: bson.NewEventCodec(types),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			db.Close()

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

	// Encode outside of the write transaction, there can only be one at a time.
	values := make([][]byte, len(events))

	for i, e := range events {
		var err error
		if values[i], err = s.codec.MarshalEvent(context.Background(), e); err != nil {
			return &ec.EventStoreError{
				Err:              fmt.Errorf("could not encode event: %w", err),
				Op:               ec.EventStoreOpSave,
				AggregateType:    at,
				AggregateID:      id,
				AggregateVersion: originalVersion,
				Events:           events,
			}
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(id))
		if err != nil {
			return fmt.Errorf("could not create bucket: %w", err)
		}

		version := 0
		if k, _ := b.Cursor().Last(); k != nil {
			version = btoi(k)
		}

		if version != originalVersion {
			return &ec.ConcurrencyError{
				AggregateID: id,
				Expected:    originalVersion,
				Actual:      version,
			}
		}

		for i, v := range values {
			if err := b.Put(itob(originalVersion+i+1), v); err != nil {
				return fmt.Errorf("could not put event: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return &ec.EventStoreError{
			Err:              err,
			Op:               ec.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	return nil
}

// Load implements the Load method of the ec.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	var events []ec.Event

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(id))
		if b == nil {
			return ec.ErrAggregateNotFound
		}

		return b.ForEach(func(k, v []byte) error {
			e, _, err := s.codec.UnmarshalEvent(ctx, v)
			if err != nil {
				return fmt.Errorf("could not decode event v%d: %w", btoi(k), err)
			}

			events = append(events, e)

			return nil
		})
	})
	if err == nil && len(events) == 0 {
		err = ec.ErrAggregateNotFound
	}

	if err != nil {
		return nil, &ec.EventStoreError{
			Err:         err,
			Op:          ec.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return events, nil
}

// Close implements the Close method of the ec.EventStore interface.
func (s *EventStore) Close() error {
	return s.db.Close()
}

func bucketName(id uuid.UUID) []byte {
	return []byte("aggregate_" + id.String())
}

// itob returns an 8-byte big endian representation of v.
func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))

	return b
}

func btoi(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}
