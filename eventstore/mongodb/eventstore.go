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

// Package mongodb provides an event store for MongoDB, using one collection
// for the events and another for the current version of each aggregate.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	ec "github.com/looplab/eventcore"
	codec "github.com/looplab/eventcore/codec/bson"
	"github.com/looplab/eventcore/uuid"
)

// EventStore is an ec.EventStore for MongoDB. A save runs in a transaction
// that moves the version in the streams collection and inserts the events, so
// MongoDB must run as a replica set.
type EventStore struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	events          *mongo.Collection
	streams         *mongo.Collection
	codec           ec.EventCodec
}

var _ = ec.EventStore(&EventStore{})

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

// NewEventStore creates a new EventStore with a MongoDB URI: `mongodb://hostname`.
func NewEventStore(uri, dbName string, types *ec.EventTypes, options ...Option) (*EventStore, error) {
	opts := mongoOptions.Client().ApplyURI(uri)
	opts.SetWriteConcern(writeconcern.Majority())
	opts.SetReadConcern(readconcern.Majority())
	opts.SetReadPreference(readpref.Primary())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	s, err := newEventStoreWithClient(client, internalClient, dbName, types, options...)
	if err != nil {
		client.Disconnect(context.Background())

		return nil, err
	}

	return s, nil
}

// NewEventStoreWithClient creates a new EventStore with a client, which is
// not disconnected on Close.
func NewEventStoreWithClient(client *mongo.Client, dbName string, types *ec.EventTypes, options ...Option) (*EventStore, error) {
	return newEventStoreWithClient(client, externalClient, dbName, types, options...)
}

func newEventStoreWithClient(client *mongo.Client, clientOwnership clientOwnership, dbName string, types *ec.EventTypes, options ...Option) (*EventStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	db := client.Database(dbName)
	s := &EventStore{
		client:          client,
		clientOwnership: clientOwnership,
		events:          db.Collection("events"),
		streams:         db.Collection("streams"),
		codec:           codec.NewEventCodec(types),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	ctx := context.Background()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
	}

	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
		Options: mongoOptions.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("could not ensure events index: %w", err)
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithCollectionNames uses different collections from the default "events"
// and "streams" collections.
func WithCollectionNames(eventsColl, streamsColl string) Option {
	return func(s *EventStore) error {
		if eventsColl == "" || streamsColl == "" {
			return fmt.Errorf("missing collection name")
		} else if eventsColl == streamsColl {
			return fmt.Errorf("custom collection names are equal")
		}

		db := s.events.Database()
		s.events = db.Collection(eventsColl)
		s.streams = db.Collection(streamsColl)

		return nil
	}
}

// WithCodec sets the codec used for the stored event bodies, the default is BSON.
func WithCodec(c ec.EventCodec) Option {
	return func(s *EventStore) error {
		if c == nil {
			return fmt.Errorf("missing codec")
		}

		s.codec = c

		return nil
	}
}

// evt is the stored event, with the encoded event as body and the fields
// used for lookups next to it.
type evt struct {
	AggregateID   string           `bson:"aggregate_id"`
	Version       int              `bson:"version"`
	AggregateType ec.AggregateType `bson:"aggregate_type"`
	EventType     ec.EventType     `bson:"event_type"`
	Timestamp     time.Time        `bson:"timestamp"`
	Body          []byte           `bson:"body"`
}

// stream is the current version of an aggregate.
type stream struct {
	ID            string           `bson:"_id"`
	AggregateType ec.AggregateType `bson:"aggregate_type"`
	Version       int              `bson:"version"`
	UpdatedAt     time.Time        `bson:"updated_at"`
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

	if err := s.save(ctx, id, events, originalVersion); err != nil {
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

func (s *EventStore) save(ctx context.Context, id uuid.UUID, events []ec.Event, originalVersion int) error {
	dbEvents := make([]interface{}, len(events))

	for i, event := range events {
		body, err := s.codec.MarshalEvent(context.Background(), event)
		if err != nil {
			return fmt.Errorf("could not encode event: %w", err)
		}

		dbEvents[i] = &evt{
			AggregateID:   id.String(),
			Version:       event.Version(),
			AggregateType: event.AggregateType(),
			EventType:     event.EventType(),
			Timestamp:     event.Timestamp(),
			Body:          body,
		}
	}

	last := events[len(events)-1]
	strm := &stream{
		ID:            id.String(),
		AggregateType: last.AggregateType(),
		Version:       last.Version(),
		UpdatedAt:     last.Timestamp(),
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}

	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (interface{}, error) {
		if originalVersion == 0 {
			if _, err := s.streams.InsertOne(txCtx, strm); mongo.IsDuplicateKeyError(err) {
				return nil, errVersionMismatch
			} else if err != nil {
				return nil, fmt.Errorf("could not insert stream: %w", err)
			}
		} else {
			r, err := s.streams.UpdateOne(txCtx,
				bson.M{
					"_id":     strm.ID,
					"version": originalVersion,
				},
				bson.M{
					"$set": bson.M{"updated_at": strm.UpdatedAt},
					"$inc": bson.M{"version": len(dbEvents)},
				},
			)
			if err != nil {
				return nil, fmt.Errorf("could not update stream: %w", err)
			} else if r.MatchedCount == 0 {
				return nil, errVersionMismatch
			}
		}

		if _, err := s.events.InsertMany(txCtx, dbEvents); mongo.IsDuplicateKeyError(err) {
			return nil, errVersionMismatch
		} else if err != nil {
			return nil, fmt.Errorf("could not insert events: %w", err)
		}

		return nil, nil
	})
	if errors.Is(err, errVersionMismatch) {
		return s.conflict(ctx, id, originalVersion)
	}

	return err
}

// errVersionMismatch aborts a save transaction when the stream had moved.
var errVersionMismatch = errors.New("version mismatch")

// conflict reads the stored version for a save that did not match it.
func (s *EventStore) conflict(ctx context.Context, id uuid.UUID, originalVersion int) error {
	var strm stream

	err := s.streams.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&strm)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("could not find stream: %w", err)
	}

	return &ec.ConcurrencyError{
		AggregateID: id,
		Expected:    originalVersion,
		Actual:      strm.Version,
	}
}

// Load implements the Load method of the ec.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	events, err := s.load(ctx, id)
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

func (s *EventStore) load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	cursor, err := s.events.Find(ctx,
		bson.M{"aggregate_id": id.String()},
		mongoOptions.Find().SetSort(bson.D{{Key: "version", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not find event: %w", err)
	}

	defer cursor.Close(ctx)

	var events []ec.Event

	for cursor.Next(ctx) {
		var e evt
		if err := cursor.Decode(&e); err != nil {
			return nil, fmt.Errorf("could not decode event: %w", err)
		}

		event, _, err := s.codec.UnmarshalEvent(ctx, e.Body)
		if err != nil {
			return nil, fmt.Errorf("could not unmarshal event: %w", err)
		}

		events = append(events, event)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("could not read events: %w", err)
	}

	return events, nil
}

// Close implements the Close method of the ec.EventStore interface.
func (s *EventStore) Close() error {
	if s.clientOwnership == externalClient {
		// Don't close a client we don't own.
		return nil
	}

	return s.client.Disconnect(context.Background())
}
