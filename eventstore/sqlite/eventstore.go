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

// Package sqlite provides an event store using SQLite through database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
	"github.com/looplab/eventcore/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	aggregate_id   TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	aggregate_type TEXT    NOT NULL,
	event_type     TEXT    NOT NULL,
	body           BLOB    NOT NULL,
	PRIMARY KEY (aggregate_id, version)
)`

// EventStore is an ec.EventStore for SQLite. The version check and the append
// of a Save run in one transaction, and the primary key on (aggregate_id,
// version) rejects any write that would duplicate a version.
//
// The DSN should use immediate transactions and a busy timeout so that
// concurrent writers wait for each other, for example:
//   file:events.db?_txlock=immediate&_busy_timeout=5000
type EventStore struct {
	db    *sql.DB
	codec ec.EventCodec
}

var _ = ec.EventStore(&EventStore{})

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithCodec sets the codec used for stored events, the default is JSON.
func WithCodec(c ec.EventCodec) Option {
	return func(s *EventStore) error {
		if c == nil {
			return errors.New("missing codec")
		}

		s.codec = c

		return nil
	}
}

// NewEventStore opens the SQLite database with the DSN and creates the events
// table if needed. Event data is created using types when loading.
func NewEventStore(dsn string, types *ec.EventTypes, options ...Option) (*EventStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	s, err := NewEventStoreWithDB(db, types, options...)
	if err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// NewEventStoreWithDB creates a new EventStore with a DB.
func NewEventStoreWithDB(db *sql.DB, types *ec.EventTypes, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("missing DB")
	}

	s := &EventStore{
		db:    db,
		codec: json.NewEventCodec(types),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("could not create events table: %w", err)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	defer tx.Rollback()

	version, err := currentVersion(ctx, tx, id)
	if err != nil {
		return err
	}

	if version != originalVersion {
		return &ec.ConcurrencyError{
			AggregateID: id,
			Expected:    originalVersion,
			Actual:      version,
		}
	}

	for _, e := range events {
		body, err := s.codec.MarshalEvent(context.Background(), e)
		if err != nil {
			return fmt.Errorf("could not encode event: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (aggregate_id, version, aggregate_type, event_type, body) VALUES (?, ?, ?, ?, ?)`,
			id.String(), e.Version(), string(e.AggregateType()), string(e.EventType()), body,
		); err != nil {
			if isConstraintError(err) {
				return s.conflict(ctx, id, originalVersion)
			}

			return fmt.Errorf("could not insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return s.conflict(ctx, id, originalVersion)
		}

		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// conflict creates the error for a save that lost a race on the primary key,
// which only happens when the DSN does not use immediate transactions.
func (s *EventStore) conflict(ctx context.Context, id uuid.UUID, originalVersion int) error {
	actual, err := currentVersion(ctx, s.db, id)
	if err != nil {
		return err
	}

	return &ec.ConcurrencyError{
		AggregateID: id,
		Expected:    originalVersion,
		Actual:      actual,
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func currentVersion(ctx context.Context, q queryer, id uuid.UUID) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, id.String(),
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("could not get current version: %w", err)
	}

	return version, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error

	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM events WHERE aggregate_id = ? ORDER BY version`, id.String())
	if err != nil {
		return nil, fmt.Errorf("could not query events: %w", err)
	}

	defer rows.Close()

	var events []ec.Event

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("could not scan event: %w", err)
		}

		e, _, err := s.codec.UnmarshalEvent(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("could not decode event: %w", err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read events: %w", err)
	}

	return events, nil
}

// Close implements the Close method of the ec.EventStore interface.
func (s *EventStore) Close() error {
	return s.db.Close()
}
