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

// Package repository provides the aggregate repository, which rebuilds
// aggregates from their stored events and stores new events under optimistic
// concurrency control before publishing them.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

var (
	// ErrInvalidEventStore is when a repository is created with a nil event store.
	ErrInvalidEventStore = errors.New("invalid event store")
	// ErrInvalidEventBus is when a repository is created with a nil event bus.
	ErrInvalidEventBus = errors.New("invalid event bus")
	// ErrInvalidFactory is when a repository is created with a nil factory.
	ErrInvalidFactory = errors.New("invalid aggregate factory")
	// ErrMismatchedAggregateID is when the factory creates an aggregate with another ID.
	ErrMismatchedAggregateID = errors.New("mismatched aggregate ID")
)

// RepositoryOperation is the operation done when an error happened.
type RepositoryOperation string

const (
	// Errors during retrieving of aggregates.
	RepositoryOpRetrieve RepositoryOperation = "retrieve"
	// Errors during storing of events.
	RepositoryOpStore RepositoryOperation = "store"
	// Errors during publishing of stored events. The events are stored when
	// this happens.
	RepositoryOpPublish RepositoryOperation = "publish"
)

// RepositoryError is an error in the repository.
type RepositoryError struct {
	// Err is the error.
	Err error
	// Op is the operation for the error.
	Op RepositoryOperation
	// AggregateType of related operation.
	AggregateType ec.AggregateType
	// AggregateID of related operation.
	AggregateID uuid.UUID
}

// Error implements the Error method of the errors.Error interface.
func (e *RepositoryError) Error() string {
	str := "repository: "

	if e.Op != "" {
		str += string(e.Op) + ": "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.AggregateID != uuid.Nil {
		str += fmt.Sprintf(", %s(%s)", e.AggregateType, e.AggregateID)
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// Metrics is notified about the outcome of every operation.
type Metrics interface {
	ObserveRetrieve(at ec.AggregateType, duration time.Duration, err error)
	ObserveStore(at ec.AggregateType, events int, duration time.Duration, err error)
}

// Repository retrieves and stores aggregates of one type.
type Repository[A ec.Aggregate] struct {
	store   ec.EventStore
	bus     ec.EventBus
	factory func(uuid.UUID) A
	logger  *slog.Logger
	metrics Metrics
}

type settings struct {
	logger  *slog.Logger
	metrics Metrics
}

// Option is an option setter used to configure creation.
type Option func(*settings) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		s.logger = logger

		return nil
	}
}

// WithMetrics reports the outcome of all operations to m.
func WithMetrics(m Metrics) Option {
	return func(s *settings) error {
		if m == nil {
			return fmt.Errorf("missing metrics")
		}

		s.metrics = m

		return nil
	}
}

// New creates a repository using an event store and bus. The factory must
// return a new aggregate at version 0 with the given ID.
func New[A ec.Aggregate](store ec.EventStore, bus ec.EventBus, factory func(uuid.UUID) A, options ...Option) (*Repository[A], error) {
	if store == nil {
		return nil, ErrInvalidEventStore
	}

	if bus == nil {
		return nil, ErrInvalidEventBus
	}

	if factory == nil {
		return nil, ErrInvalidFactory
	}

	s := &settings{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return &Repository[A]{
		store:   store,
		bus:     bus,
		factory: factory,
		logger:  s.logger,
		metrics: s.metrics,
	}, nil
}

// Create returns a new aggregate at version 0, nothing is stored until Store
// is called with it.
func (r *Repository[A]) Create(id uuid.UUID) A {
	return r.factory(id)
}

// Retrieve loads the history of an aggregate and replays it on a new
// aggregate. The error wraps ec.ErrAggregateNotFound if nothing is stored.
func (r *Repository[A]) Retrieve(ctx context.Context, id uuid.UUID) (A, error) {
	start := time.Now()

	a, err := r.retrieve(ctx, id)

	if r.metrics != nil {
		r.metrics.ObserveRetrieve(a.AggregateType(), time.Since(start), err)
	}

	if err != nil {
		var zero A

		return zero, err
	}

	return a, nil
}

func (r *Repository[A]) retrieve(ctx context.Context, id uuid.UUID) (A, error) {
	a := r.factory(id)

	if a.EntityID() != id {
		return a, &RepositoryError{
			Err:           fmt.Errorf("%w: %s", ErrMismatchedAggregateID, a.EntityID()),
			Op:            RepositoryOpRetrieve,
			AggregateType: a.AggregateType(),
			AggregateID:   id,
		}
	}

	events, err := r.store.Load(ctx, id)
	if err == nil && len(events) == 0 {
		err = ec.ErrAggregateNotFound
	}

	if err != nil {
		return a, &RepositoryError{
			Err:           err,
			Op:            RepositoryOpRetrieve,
			AggregateType: a.AggregateType(),
			AggregateID:   id,
		}
	}

	if err := a.LoadHistory(ctx, events); err != nil {
		return a, &RepositoryError{
			Err:           err,
			Op:            RepositoryOpRetrieve,
			AggregateType: a.AggregateType(),
			AggregateID:   id,
		}
	}

	return a, nil
}

// Store saves the uncommitted events of the aggregate, expecting the stored
// version to still be the one the aggregate was retrieved at. If another
// writer stored events in between the error wraps a *ec.ConcurrencyError,
// nothing is written and the uncommitted events are kept for a retry.
//
// After a successful save the uncommitted events are cleared and each event
// is published in order. Publishing failures of all events are collected into
// one error with the RepositoryOpPublish operation; the events are stored and
// will not be saved again.
func (r *Repository[A]) Store(ctx context.Context, a A) error {
	events := a.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	start := time.Now()

	err := r.storeEvents(ctx, a, events)

	if r.metrics != nil {
		r.metrics.ObserveStore(a.AggregateType(), len(events), time.Since(start), err)
	}

	return err
}

func (r *Repository[A]) storeEvents(ctx context.Context, a A, events []ec.Event) error {
	originalVersion := a.OriginalVersion()

	if err := r.store.Save(ctx, events, originalVersion); err != nil {
		if errors.Is(err, ec.ErrConcurrentSave) {
			r.logger.Warn("concurrent save",
				"aggregate_type", a.AggregateType(),
				"aggregate_id", a.EntityID(),
				"expected_version", originalVersion,
				"err", err,
			)
		}

		return &RepositoryError{
			Err:           err,
			Op:            RepositoryOpStore,
			AggregateType: a.AggregateType(),
			AggregateID:   a.EntityID(),
		}
	}

	a.ClearUncommittedEvents()

	r.logger.Debug("stored events",
		"aggregate_type", a.AggregateType(),
		"aggregate_id", a.EntityID(),
		"version", originalVersion+len(events),
	)

	var errs []error

	for _, e := range events {
		if err := r.bus.Publish(ctx, e); err != nil {
			r.logger.Error("could not publish event",
				"event", e.String(),
				"err", err,
			)

			errs = append(errs, fmt.Errorf("%s: %w", e, err))
		}
	}

	if len(errs) > 0 {
		return &RepositoryError{
			Err:           errors.Join(errs...),
			Op:            RepositoryOpPublish,
			AggregateType: a.AggregateType(),
			AggregateID:   a.EntityID(),
		}
	}

	return nil
}
