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

// Package metrics collects Prometheus metrics for event handlers, event
// stores and repositories.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/repository"
	"github.com/looplab/eventcore/uuid"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// Metrics holds the collectors, registered once with New.
type Metrics struct {
	handlerDuration *prometheus.HistogramVec
	handledEvents   *prometheus.CounterVec

	storeDuration  *prometheus.HistogramVec
	eventsAppended *prometheus.CounterVec

	repoDuration         *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
}

var _ = repository.Metrics(&Metrics{})

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventcore_handler_duration_seconds",
			Help:    "Event handler latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"handler_type", "event_type"}),

		handledEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_handled_events_total",
			Help: "Total number of events handled",
		}, []string{"handler_type", "event_type", "success"}),

		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventcore_store_duration_seconds",
			Help:    "Event store latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"op"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		repoDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventcore_repository_duration_seconds",
			Help:    "Repository latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"op", "aggregate_type", "success"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts",
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.handlerDuration,
		m.handledEvents,
		m.storeDuration,
		m.eventsAppended,
		m.repoDuration,
		m.concurrencyConflicts,
	)

	return m
}

// NewEventHandlerMiddleware returns an event handler middleware that observes
// the latency and outcome of every handled event.
func (m *Metrics) NewEventHandlerMiddleware() ec.EventHandlerMiddleware {
	return func(h ec.EventHandler) ec.EventHandler {
		return &eventHandler{EventHandler: h, m: m}
	}
}

type eventHandler struct {
	ec.EventHandler
	m *Metrics
}

// InnerHandler implements EventHandlerChain.
func (h *eventHandler) InnerHandler() ec.EventHandler {
	return h.EventHandler
}

// HandleEvent implements the HandleEvent method of the EventHandler.
func (h *eventHandler) HandleEvent(ctx context.Context, event ec.Event) error {
	start := time.Now()
	err := h.EventHandler.HandleEvent(ctx, event)

	ht := h.HandlerType().String()
	et := event.EventType().String()

	h.m.handlerDuration.WithLabelValues(ht, et).Observe(time.Since(start).Seconds())
	h.m.handledEvents.WithLabelValues(ht, et, strconv.FormatBool(err == nil)).Inc()

	return err
}

// EventStore is an ec.EventStore that observes latencies, appended events and
// conflicts.
type EventStore struct {
	ec.EventStore
	m *Metrics
}

// NewEventStore wraps an event store.
func (m *Metrics) NewEventStore(store ec.EventStore) *EventStore {
	if store == nil {
		return nil
	}

	return &EventStore{
		EventStore: store,
		m:          m,
	}
}

// Save implements the Save method of the ec.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []ec.Event, originalVersion int) error {
	start := time.Now()
	err := s.EventStore.Save(ctx, events, originalVersion)

	s.m.storeDuration.WithLabelValues(string(ec.EventStoreOpSave)).Observe(time.Since(start).Seconds())

	if len(events) > 0 {
		at := events[0].AggregateType().String()

		if err == nil {
			s.m.eventsAppended.WithLabelValues(at).Add(float64(len(events)))
		} else if errors.Is(err, ec.ErrConcurrentSave) {
			s.m.concurrencyConflicts.WithLabelValues(at).Inc()
		}
	}

	return err
}

// Load implements the Load method of the ec.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	start := time.Now()
	events, err := s.EventStore.Load(ctx, id)

	s.m.storeDuration.WithLabelValues(string(ec.EventStoreOpLoad)).Observe(time.Since(start).Seconds())

	return events, err
}

// ObserveRetrieve implements the ObserveRetrieve method of the repository.Metrics interface.
func (m *Metrics) ObserveRetrieve(at ec.AggregateType, duration time.Duration, err error) {
	m.repoDuration.WithLabelValues(string(repository.RepositoryOpRetrieve), at.String(), strconv.FormatBool(err == nil)).
		Observe(duration.Seconds())
}

// ObserveStore implements the ObserveStore method of the repository.Metrics interface.
// Conflicts are counted by the event store wrapper, not here.
func (m *Metrics) ObserveStore(at ec.AggregateType, events int, duration time.Duration, err error) {
	m.repoDuration.WithLabelValues(string(repository.RepositoryOpStore), at.String(), strconv.FormatBool(err == nil)).
		Observe(duration.Seconds())
}
