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

package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

// EventStore wraps an ec.EventStore with a span per operation.
type EventStore struct {
	ec.EventStore
}

// NewEventStore wraps eventStore, nil stays nil.
func NewEventStore(eventStore ec.EventStore) *EventStore {
	if eventStore == nil {
		return nil
	}

	return &EventStore{EventStore: eventStore}
}

// Save implements the Save method of the ec.EventStore interface. Conflicts
// are tagged with the expected and actual versions.
func (s *EventStore) Save(ctx context.Context, events []ec.Event, originalVersion int) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "EventStore.Save")
	defer sp.Finish()

	// The batch belongs to one aggregate, the first event describes it.
	if len(events) > 0 {
		setEventTags(sp, events[0])
	}

	sp.SetTag("ec.original_version", originalVersion)
	sp.SetTag("ec.events", len(events))

	err := s.EventStore.Save(ctx, events, originalVersion)
	setErrorTags(sp, err)

	return err
}

// Load implements the Load method of the ec.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]ec.Event, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "EventStore.Load")
	defer sp.Finish()

	sp.SetTag("ec.aggregate_id", id)

	events, err := s.EventStore.Load(ctx, id)
	sp.SetTag("ec.events", len(events))
	setErrorTags(sp, err)

	return events, err
}
