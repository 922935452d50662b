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

// Package aggregate provides AggregateBase, the embeddable part of an event
// sourced aggregate that keeps its identity, version and uncommitted events.
package aggregate

import (
	"context"
	"fmt"
	"time"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

// Applier applies an event to the state of a domain aggregate. It is normally
// implemented by forwarding to a dispatch.Dispatcher for the aggregate type.
type Applier interface {
	ApplyEvent(context.Context, ec.Event) error
}

// ApplierFunc is a function that can be used as an Applier.
type ApplierFunc func(context.Context, ec.Event) error

// ApplyEvent implements the ApplyEvent method of the Applier interface.
func (f ApplierFunc) ApplyEvent(ctx context.Context, e ec.Event) error {
	return f(ctx, e)
}

// AggregateBase is a event sourced aggregate base to embed in a domain aggregate.
//
// A typical example:
//   type Order struct {
//       *aggregate.AggregateBase
//
//       items []string
//   }
//
//   func NewOrder(id uuid.UUID) *Order {
//       o := &Order{}
//       o.AggregateBase = aggregate.NewAggregateBase(OrderAggregateType, id, o)
//       return o
//   }
//
//   func (o *Order) ApplyEvent(ctx context.Context, e ec.Event) error {
//       return orderApplier.Apply(ctx, o, e)
//   }
//
// Behavior methods on the aggregate call Raise, which applies the new event
// right away and keeps it as uncommitted until the aggregate is stored.
type AggregateBase struct {
	id      uuid.UUID
	t       ec.AggregateType
	v       int
	events  []ec.Event
	applier Applier
	now     func() time.Time
}

// NewAggregateBase creates an aggregate base at version 0. The applier is
// usually the domain aggregate embedding the base.
func NewAggregateBase(t ec.AggregateType, id uuid.UUID, applier Applier) *AggregateBase {
	return &AggregateBase{
		id:      id,
		t:       t,
		applier: applier,
		now:     time.Now,
	}
}

// EntityID implements the EntityID method of the ec.Entity and ec.Aggregate interface.
func (a *AggregateBase) EntityID() uuid.UUID {
	return a.id
}

// AggregateType implements the AggregateType method of the ec.Aggregate interface.
func (a *AggregateBase) AggregateType() ec.AggregateType {
	return a.t
}

// AggregateVersion implements the AggregateVersion method of the ec.Aggregate interface.
func (a *AggregateBase) AggregateVersion() int {
	return a.v
}

// OriginalVersion implements the OriginalVersion method of the ec.Aggregate interface.
func (a *AggregateBase) OriginalVersion() int {
	return a.v - len(a.events)
}

// UncommittedEvents implements the UncommittedEvents method of the ec.Aggregate interface.
func (a *AggregateBase) UncommittedEvents() []ec.Event {
	return a.events
}

// ClearUncommittedEvents implements the ClearUncommittedEvents method of the ec.Aggregate interface.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.events = nil
}

// Raise creates the next event of the aggregate and applies it. The version is
// incremented and the event kept as uncommitted only if it could be applied.
func (a *AggregateBase) Raise(ctx context.Context, t ec.EventType, data ec.EventData, options ...ec.EventOption) (ec.Event, error) {
	if a.applier == nil {
		return nil, fmt.Errorf("no applier for %s", a.t)
	}

	options = append(options, ec.ForAggregate(a.t, a.id, a.v+1))
	e := ec.NewEvent(t, data, a.now(), options...)

	if err := a.applier.ApplyEvent(ctx, e); err != nil {
		return nil, &ec.ApplyEventError{
			Event: e,
			Err:   err,
		}
	}

	a.v++
	a.events = append(a.events, e)

	return e, nil
}

// LoadHistory implements the LoadHistory method of the ec.Aggregate interface.
// Every event must belong to the aggregate and follow the current version.
func (a *AggregateBase) LoadHistory(ctx context.Context, events []ec.Event) error {
	if a.applier == nil {
		return fmt.Errorf("no applier for %s", a.t)
	}

	for _, e := range events {
		if e.AggregateType() != a.t || e.AggregateID() != a.id {
			return &ec.ApplyEventError{
				Event: e,
				Err:   ec.ErrMismatchedEventType,
			}
		}

		if e.Version() != a.v+1 {
			return &ec.ApplyEventError{
				Event: e,
				Err:   fmt.Errorf("%w: expected v%d", ec.ErrIncorrectEventVersion, a.v+1),
			}
		}

		if err := a.applier.ApplyEvent(ctx, e); err != nil {
			return &ec.ApplyEventError{
				Event: e,
				Err:   err,
			}
		}

		a.v++
	}

	return nil
}
