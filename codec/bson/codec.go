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

// Package bson provides an event codec using the BSON format.
package bson

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

// EventCodec is a codec for marshaling and unmarshaling events
// to and from bytes in BSON format.
type EventCodec struct {
	types *ec.EventTypes
}

var _ = ec.EventCodec(&EventCodec{})

// NewEventCodec creates a codec that creates event data from types.
func NewEventCodec(types *ec.EventTypes) *EventCodec {
	return &EventCodec{
		types: types,
	}
}

// MarshalEvent marshals an event into bytes in BSON format.
func (c *EventCodec) MarshalEvent(ctx context.Context, event ec.Event) ([]byte, error) {
	e := evt{
		EventType:     event.EventType(),
		Timestamp:     event.Timestamp(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID().String(),
		Version:       event.Version(),
		Metadata:      event.Metadata(),
		Context:       ec.MarshalContext(ctx),
	}

	// Marshal event data if there is any.
	if event.Data() != nil {
		var err error
		if e.RawData, err = bson.Marshal(event.Data()); err != nil {
			return nil, fmt.Errorf("could not marshal event data: %w", err)
		}
	}

	b, err := bson.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("could not marshal event: %w", err)
	}

	return b, nil
}

// UnmarshalEvent unmarshals an event from bytes in BSON format.
func (c *EventCodec) UnmarshalEvent(ctx context.Context, b []byte) (ec.Event, context.Context, error) {
	var e evt
	if err := bson.Unmarshal(b, &e); err != nil {
		return nil, nil, fmt.Errorf("could not unmarshal event: %w", err)
	}

	// Create an event of the correct type and decode from raw BSON.
	var data ec.EventData

	if len(e.RawData) > 0 {
		if c.types == nil {
			return nil, nil, fmt.Errorf("could not create event data: %w: %s", ec.ErrEventDataNotRegistered, e.EventType)
		}

		var err error
		if data, err = c.types.CreateEventData(e.EventType); err != nil {
			return nil, nil, fmt.Errorf("could not create event data: %w", err)
		}

		if err := bson.Unmarshal(e.RawData, data); err != nil {
			return nil, nil, fmt.Errorf("could not unmarshal event data: %w", err)
		}
	}

	aggregateID, err := uuid.Parse(e.AggregateID)
	if err != nil {
		aggregateID = uuid.Nil
	}

	event := ec.NewEvent(
		e.EventType,
		data,
		e.Timestamp,
		ec.ForAggregate(
			e.AggregateType,
			aggregateID,
			e.Version,
		),
		ec.WithMetadata(e.Metadata),
	)

	ctx = ec.UnmarshalContext(ctx, e.Context)

	return event, ctx, nil
}

// evt is the internal event used on the wire only.
type evt struct {
	EventType     ec.EventType           `bson:"event_type"`
	RawData       bson.Raw               `bson:"data,omitempty"`
	Timestamp     time.Time              `bson:"timestamp"`
	AggregateType ec.AggregateType       `bson:"aggregate_type"`
	AggregateID   string                 `bson:"_id"`
	Version       int                    `bson:"version"`
	Metadata      map[string]interface{} `bson:"metadata"`
	Context       map[string]interface{} `bson:"context"`
}
