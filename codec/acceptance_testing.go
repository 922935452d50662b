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

// Package codec contains the acceptance test for event codecs.
package codec

import (
	"context"
	"testing"
	"time"

	"github.com/kr/pretty"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/uuid"
)

const (
	// EventType is a the type for Event.
	EventType ec.EventType = "CodecEvent"
)

// NewEventTypes returns a registry with the event types used by the acceptance test.
func NewEventTypes() *ec.EventTypes {
	types := mocks.NewEventTypes()
	types.MustRegister(EventType, func() ec.EventData { return &EventData{} }, mocks.BaseEventType)

	return types
}

// EventCodecAcceptanceTest is the acceptance test that all implementations of
// EventCodec should pass. It should manually be called from a test case in each
// implementation, the codec must use a registry from NewEventTypes:
//
//   func TestEventCodec(t *testing.T) {
//       c := NewEventCodec(codec.NewEventTypes())
//       expectedBytes = []byte("")
//       codec.EventCodecAcceptanceTest(t, c, expectedBytes)
//   }
//
// The encoded bytes are only compared when expectedBytes is not nil.
func EventCodecAcceptanceTest(t *testing.T, c ec.EventCodec, expectedBytes []byte) {
	t.Helper()

	// Marshaling.
	ctx := mocks.WithContextOne(context.Background(), "testval")
	id := uuid.MustParse("10a7ec0f-7f2b-46f5-bca1-877b6e33c9fd")
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	eventData := EventData{
		Bool:    true,
		String:  "string",
		Number:  42.0,
		Slice:   []string{"a", "b"},
		Map:     map[string]interface{}{"key": "value"}, // NOTE: Just one key to avoid compare issues.
		Time:    timestamp,
		TimeRef: &timestamp,
		Struct: Nested{
			Bool:   true,
			String: "string",
			Number: 42.0,
		},
		StructRef: &Nested{
			Bool:   true,
			String: "string",
			Number: 42.0,
		},
	}
	event := ec.NewEvent(EventType, &eventData, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 1),
		ec.WithMetadata(map[string]interface{}{"num": 42.0}), // NOTE: Just one key to avoid compare issues.
	)

	b, err := c.MarshalEvent(ctx, event)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if expectedBytes != nil && string(b) != string(expectedBytes) {
		t.Error("the encoded bytes should be correct:", string(b))
	}

	// Unmarshaling.
	decodedEvent, decodedContext, err := c.UnmarshalEvent(context.Background(), b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := mocks.CompareEvents(decodedEvent, event); err != nil {
		t.Error("the decoded event was incorrect:", err)
	}

	if !decodedEvent.Timestamp().Equal(timestamp) {
		t.Error("the decoded timestamp was incorrect:", decodedEvent.Timestamp())
	}

	if diff := pretty.Diff(decodedEvent.Metadata(), event.Metadata()); len(diff) > 0 {
		t.Error("the decoded metadata was incorrect:", diff)
	}

	if val, ok := mocks.ContextOne(decodedContext); !ok || val != "testval" {
		t.Error("the decoded context was incorrect:", decodedContext)
	}

	// Events without data.
	event = ec.NewEvent(mocks.EventOtherType, nil, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 2))

	if b, err = c.MarshalEvent(context.Background(), event); err != nil {
		t.Error("there should be no error:", err)
	}

	if decodedEvent, _, err = c.UnmarshalEvent(context.Background(), b); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := mocks.CompareEvents(decodedEvent, event); err != nil {
		t.Error("the decoded event was incorrect:", err)
	}

	// Unknown event data.
	event = ec.NewEvent("UnknownEvent", &EventData{}, timestamp,
		ec.ForAggregate(mocks.AggregateType, id, 3))

	if b, err = c.MarshalEvent(context.Background(), event); err != nil {
		t.Error("there should be no error:", err)
	}

	if _, _, err = c.UnmarshalEvent(context.Background(), b); err == nil {
		t.Error("there should be an error for unregistered event data")
	}
}

// EventData is a mocked event data, useful in testing.
type EventData struct {
	Bool       bool
	String     string
	Number     float64
	Slice      []string
	Map        map[string]interface{}
	Time       time.Time
	TimeRef    *time.Time
	NullTime   *time.Time
	Struct     Nested
	StructRef  *Nested
	NullStruct *Nested
}

// Nested is nested event data.
type Nested struct {
	Bool   bool
	String string
	Number float64
}
