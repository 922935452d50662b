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

package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/dispatch"
	"github.com/looplab/eventcore/uuid"
)

const (
	TestAggregateType ec.AggregateType = "TestAggregate"

	TestEvent      ec.EventType = "TestEvent"
	TestAddedEvent ec.EventType = "TestAdded"
	TestFailEvent  ec.EventType = "TestFail"
)

type TestEventData struct {
	Content string
}

var testTypes = func() *ec.EventTypes {
	types := ec.NewEventTypes()
	types.MustRegister(TestEvent, nil)
	types.MustRegister(TestAddedEvent, func() ec.EventData { return &TestEventData{} }, TestEvent)
	types.MustRegister(TestFailEvent, nil, TestEvent)

	return types
}()

var errApply = errors.New("apply error")

var testApplier = dispatch.MustNew(testTypes,
	dispatch.HandleData(TestAddedEvent, func(ctx context.Context, a *TestAggregate, e ec.Event, d *TestEventData) error {
		a.contents = append(a.contents, d.Content)

		return nil
	}),
	dispatch.Handle(TestFailEvent, func(ctx context.Context, a *TestAggregate, e ec.Event) error {
		return errApply
	}),
)

type TestAggregate struct {
	*AggregateBase

	contents []string
}

func NewTestAggregate(id uuid.UUID) *TestAggregate {
	a := &TestAggregate{}
	a.AggregateBase = NewAggregateBase(TestAggregateType, id, a)

	return a
}

func (a *TestAggregate) ApplyEvent(ctx context.Context, e ec.Event) error {
	return testApplier.Apply(ctx, a, e)
}

var _ = ec.Aggregate(&TestAggregate{})

func TestNewAggregateBase(t *testing.T) {
	id := uuid.New()
	agg := NewTestAggregate(id)

	assert.Equal(t, TestAggregateType, agg.AggregateType())
	assert.Equal(t, id, agg.EntityID())
	assert.Equal(t, 0, agg.AggregateVersion())
	assert.Equal(t, 0, agg.OriginalVersion())
	assert.Empty(t, agg.UncommittedEvents())
}

func TestAggregateBaseRaise(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	agg := NewTestAggregate(id)

	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return timestamp }

	e1, err := agg.Raise(ctx, TestAddedEvent, &TestEventData{"apple"},
		ec.WithMetadata(map[string]interface{}{"num": 1}))
	require.NoError(t, err)
	assert.Equal(t, TestAddedEvent, e1.EventType())
	assert.Equal(t, &TestEventData{"apple"}, e1.Data())
	assert.True(t, e1.Timestamp().Equal(timestamp))
	assert.Equal(t, TestAggregateType, e1.AggregateType())
	assert.Equal(t, id, e1.AggregateID())
	assert.Equal(t, 1, e1.Version())
	assert.Equal(t, map[string]interface{}{"num": 1}, e1.Metadata())

	e2, err := agg.Raise(ctx, TestAddedEvent, &TestEventData{"pear"})
	require.NoError(t, err)
	assert.Equal(t, 2, e2.Version())

	assert.Equal(t, []string{"apple", "pear"}, agg.contents)
	assert.Equal(t, 2, agg.AggregateVersion())
	assert.Equal(t, 0, agg.OriginalVersion())
	assert.Equal(t, []ec.Event{e1, e2}, agg.UncommittedEvents())

	agg.ClearUncommittedEvents()
	assert.Empty(t, agg.UncommittedEvents())
	assert.Equal(t, 2, agg.AggregateVersion())
	assert.Equal(t, 2, agg.OriginalVersion())

	e3, err := agg.Raise(ctx, TestAddedEvent, &TestEventData{"plum"})
	require.NoError(t, err)
	assert.Equal(t, 3, e3.Version())
	assert.Equal(t, 2, agg.OriginalVersion())
}

func TestAggregateBaseRaiseError(t *testing.T) {
	ctx := context.Background()
	agg := NewTestAggregate(uuid.New())

	_, err := agg.Raise(ctx, TestFailEvent, nil)
	assert.True(t, errors.Is(err, errApply))

	var applyErr *ec.ApplyEventError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, TestFailEvent, applyErr.Event.EventType())

	_, err = agg.Raise(ctx, "Unknown", nil)
	assert.True(t, errors.Is(err, dispatch.ErrNoHandlerFound))

	assert.Equal(t, 0, agg.AggregateVersion(), "failed events must not change the version")
	assert.Empty(t, agg.UncommittedEvents())

	base := NewAggregateBase(TestAggregateType, uuid.New(), nil)
	_, err = base.Raise(ctx, TestAddedEvent, nil)
	assert.Error(t, err)
}

func TestAggregateBaseLoadHistory(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	source := NewTestAggregate(id)
	for _, c := range []string{"apple", "pear", "plum"} {
		_, err := source.Raise(ctx, TestAddedEvent, &TestEventData{c})
		require.NoError(t, err)
	}

	history := source.UncommittedEvents()

	agg := NewTestAggregate(id)
	require.NoError(t, agg.LoadHistory(ctx, history))
	assert.Equal(t, 3, agg.AggregateVersion())
	assert.Equal(t, 3, agg.OriginalVersion())
	assert.Empty(t, agg.UncommittedEvents())

	// Replaying the same history gives the same state.
	again := NewTestAggregate(id)
	require.NoError(t, again.LoadHistory(ctx, history))

	if !assert.Equal(t, agg.contents, again.contents) {
		t.Log(pretty.Sprint(agg.contents), pretty.Sprint(again.contents))
	}

	assert.Equal(t, source.contents, agg.contents)
}

func TestAggregateBaseLoadHistoryErrors(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	data := &TestEventData{"apple"}

	testCases := map[string]struct {
		events []ec.Event
		err    error
	}{
		"version gap": {
			[]ec.Event{
				ec.NewEvent(TestAddedEvent, data, time.Now(), ec.ForAggregate(TestAggregateType, id, 2)),
			},
			ec.ErrIncorrectEventVersion,
		},
		"other aggregate type": {
			[]ec.Event{
				ec.NewEvent(TestAddedEvent, data, time.Now(), ec.ForAggregate("Other", id, 1)),
			},
			ec.ErrMismatchedEventType,
		},
		"other aggregate id": {
			[]ec.Event{
				ec.NewEvent(TestAddedEvent, data, time.Now(), ec.ForAggregate(TestAggregateType, uuid.New(), 1)),
			},
			ec.ErrMismatchedEventType,
		},
		"apply error": {
			[]ec.Event{
				ec.NewEvent(TestAddedEvent, data, time.Now(), ec.ForAggregate(TestAggregateType, id, 1)),
				ec.NewEvent(TestFailEvent, nil, time.Now(), ec.ForAggregate(TestAggregateType, id, 2)),
			},
			errApply,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			agg := NewTestAggregate(id)
			err := agg.LoadHistory(ctx, tc.events)
			assert.True(t, errors.Is(err, tc.err), "unexpected error: %v", err)

			var applyErr *ec.ApplyEventError
			assert.True(t, errors.As(err, &applyErr))
		})
	}
}
