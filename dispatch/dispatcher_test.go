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

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

const (
	baseEvent       ec.EventType = "Base"
	childEvent      ec.EventType = "Child"
	grandChildEvent ec.EventType = "GrandChild"
	taggedEvent     ec.EventType = "Tagged"
	auditedEvent    ec.EventType = "Audited"
	multiEvent      ec.EventType = "Multi"
	diamondEvent    ec.EventType = "Diamond"
	unrelatedEvent  ec.EventType = "Unrelated"
)

type eventData struct {
	Content string
}

// Base <- Child <- GrandChild, Tagged + Audited <- Multi, Child + Multi <- Diamond.
func testTypes(t *testing.T) *ec.EventTypes {
	t.Helper()

	types := ec.NewEventTypes()
	require.NoError(t, types.Register(baseEvent, nil))
	require.NoError(t, types.Register(childEvent, func() ec.EventData { return &eventData{} }, baseEvent))
	require.NoError(t, types.Register(grandChildEvent, func() ec.EventData { return &eventData{} }, childEvent))
	require.NoError(t, types.Register(taggedEvent, nil))
	require.NoError(t, types.Register(auditedEvent, nil))
	require.NoError(t, types.Register(multiEvent, func() ec.EventData { return &eventData{} }, taggedEvent, auditedEvent))
	require.NoError(t, types.Register(diamondEvent, nil, childEvent, multiEvent))
	require.NoError(t, types.Register(unrelatedEvent, nil))

	return types
}

type target struct {
	mu    sync.Mutex
	calls []ec.EventType
}

func (t *target) record(name ec.EventType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, name)
}

func recordAs(name ec.EventType) HandlerFunc[*target] {
	return func(ctx context.Context, t *target, e ec.Event) error {
		t.record(name)

		return nil
	}
}

func newEvent(t ec.EventType) ec.Event {
	return ec.NewEvent(t, &eventData{Content: "content"}, time.Now(),
		ec.ForAggregate("Aggregate", uuid.New(), 1))
}

func TestDispatcherExactMatch(t *testing.T) {
	d, err := New(testTypes(t),
		Handle(childEvent, recordAs(childEvent)),
		Handle(baseEvent, recordAs(baseEvent)),
	)
	require.NoError(t, err)

	tgt := &target{}
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(childEvent)))
	assert.Equal(t, []ec.EventType{childEvent}, tgt.calls)
}

func TestDispatcherAncestorMatch(t *testing.T) {
	d, err := New(testTypes(t),
		Handle(baseEvent, recordAs(baseEvent)),
	)
	require.NoError(t, err)

	tgt := &target{}
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(grandChildEvent)))
	assert.Equal(t, []ec.EventType{baseEvent}, tgt.calls)
}

func TestDispatcherMostSpecificAncestor(t *testing.T) {
	d, err := New(testTypes(t),
		Handle(baseEvent, recordAs(baseEvent)),
		Handle(childEvent, recordAs(childEvent)),
	)
	require.NoError(t, err)

	tgt := &target{}
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(grandChildEvent)))
	assert.Equal(t, []ec.EventType{childEvent}, tgt.calls)

	matched, err := d.Resolve(grandChildEvent)
	require.NoError(t, err)
	assert.Equal(t, childEvent, matched)
}

func TestDispatcherAmbiguousAncestors(t *testing.T) {
	d, err := New(testTypes(t),
		Handle(taggedEvent, recordAs(taggedEvent)),
		Handle(auditedEvent, recordAs(auditedEvent)),
		HandleAny(recordAs(ec.AnyEventType)),
	)
	require.NoError(t, err)

	tgt := &target{}
	err = d.Apply(context.Background(), tgt, newEvent(multiEvent))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousHandler))

	var ambErr *AmbiguousHandlerError
	require.True(t, errors.As(err, &ambErr))
	assert.Equal(t, "*dispatch.target", ambErr.TargetType)
	assert.Equal(t, multiEvent, ambErr.EventType)
	assert.Equal(t, []ec.EventType{auditedEvent, taggedEvent}, ambErr.Candidates)
	assert.Empty(t, tgt.calls, "no handler should be invoked")

	// A more specific handler takes precedence over the ambiguous level.
	d, err = New(testTypes(t),
		Handle(taggedEvent, recordAs(taggedEvent)),
		Handle(auditedEvent, recordAs(auditedEvent)),
		Handle(multiEvent, recordAs(multiEvent)),
	)
	require.NoError(t, err)
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(multiEvent)))
	assert.Equal(t, []ec.EventType{multiEvent}, tgt.calls)
}

func TestDispatcherAmbiguousAcrossBranches(t *testing.T) {
	// Child and Multi are both direct parents of Diamond.
	d, err := New(testTypes(t),
		Handle(childEvent, recordAs(childEvent)),
		Handle(multiEvent, recordAs(multiEvent)),
	)
	require.NoError(t, err)

	_, err = d.Resolve(diamondEvent)
	assert.True(t, errors.Is(err, ErrAmbiguousHandler))

	// Child is found on the first level of ancestors, before Base.
	d, err = New(testTypes(t),
		Handle(baseEvent, recordAs(baseEvent)),
		Handle(childEvent, recordAs(childEvent)),
	)
	require.NoError(t, err)

	matched, err := d.Resolve(diamondEvent)
	require.NoError(t, err)
	assert.Equal(t, childEvent, matched)
}

func TestDispatcherRedundantParent(t *testing.T) {
	// Specific extends General, Event lists both as parents.
	types := ec.NewEventTypes()
	require.NoError(t, types.Register("General", nil))
	require.NoError(t, types.Register("Specific", nil, "General"))
	require.NoError(t, types.Register("Event", nil, "Specific", "General"))

	d, err := New(types,
		Handle("General", recordAs("General")),
		Handle("Specific", recordAs("Specific")),
	)
	require.NoError(t, err)

	tgt := &target{}
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent("Event")))
	assert.Equal(t, []ec.EventType{"Specific"}, tgt.calls)
}

func TestDispatcherDescendantOnDeeperLevel(t *testing.T) {
	// Event has parents Root and Middle, Middle extends Inner which extends
	// Root. Inner is two levels away but more specific than Root.
	types := ec.NewEventTypes()
	require.NoError(t, types.Register("Root", nil))
	require.NoError(t, types.Register("Inner", nil, "Root"))
	require.NoError(t, types.Register("Middle", nil, "Inner"))
	require.NoError(t, types.Register("Event", nil, "Root", "Middle"))

	d, err := New(types,
		Handle("Root", recordAs("Root")),
		Handle("Inner", recordAs("Inner")),
	)
	require.NoError(t, err)

	matched, err := d.Resolve("Event")
	require.NoError(t, err)
	assert.Equal(t, ec.EventType("Inner"), matched)
}

func TestDispatcherFallback(t *testing.T) {
	d, err := New(testTypes(t),
		Handle(baseEvent, recordAs(baseEvent)),
		HandleAny(recordAs(ec.AnyEventType)),
	)
	require.NoError(t, err)

	tgt := &target{}
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(unrelatedEvent)))
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent("NotRegistered")))
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(childEvent)))
	assert.Equal(t, []ec.EventType{ec.AnyEventType, ec.AnyEventType, baseEvent}, tgt.calls)

	// Registering AnyEventType is the same as HandleAny.
	d, err = New(testTypes(t), Handle(ec.AnyEventType, recordAs("any")))
	require.NoError(t, err)

	matched, err := d.Resolve(unrelatedEvent)
	require.NoError(t, err)
	assert.Equal(t, ec.AnyEventType, matched)
}

func TestDispatcherNoHandlerFound(t *testing.T) {
	d, err := New(testTypes(t),
		Handle(taggedEvent, recordAs(taggedEvent)),
	)
	require.NoError(t, err)

	tgt := &target{}
	err = d.Apply(context.Background(), tgt, newEvent(grandChildEvent))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoHandlerFound))

	var nhErr *NoHandlerFoundError
	require.True(t, errors.As(err, &nhErr))
	assert.Equal(t, "*dispatch.target", nhErr.TargetType)
	assert.Equal(t, grandChildEvent, nhErr.EventType)
	assert.EqualError(t, err, "no handler found for GrandChild on *dispatch.target")

	err = d.Apply(context.Background(), tgt, nil)
	assert.True(t, errors.Is(err, ErrMissingEvent))
	assert.Empty(t, tgt.calls)
}

func TestDispatcherWithoutHierarchy(t *testing.T) {
	d, err := New[*target](nil,
		Handle(baseEvent, recordAs(baseEvent)),
	)
	require.NoError(t, err)

	tgt := &target{}
	require.NoError(t, d.Apply(context.Background(), tgt, newEvent(baseEvent)))
	assert.True(t, errors.Is(d.Apply(context.Background(), tgt, newEvent(childEvent)), ErrNoHandlerFound))
}

func TestDispatcherHandlerError(t *testing.T) {
	handlerErr := errors.New("handler error")
	d, err := New(testTypes(t),
		Handle(childEvent, func(ctx context.Context, t *target, e ec.Event) error {
			return handlerErr
		}),
	)
	require.NoError(t, err)

	err = d.Apply(context.Background(), &target{}, newEvent(childEvent))
	assert.Equal(t, handlerErr, err)
}

func TestDispatcherHandleData(t *testing.T) {
	var got string

	d, err := New(testTypes(t),
		HandleData(childEvent, func(ctx context.Context, t *target, e ec.Event, data *eventData) error {
			got = data.Content

			return nil
		}),
	)
	require.NoError(t, err)

	require.NoError(t, d.Apply(context.Background(), &target{}, newEvent(childEvent)))
	assert.Equal(t, "content", got)

	wrong := ec.NewEvent(childEvent, "not a pointer", time.Now())
	err = d.Apply(context.Background(), &target{}, wrong)
	assert.True(t, errors.Is(err, ErrUnexpectedEventData))
}

func TestDispatcherRegistrationErrors(t *testing.T) {
	_, err := New(testTypes(t),
		Handle(childEvent, recordAs(childEvent)),
		Handle(childEvent, recordAs(childEvent)),
	)
	assert.True(t, errors.Is(err, ErrHandlerAlreadySet))

	_, err = New(testTypes(t),
		HandleAny(recordAs(ec.AnyEventType)),
		HandleAny(recordAs(ec.AnyEventType)),
	)
	assert.True(t, errors.Is(err, ErrHandlerAlreadySet))

	_, err = New(testTypes(t), Handle[*target](childEvent, nil))
	assert.True(t, errors.Is(err, ec.ErrMissingHandler))

	_, err = New(testTypes(t), Handle("", recordAs("")))
	assert.True(t, errors.Is(err, ec.ErrMissingEventType))

	assert.Panics(t, func() {
		MustNew(testTypes(t), HandleAny[*target](nil))
	})
}

func TestDispatcherConcurrentApply(t *testing.T) {
	var applied int64

	count := func(ctx context.Context, t *target, e ec.Event) error {
		atomic.AddInt64(&applied, 1)

		return nil
	}

	d, err := New(testTypes(t),
		Handle(baseEvent, count),
		Handle(taggedEvent, count),
	)
	require.NoError(t, err)

	shared := &target{}
	events := []ec.EventType{childEvent, grandChildEvent, multiEvent, baseEvent}

	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			tgt := shared
			if i%2 == 0 {
				tgt = &target{}
			}

			for _, et := range events {
				if err := d.Apply(context.Background(), tgt, newEvent(et)); err != nil {
					t.Error("there should be no error:", err)
				}
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int64(100*len(events)), atomic.LoadInt64(&applied))

	// Every goroutine must have seen the same resolution.
	for _, et := range events {
		first, err := d.Resolve(et)
		require.NoError(t, err)

		again, err := d.Resolve(et)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
