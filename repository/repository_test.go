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

package repository

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
	"github.com/looplab/eventcore/eventbus/local"
	"github.com/looplab/eventcore/eventstore/memory"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/uuid"
)

func newRepository(t *testing.T, options ...Option) (*Repository[*mocks.Aggregate], ec.EventStore, *mocks.EventHandler) {
	t.Helper()

	store, err := memory.NewEventStore(memory.WithEventTypes(mocks.NewEventTypes()))
	require.NoError(t, err)

	bus, err := local.NewEventBus()
	require.NoError(t, err)

	handler := mocks.NewEventHandler("observer")
	require.NoError(t, bus.Subscribe(mocks.EventType, handler))

	repo, err := New(store, bus, mocks.NewAggregate, options...)
	require.NoError(t, err)

	return repo, store, handler
}

func TestNew(t *testing.T) {
	store := &mocks.EventStore{}
	bus := &mocks.EventBus{}

	_, err := New(nil, bus, mocks.NewAggregate)
	assert.Equal(t, ErrInvalidEventStore, err)

	_, err = New(store, nil, mocks.NewAggregate)
	assert.Equal(t, ErrInvalidEventBus, err)

	_, err = New[*mocks.Aggregate](store, bus, nil)
	assert.Equal(t, ErrInvalidFactory, err)

	_, err = New(store, bus, mocks.NewAggregate, WithLogger(nil))
	assert.Error(t, err)

	_, err = New(store, bus, mocks.NewAggregate, WithMetrics(nil))
	assert.Error(t, err)

	repo, err := New(store, bus, mocks.NewAggregate)
	require.NoError(t, err)

	id := uuid.New()
	agg := repo.Create(id)
	assert.Equal(t, id, agg.EntityID())
	assert.Equal(t, 0, agg.AggregateVersion())
}

func TestRepositoryStoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	repo, _, handler := newRepository(t)

	id := uuid.New()
	agg := repo.Create(id)

	e1, err := agg.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "apple"})
	require.NoError(t, err)
	e2, err := agg.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "pear"})
	require.NoError(t, err)

	require.NoError(t, repo.Store(ctx, agg))
	assert.Empty(t, agg.UncommittedEvents())
	assert.Equal(t, 2, agg.AggregateVersion())
	assert.Equal(t, 2, agg.OriginalVersion())

	// Publish is blocking, the events are handled when Store returns.
	assert.NoError(t, mocks.CompareEventLists(handler.HandledEvents(), []ec.Event{e1, e2}))

	loaded, err := repo.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.AggregateVersion())
	assert.Equal(t, 2, loaded.OriginalVersion())
	assert.Empty(t, loaded.UncommittedEvents())
	assert.NoError(t, mocks.CompareEventLists(loaded.Applied, []ec.Event{e1, e2}))

	// Storing without changes does nothing.
	handler.Reset()
	require.NoError(t, repo.Store(ctx, loaded))
	assert.Empty(t, handler.HandledEvents())
}

func TestRepositoryConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	repo1, store, handler := newRepository(t)

	bus, err := local.NewEventBus()
	require.NoError(t, err)

	repo2, err := New(store, bus, mocks.NewAggregate)
	require.NoError(t, err)

	id := uuid.New()

	// Both writers start from version 0.
	agg1 := repo1.Create(id)
	agg2 := repo2.Create(id)

	_, err = agg1.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "apple"})
	require.NoError(t, err)
	require.NoError(t, repo1.Store(ctx, agg1))

	stored, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	codec := json.NewEventCodec(mocks.NewEventTypes())
	before := marshalEvents(t, codec, stored)

	pending, err := agg2.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "pear"})
	require.NoError(t, err)

	err = repo2.Store(ctx, agg2)
	require.Error(t, err)

	var concurrencyErr *ec.ConcurrencyError
	require.True(t, errors.As(err, &concurrencyErr))
	assert.Equal(t, id, concurrencyErr.AggregateID)
	assert.Equal(t, 0, concurrencyErr.Expected)
	assert.Equal(t, 1, concurrencyErr.Actual)

	var repoErr *RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.Equal(t, RepositoryOpStore, repoErr.Op)

	// Nothing was written and nothing was published.
	stored, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, marshalEvents(t, codec, stored))
	assert.Len(t, handler.HandledEvents(), 1)

	// The failed writer keeps its events for a retry.
	assert.Equal(t, []ec.Event{pending}, agg2.UncommittedEvents())
	assert.Equal(t, 1, agg2.AggregateVersion())

	// Reload and retry.
	agg2, err = repo2.Retrieve(ctx, id)
	require.NoError(t, err)
	_, err = agg2.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "pear"})
	require.NoError(t, err)
	require.NoError(t, repo2.Store(ctx, agg2))

	stored, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRepositoryParallelStores(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepository(t)

	id := uuid.New()
	agg := repo.Create(id)
	_, err := agg.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "first"})
	require.NoError(t, err)
	require.NoError(t, repo.Store(ctx, agg))

	const writers = 10

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		stored    int
		conflicts int
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			a, err := repo.Retrieve(ctx, id)
			if err != nil {
				t.Error("there should be no error:", err)

				return
			}

			if _, err := a.Raise(ctx, mocks.EventOtherType, nil); err != nil {
				t.Error("there should be no error:", err)

				return
			}

			err = repo.Store(ctx, a)

			mu.Lock()
			defer mu.Unlock()

			if errors.Is(err, ec.ErrConcurrentSave) {
				conflicts++
			} else if err == nil {
				stored++
			} else {
				t.Error("unexpected error:", err)
			}
		}()
	}

	wg.Wait()

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1+stored, len(events))
	assert.Equal(t, writers, stored+conflicts)

	for i, e := range events {
		assert.Equal(t, i+1, e.Version(), "versions must not have gaps or duplicates")
	}
}

func TestRepositoryRetrieveErrors(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepository(t)

	_, err := repo.Retrieve(ctx, uuid.New())
	assert.True(t, errors.Is(err, ec.ErrAggregateNotFound))

	var repoErr *RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.Equal(t, RepositoryOpRetrieve, repoErr.Op)

	// Events that can't be applied.
	id := uuid.New()
	require.NoError(t, store.Save(ctx, []ec.Event{
		ec.NewEvent(mocks.EventType, &mocks.EventData{Content: "event"}, time.Now(),
			ec.ForAggregate(mocks.AggregateType, id, 1)),
	}, 0))

	applyErr := errors.New("apply error")
	failing, err := New(store, &mocks.EventBus{}, func(id uuid.UUID) *mocks.Aggregate {
		a := mocks.NewAggregate(id)
		a.Err = applyErr

		return a
	})
	require.NoError(t, err)

	agg, err := failing.Retrieve(ctx, id)
	assert.Nil(t, agg)
	assert.True(t, errors.Is(err, applyErr))

	// A factory that ignores the ID.
	wrongID, err := New(store, &mocks.EventBus{}, func(uuid.UUID) *mocks.Aggregate {
		return mocks.NewAggregate(uuid.New())
	})
	require.NoError(t, err)

	_, err = wrongID.Retrieve(ctx, id)
	assert.True(t, errors.Is(err, ErrMismatchedAggregateID))

	// Store errors are passed on.
	storeErr := errors.New("store error")
	broken, err := New(&mocks.EventStore{Err: storeErr}, &mocks.EventBus{}, mocks.NewAggregate)
	require.NoError(t, err)

	_, err = broken.Retrieve(ctx, id)
	assert.True(t, errors.Is(err, storeErr))
}

func TestRepositoryPublishErrors(t *testing.T) {
	ctx := context.Background()

	var logs bytes.Buffer

	store := &mocks.EventStore{}
	publishErr := errors.New("publish error")
	bus := &mocks.EventBus{
		ErrFor: map[ec.EventType]error{mocks.EventOtherType: publishErr},
	}

	repo, err := New(store, bus, mocks.NewAggregate,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	agg := repo.Create(uuid.New())

	for _, et := range []ec.EventType{mocks.EventType, mocks.EventOtherType, mocks.EventType, mocks.EventOtherType} {
		_, err := agg.Raise(ctx, et, nil)
		require.NoError(t, err)
	}

	err = repo.Store(ctx, agg)

	var repoErr *RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.Equal(t, RepositoryOpPublish, repoErr.Op)
	assert.True(t, errors.Is(err, publishErr))

	// Every event was stored and all of them were attempted.
	assert.Len(t, store.Events, 4)
	assert.Len(t, bus.PublishedEvents(), 2)
	assert.Empty(t, agg.UncommittedEvents())
	assert.Contains(t, logs.String(), "could not publish event")

	// Store failures keep the events.
	store.Err = errors.New("store error")
	_, err = agg.Raise(ctx, mocks.EventType, nil)
	require.NoError(t, err)

	err = repo.Store(ctx, agg)
	assert.True(t, errors.Is(err, store.Err))
	assert.Len(t, agg.UncommittedEvents(), 1)

	// No events, no save.
	agg = repo.Create(uuid.New())
	assert.NoError(t, repo.Store(ctx, agg))
}

type testMetrics struct {
	retrieves []error
	stores    []int
}

func (m *testMetrics) ObserveRetrieve(at ec.AggregateType, d time.Duration, err error) {
	m.retrieves = append(m.retrieves, err)
}

func (m *testMetrics) ObserveStore(at ec.AggregateType, events int, d time.Duration, err error) {
	m.stores = append(m.stores, events)
}

func TestRepositoryMetrics(t *testing.T) {
	ctx := context.Background()
	m := &testMetrics{}
	repo, _, _ := newRepository(t, WithMetrics(m))

	agg := repo.Create(uuid.New())
	_, err := agg.Raise(ctx, mocks.EventType, &mocks.EventData{Content: "event"})
	require.NoError(t, err)
	require.NoError(t, repo.Store(ctx, agg))
	require.NoError(t, repo.Store(ctx, agg))

	_, err = repo.Retrieve(ctx, agg.EntityID())
	require.NoError(t, err)
	_, err = repo.Retrieve(ctx, uuid.New())
	require.Error(t, err)

	assert.Equal(t, []int{1}, m.stores)
	require.Len(t, m.retrieves, 2)
	assert.NoError(t, m.retrieves[0])
	assert.Error(t, m.retrieves[1])
}

func marshalEvents(t *testing.T, c ec.EventCodec, events []ec.Event) [][]byte {
	t.Helper()

	var out [][]byte

	for _, e := range events {
		b, err := c.MarshalEvent(context.Background(), e)
		require.NoError(t, err)

		out = append(out, b)
	}

	return out
}
