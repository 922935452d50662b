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

package commandhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/eventbus/local"
	"github.com/looplab/eventcore/eventstore/memory"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/repository"
	"github.com/looplab/eventcore/uuid"
)

func newRepository(t *testing.T) (*repository.Repository[*mocks.Aggregate], ec.EventStore) {
	t.Helper()

	store, err := memory.NewEventStore()
	require.NoError(t, err)

	bus, err := local.NewEventBus()
	require.NoError(t, err)

	repo, err := repository.New(store, bus, mocks.NewAggregate)
	require.NoError(t, err)

	return repo, store
}

func raise(content string) Func[*mocks.Aggregate] {
	return func(ctx context.Context, a *mocks.Aggregate) error {
		_, err := a.Raise(ctx, mocks.EventType, &mocks.EventData{Content: content})

		return err
	}
}

// competingWrite stores an event for the aggregate outside of the handler.
func competingWrite(t *testing.T, repo *repository.Repository[*mocks.Aggregate], id uuid.UUID) {
	ctx := context.Background()

	a, err := repo.Retrieve(ctx, id)
	if errors.Is(err, ec.ErrAggregateNotFound) {
		a, err = repo.Create(id), nil
	}

	require.NoError(t, err)
	require.NoError(t, raise("competing")(ctx, a))
	require.NoError(t, repo.Store(ctx, a))
}

func TestNew(t *testing.T) {
	_, err := New[*mocks.Aggregate](nil)
	assert.Equal(t, ErrNilRepository, err)

	repo, _ := newRepository(t)

	_, err = New[*mocks.Aggregate](repo, WithRetries(-1))
	assert.Error(t, err)

	_, err = New[*mocks.Aggregate](repo, WithBackoff(time.Second, time.Millisecond))
	assert.Error(t, err)

	_, err = New[*mocks.Aggregate](repo, WithLogger(nil))
	assert.Error(t, err)
}

func TestCommandHandlerCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)

	h, err := New[*mocks.Aggregate](repo)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, h.Handle(ctx, id, raise("first")))
	require.NoError(t, h.HandleExisting(ctx, id, raise("second")))

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, &mocks.EventData{Content: "second"}, events[1].Data())

	err = h.HandleExisting(ctx, uuid.New(), raise("missing"))
	assert.True(t, errors.Is(err, ec.ErrAggregateNotFound))
}

func TestCommandHandlerRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)

	h, err := New[*mocks.Aggregate](repo, WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, h.Handle(ctx, id, raise("first")))

	attempts := 0
	err = h.Handle(ctx, id, func(ctx context.Context, a *mocks.Aggregate) error {
		attempts++

		if attempts == 1 {
			competingWrite(t, repo, id)
		}

		return raise("retried")(ctx, a)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, &mocks.EventData{Content: "competing"}, events[1].Data())
	assert.Equal(t, &mocks.EventData{Content: "retried"}, events[2].Data())
}

func TestCommandHandlerGivesUp(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)

	h, err := New[*mocks.Aggregate](repo,
		WithRetries(1),
		WithBackoff(time.Millisecond, time.Millisecond),
	)
	require.NoError(t, err)

	id := uuid.New()
	attempts := 0
	err = h.Handle(ctx, id, func(ctx context.Context, a *mocks.Aggregate) error {
		attempts++
		competingWrite(t, repo, id)

		return raise("lost")(ctx, a)
	})

	assert.True(t, errors.Is(err, ec.ErrConcurrentSave))
	assert.Equal(t, 2, attempts)

	var concurrencyErr *ec.ConcurrencyError
	require.True(t, errors.As(err, &concurrencyErr))
	assert.Equal(t, 1, concurrencyErr.Expected)
	assert.Equal(t, 2, concurrencyErr.Actual)

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, events, 2, "only the competing events should be stored")
}

func TestCommandHandlerErrors(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t)

	h, err := New[*mocks.Aggregate](repo, WithBackoff(time.Hour, time.Hour))
	require.NoError(t, err)

	behaviorErr := errors.New("behavior error")
	attempts := 0
	err = h.Handle(ctx, uuid.New(), func(ctx context.Context, a *mocks.Aggregate) error {
		attempts++

		return behaviorErr
	})
	assert.Equal(t, behaviorErr, err)
	assert.Equal(t, 1, attempts)

	// The context is honored while waiting to retry.
	id := uuid.New()
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err = h.Handle(ctx, id, func(ctx context.Context, a *mocks.Aggregate) error {
		competingWrite(t, repo, id)

		return raise("lost")(ctx, a)
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ec.ErrConcurrentSave))
}

func TestCommandHandlerNoRetryAfterPublish(t *testing.T) {
	ctx := context.Background()

	store, err := memory.NewEventStore()
	require.NoError(t, err)

	bus := &mocks.EventBus{
		Err: &ec.ConcurrencyError{AggregateID: uuid.New(), Expected: 1, Actual: 2},
	}

	repo, err := repository.New(store, bus, mocks.NewAggregate)
	require.NoError(t, err)

	h, err := New[*mocks.Aggregate](repo, WithBackoff(time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	attempts := 0
	err = h.Handle(ctx, uuid.New(), func(ctx context.Context, a *mocks.Aggregate) error {
		attempts++

		return raise("published")(ctx, a)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
