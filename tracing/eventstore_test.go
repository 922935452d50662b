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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/eventstore"
	"github.com/looplab/eventcore/eventstore/memory"
	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/uuid"
)

func TestEventStore(t *testing.T) {
	tracer := newTracer(t)

	innerStore, err := memory.NewEventStore(memory.WithEventTypes(mocks.NewEventTypes()))
	require.NoError(t, err)

	store := NewEventStore(innerStore)
	require.NotNil(t, store)

	eventstore.AcceptanceTest(t, store, context.Background())

	tracer.Reset()

	_, err = store.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ec.ErrAggregateNotFound)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "EventStore.Load", spans[0].OperationName)
	assert.Equal(t, true, spans[0].Tag("error"))

	assert.Nil(t, NewEventStore(nil))
}

func TestEventStoreConflictSpan(t *testing.T) {
	tracer := newTracer(t)

	innerStore, err := memory.NewEventStore()
	require.NoError(t, err)

	store := NewEventStore(innerStore)

	id := uuid.New()
	event := func(v int) ec.Event {
		return ec.NewEvent(mocks.EventType, nil, time.Now(), ec.ForAggregate(mocks.AggregateType, id, v))
	}

	require.NoError(t, store.Save(context.Background(), []ec.Event{event(1)}, 0))

	err = store.Save(context.Background(), []ec.Event{event(1)}, 0)
	require.ErrorIs(t, err, ec.ErrConcurrentSave)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)

	sp := spans[1]
	assert.Equal(t, "EventStore.Save", sp.OperationName)
	assert.Equal(t, true, sp.Tag("error"))
	assert.Equal(t, true, sp.Tag("ec.conflict"))
	assert.Equal(t, 0, sp.Tag("ec.expected_version"))
	assert.Equal(t, 1, sp.Tag("ec.actual_version"))
	assert.Equal(t, 1, sp.Tag("ec.events"))
}
