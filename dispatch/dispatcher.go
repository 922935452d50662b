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

// Package dispatch implements double dispatch of events: the handler invoked
// is selected from both the target it is applied to and the runtime type of
// the event, walking up the event type hierarchy when needed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	ec "github.com/looplab/eventcore"
)

var (
	// ErrNoHandlerFound is matched by every *NoHandlerFoundError.
	ErrNoHandlerFound = errors.New("no handler found")
	// ErrAmbiguousHandler is matched by every *AmbiguousHandlerError.
	ErrAmbiguousHandler = errors.New("ambiguous handler")
	// ErrHandlerAlreadySet is when two handlers are registered for the same type.
	ErrHandlerAlreadySet = errors.New("handler already set")
	// ErrMissingEvent is when applying a nil event.
	ErrMissingEvent = errors.New("missing event")
	// ErrUnexpectedEventData is when the data of an event is not of the type
	// expected by a handler registered with HandleData.
	ErrUnexpectedEventData = errors.New("unexpected event data")
)

// NoHandlerFoundError is when neither the event type, any of its ancestors nor
// a fallback has a handler on the target.
type NoHandlerFoundError struct {
	TargetType string
	EventType  ec.EventType
}

// Error implements the Error method of the errors.Error interface.
func (e *NoHandlerFoundError) Error() string {
	return fmt.Sprintf("no handler found for %s on %s", e.EventType, e.TargetType)
}

// Is makes errors.Is(err, ErrNoHandlerFound) true.
func (e *NoHandlerFoundError) Is(target error) bool {
	return target == ErrNoHandlerFound
}

// AmbiguousHandlerError is when more than one handler is equally specific for
// an event type. The dispatcher never picks one of them.
type AmbiguousHandlerError struct {
	TargetType string
	EventType  ec.EventType
	// Candidates are the equally specific handled types, sorted.
	Candidates []ec.EventType
}

// Error implements the Error method of the errors.Error interface.
func (e *AmbiguousHandlerError) Error() string {
	cs := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		cs[i] = string(c)
	}

	return fmt.Sprintf("ambiguous handler for %s on %s: %s",
		e.EventType, e.TargetType, strings.Join(cs, ", "))
}

// Is makes errors.Is(err, ErrAmbiguousHandler) true.
func (e *AmbiguousHandlerError) Is(target error) bool {
	return target == ErrAmbiguousHandler
}

// HandlerFunc applies an event to a target.
type HandlerFunc[T any] func(ctx context.Context, target T, event ec.Event) error

// Dispatcher is a dispatch table for one target type. It is built once with
// New and is read-only afterwards; Apply is safe for concurrent use.
//
// A typical aggregate keeps one dispatcher for applying its events:
//   var orderApplier = dispatch.MustNew(types,
//       dispatch.HandleData(ItemAddedEvent, func(ctx context.Context, o *Order, e ec.Event, d *ItemAddedData) error {
//           o.items = append(o.items, d.Name)
//           return nil
//       }),
//   )
//
//   func (o *Order) ApplyEvent(ctx context.Context, e ec.Event) error {
//       return orderApplier.Apply(ctx, o, e)
//   }
type Dispatcher[T any] struct {
	types    *ec.EventTypes
	handlers map[ec.EventType]HandlerFunc[T]
	fallback HandlerFunc[T]

	// Resolutions of registered event types, never changed once stored.
	resolved sync.Map
	group    singleflight.Group
}

// Option is an option setter used when creating a Dispatcher.
type Option[T any] func(*Dispatcher[T]) error

// Handle registers a handler for an event type. Registering AnyEventType is
// the same as HandleAny.
func Handle[T any](t ec.EventType, h HandlerFunc[T]) Option[T] {
	return func(d *Dispatcher[T]) error {
		if h == nil {
			return ec.ErrMissingHandler
		}

		if t == "" {
			return ec.ErrMissingEventType
		}

		if t == ec.AnyEventType {
			return HandleAny(h)(d)
		}

		if _, ok := d.handlers[t]; ok {
			return fmt.Errorf("%w: %s", ErrHandlerAlreadySet, t)
		}

		d.handlers[t] = h

		return nil
	}
}

// HandleData registers a handler for an event type that also receives the
// event data asserted to D.
func HandleData[T any, D any](t ec.EventType, h func(context.Context, T, ec.Event, D) error) Option[T] {
	if h == nil {
		return Handle[T](t, nil)
	}

	return Handle[T](t, func(ctx context.Context, target T, e ec.Event) error {
		data, ok := e.Data().(D)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrUnexpectedEventData, e.Data(), e.EventType())
		}

		return h(ctx, target, e, data)
	})
}

// HandleAny registers the fallback handler, used when no handler exists for
// the event type or any of its ancestors.
func HandleAny[T any](h HandlerFunc[T]) Option[T] {
	return func(d *Dispatcher[T]) error {
		if h == nil {
			return ec.ErrMissingHandler
		}

		if d.fallback != nil {
			return fmt.Errorf("%w: %s", ErrHandlerAlreadySet, ec.AnyEventType)
		}

		d.fallback = h

		return nil
	}
}

// New creates a dispatcher using the hierarchy in types. With nil types only
// exact matches and the fallback are considered.
func New[T any](types *ec.EventTypes, options ...Option[T]) (*Dispatcher[T], error) {
	d := &Dispatcher[T]{
		types:    types,
		handlers: map[ec.EventType]HandlerFunc[T]{},
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(d); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return d, nil
}

// MustNew is like New but panics on errors, for package level dispatchers.
func MustNew[T any](types *ec.EventTypes, options ...Option[T]) *Dispatcher[T] {
	d, err := New(types, options...)
	if err != nil {
		panic("eventcore: could not create dispatcher: " + err.Error())
	}

	return d
}

// Apply invokes the most specific handler for the type of the event on the
// target. Handler errors are returned unchanged.
func (d *Dispatcher[T]) Apply(ctx context.Context, target T, event ec.Event) error {
	if event == nil {
		return ErrMissingEvent
	}

	r := d.resolve(event.EventType())
	if r.handler == nil {
		return r.err(target, event.EventType())
	}

	return r.handler(ctx, target, event)
}

// Resolve returns the handled type that events of type t are dispatched to,
// AnyEventType for the fallback.
func (d *Dispatcher[T]) Resolve(t ec.EventType) (ec.EventType, error) {
	r := d.resolve(t)
	if r.handler == nil {
		var target T

		return "", r.err(target, t)
	}

	return r.matched, nil
}

type resolution[T any] struct {
	handler    HandlerFunc[T]
	matched    ec.EventType
	candidates []ec.EventType
}

func (r resolution[T]) err(target interface{}, t ec.EventType) error {
	targetType := fmt.Sprintf("%T", target)

	if len(r.candidates) > 1 {
		return &AmbiguousHandlerError{
			TargetType: targetType,
			EventType:  t,
			Candidates: append([]ec.EventType(nil), r.candidates...),
		}
	}

	return &NoHandlerFoundError{
		TargetType: targetType,
		EventType:  t,
	}
}

func (d *Dispatcher[T]) resolve(t ec.EventType) resolution[T] {
	if r, ok := d.resolved.Load(t); ok {
		return r.(resolution[T])
	}

	// Unregistered types can still be registered later, which would change
	// their hierarchy, so they are not cached.
	if d.types == nil || !d.types.IsRegistered(t) {
		return d.walk(t)
	}

	r, _, _ := d.group.Do(string(t), func() (interface{}, error) {
		if r, ok := d.resolved.Load(t); ok {
			return r, nil
		}

		r := d.walk(t)
		d.resolved.Store(t, r)

		return r, nil
	})

	return r.(resolution[T])
}

// walk searches the hierarchy breadth first, one level of ancestors at a time.
// A handled type is dropped when another handled ancestor descends from it,
// since that one is more specific whatever its distance. Of the remaining
// types the nearest level decides the outcome.
func (d *Dispatcher[T]) walk(t ec.EventType) resolution[T] {
	var handled [][]ec.EventType

	level := []ec.EventType{t}
	visited := map[ec.EventType]bool{t: true}

	for len(level) > 0 {
		var found []ec.EventType

		for _, lt := range level {
			if _, ok := d.handlers[lt]; ok {
				found = append(found, lt)
			}
		}

		handled = append(handled, found)

		if d.types == nil {
			break
		}

		var next []ec.EventType

		for _, lt := range level {
			for _, p := range d.types.Parents(lt) {
				if !visited[p] {
					visited[p] = true
					next = append(next, p)
				}
			}
		}

		level = next
	}

	for _, found := range handled {
		candidates := d.mostSpecific(found, handled)

		if len(candidates) == 1 {
			return resolution[T]{
				handler: d.handlers[candidates[0]],
				matched: candidates[0],
			}
		} else if len(candidates) > 1 {
			sort.Slice(candidates, func(i, j int) bool {
				return candidates[i] < candidates[j]
			})

			return resolution[T]{candidates: candidates}
		}
	}

	if d.fallback != nil {
		return resolution[T]{
			handler: d.fallback,
			matched: ec.AnyEventType,
		}
	}

	return resolution[T]{}
}

// mostSpecific returns the types of found that no other handled type
// descends from.
func (d *Dispatcher[T]) mostSpecific(found []ec.EventType, handled [][]ec.EventType) []ec.EventType {
	if d.types == nil {
		return found
	}

	var specific []ec.EventType

	for _, c := range found {
		dominated := false

		for _, level := range handled {
			for _, other := range level {
				if other != c && d.types.IsA(other, c) {
					dominated = true
				}
			}
		}

		if !dominated {
			specific = append(specific, c)
		}
	}

	return specific
}
