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

package eventcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EventBus is an EventHandler that distributes published events to all
// handlers subscribed to the exact type of the event.
type EventBus interface {
	// Subscribe adds a handler for events of exactly the given type. The type
	// hierarchy is not consulted, a handler that wants hierarchy aware
	// behavior must do that itself.
	Subscribe(EventType, EventHandler) error

	// Publish delivers an event to every handler currently subscribed to its
	// type and blocks until all of them have finished.
	Publish(context.Context, Event) error
}

var (
	// ErrMissingEventType is returned when subscribing without an event type.
	ErrMissingEventType = errors.New("missing event type")
	// ErrMissingHandler is returned when subscribing a nil handler.
	ErrMissingHandler = errors.New("missing handler")
	// ErrHandlerAlreadyAdded is returned when a handler type is subscribed to
	// the same event type more than once.
	ErrHandlerAlreadyAdded = errors.New("handler already added")
)

// HandlerError is a failure of a single handler during a publish.
type HandlerError struct {
	// HandlerType is the type of the failing handler.
	HandlerType EventHandlerType
	// Err is the error returned by the handler.
	Err error
}

// Error implements the Error method of the errors.Error interface.
func (e HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.HandlerType, e.Err)
}

// Unwrap implements the errors.Unwrap method.
func (e HandlerError) Unwrap() error {
	return e.Err
}

// HandlerExecutionError is returned from a publish when one or more handlers
// failed. It holds the failure of every failing handler.
type HandlerExecutionError struct {
	// Event is the event that was published.
	Event Event
	// Errors are the failures, in subscription order.
	Errors []HandlerError
}

// Error implements the Error method of the errors.Error interface.
func (e *HandlerExecutionError) Error() string {
	errs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err.Error()
	}

	str := fmt.Sprintf("could not handle event with %d handler(s): %s",
		len(e.Errors), strings.Join(errs, "; "))

	if e.Event != nil {
		str += " (" + e.Event.String() + ")"
	}

	return str
}

// Unwrap returns all handler errors, for use with errors.Is and errors.As.
func (e *HandlerExecutionError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}

	return errs
}

// HandlerTypes returns the types of the failing handlers.
func (e *HandlerExecutionError) HandlerTypes() []EventHandlerType {
	types := make([]EventHandlerType, len(e.Errors))
	for i, err := range e.Errors {
		types[i] = err.HandlerType
	}

	return types
}
