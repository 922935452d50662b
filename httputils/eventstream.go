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

// Package httputils contains HTTP handlers for following events over
// websockets and for reading aggregates.
package httputils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
)

var upgrader = websocket.Upgrader{} // use default options

// EventStream is an event handler that forwards events, encoded as JSON, to
// all requests that have been upgraded to websockets. Subscribe it on a bus
// for the event types to stream.
//
// A client that can not keep up is disconnected, the publish is not failed.
type EventStream struct {
	codec     ec.EventCodec
	matcher   ec.EventMatcher
	logger    *slog.Logger
	clients   map[*client]struct{}
	clientsMu sync.RWMutex
}

var _ = ec.EventHandler(&EventStream{})

type client struct {
	ch chan []byte
}

// EventStreamOption is an option setter used to configure creation.
type EventStreamOption func(*EventStream) error

// WithLogger sets the logger for connection errors.
func WithLogger(logger *slog.Logger) EventStreamOption {
	return func(s *EventStream) error {
		if logger == nil {
			return errors.New("missing logger")
		}

		s.logger = logger

		return nil
	}
}

// WithMatcher streams only the events matching m, the default is all events.
func WithMatcher(m ec.EventMatcher) EventStreamOption {
	return func(s *EventStream) error {
		if m == nil {
			return errors.New("missing matcher")
		}

		s.matcher = m

		return nil
	}
}

// NewEventStream creates an EventStream.
func NewEventStream(types *ec.EventTypes, options ...EventStreamOption) (*EventStream, error) {
	s := &EventStream{
		codec:   json.NewEventCodec(types),
		matcher: ec.MatchAll(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients: map[*client]struct{}{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return s, nil
}

// HandlerType implements the HandlerType method of the ec.EventHandler interface.
func (s *EventStream) HandlerType() ec.EventHandlerType {
	return "websocket"
}

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (s *EventStream) HandleEvent(ctx context.Context, event ec.Event) error {
	if !s.matcher.Match(event) {
		return nil
	}

	b, err := s.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for c := range s.clients {
		select {
		case c.ch <- b:
		default:
			s.logger.Warn("disconnecting slow client", "event", event.String())
			delete(s.clients, c)
			close(c.ch)
		}
	}

	return nil
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	return len(s.clients)
}

// ServeHTTP upgrades the request to a websocket and writes events to it until
// the client goes away.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("could not upgrade", "error", err)

		return
	}
	defer conn.Close()

	c := &client{ch: make(chan []byte, 10)}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	defer s.remove(c)

	// Reading is needed to notice a closed connection.
	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case b, ok := <-c.ch:
			if !ok {
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.logger.Error("could not write", "error", err)

				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *EventStream) remove(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.ch)
	}
}
