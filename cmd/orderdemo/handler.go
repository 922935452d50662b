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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/examples/order"
	"github.com/looplab/eventcore/httputils"
	"github.com/looplab/eventcore/repository"
	"github.com/looplab/eventcore/uuid"
)

// itemRequest is the body of the item commands.
type itemRequest struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// cancelRequest is the body of the cancel command.
type cancelRequest struct {
	Reason string `json:"reason"`
}

// newHandler exposes the order service and the event stream over HTTP.
func newHandler(svc *order.Service, stream *httputils.EventStream, logger *slog.Logger) http.Handler {
	h := http.NewServeMux()

	h.Handle("GET /api/events/", stream)
	h.Handle("GET /api/orders/{id}", httputils.AggregateHandler[*order.Order](svc.Repository))

	h.HandleFunc("GET /api/summaries/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "could not parse ID: "+err.Error(), http.StatusBadRequest)

			return
		}

		s, ok := svc.Summaries.Find(id)
		if !ok {
			http.Error(w, "could not find summary", http.StatusNotFound)

			return
		}

		writeJSON(w, s)
	})

	h.Handle("POST /api/orders/{id}/add_item", command(svc, logger, true,
		func(ctx context.Context, o *order.Order, req *itemRequest) error {
			return o.AddItem(ctx, req.Item, req.Quantity)
		}))
	h.Handle("POST /api/orders/{id}/remove_item", command(svc, logger, false,
		func(ctx context.Context, o *order.Order, req *itemRequest) error {
			return o.RemoveItem(ctx, req.Item, req.Quantity)
		}))
	h.Handle("POST /api/orders/{id}/place", command(svc, logger, false,
		func(ctx context.Context, o *order.Order, _ *struct{}) error {
			return o.Place(ctx)
		}))
	h.Handle("POST /api/orders/{id}/cancel", command(svc, logger, false,
		func(ctx context.Context, o *order.Order, req *cancelRequest) error {
			return o.Cancel(ctx, req.Reason)
		}))

	// Request logging as the final handler.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "url", r.URL.String())
		h.ServeHTTP(w, r)
	})
}

// command decodes a request of type R and runs f on the order in the path.
// Orders are only created by commands with create set.
func command[R any](
	svc *order.Service,
	logger *slog.Logger,
	create bool,
	f func(context.Context, *order.Order, *R) error,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "could not parse ID: "+err.Error(), http.StatusBadRequest)

			return
		}

		req := new(R)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "could not decode command: "+err.Error(), http.StatusBadRequest)

			return
		}

		run := func(ctx context.Context, o *order.Order) error {
			return f(ctx, o, req)
		}

		if create {
			err = svc.CommandHandler.Handle(r.Context(), id, run)
		} else {
			err = svc.CommandHandler.HandleExisting(r.Context(), id, run)
		}

		status := statusFor(err, logger)
		if err != nil {
			http.Error(w, err.Error(), status)

			return
		}

		w.WriteHeader(status)
	})
}

// statusFor maps command errors to HTTP status codes. Publish errors happen
// after the events were stored, they are reported as accepted so that the
// client can tell a stored but unpublished command from a full success.
func statusFor(err error, logger *slog.Logger) int {
	var repoErr *repository.RepositoryError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &repoErr) && repoErr.Op == repository.RepositoryOpPublish:
		logger.Error("could not publish events", "error", err)

		return http.StatusAccepted
	case errors.Is(err, ec.ErrAggregateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ec.ErrConcurrentSave):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrItemNotInOrder),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrOrderClosed):
		return http.StatusBadRequest
	default:
		logger.Error("could not handle command", "error", err)

		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "could not encode result: "+err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
