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

package httputils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/uuid"
)

// AggregateRetriever retrieves aggregates by ID, as a repository.Repository does.
type AggregateRetriever[A ec.Aggregate] interface {
	Retrieve(ctx context.Context, id uuid.UUID) (A, error)
}

// AggregateHandler returns the current state of an aggregate as JSON. The
// last part of the path is used as the ID.
func AggregateHandler[A ec.Aggregate](repo AggregateRetriever[A]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "unsupported method: "+r.Method, http.StatusMethodNotAllowed)

			return
		}

		_, idStr := path.Split(r.URL.Path)

		id, err := uuid.Parse(idStr)
		if err != nil {
			http.Error(w, "could not parse ID: "+err.Error(), http.StatusBadRequest)

			return
		}

		a, err := repo.Retrieve(r.Context(), id)
		if errors.Is(err, ec.ErrAggregateNotFound) {
			http.Error(w, "could not find aggregate", http.StatusNotFound)

			return
		} else if err != nil {
			http.Error(w, "could not retrieve aggregate: "+err.Error(), http.StatusInternalServerError)

			return
		}

		b, err := json.Marshal(a)
		if err != nil {
			http.Error(w, "could not encode result: "+err.Error(), http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})
}
