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
	"sync"
)

// ContextMarshalFunc copies the context values it knows about into vals, used
// when events leave the process.
type ContextMarshalFunc func(ctx context.Context, vals map[string]interface{})

// ContextUnmarshalFunc restores the values it knows about from vals into a
// new context, used when events arrive from the wire.
type ContextUnmarshalFunc func(ctx context.Context, vals map[string]interface{}) context.Context

// contextCodecs are the registered context marshalers. Packages register in
// init funcs, the codecs and publishers read them for every event.
var contextCodecs struct {
	sync.RWMutex
	marshalers   []ContextMarshalFunc
	unmarshalers []ContextUnmarshalFunc
}

// RegisterContextMarshaler adds a marshaler used by MarshalContext.
func RegisterContextMarshaler(f ContextMarshalFunc) {
	contextCodecs.Lock()
	contextCodecs.marshalers = append(contextCodecs.marshalers, f)
	contextCodecs.Unlock()
}

// RegisterContextUnmarshaler adds an unmarshaler used by UnmarshalContext.
func RegisterContextUnmarshaler(f ContextUnmarshalFunc) {
	contextCodecs.Lock()
	contextCodecs.unmarshalers = append(contextCodecs.unmarshalers, f)
	contextCodecs.Unlock()
}

// MarshalContext collects the values of all registered marshalers. Two
// marshalers writing the same key is a programming error and panics.
func MarshalContext(ctx context.Context) map[string]interface{} {
	contextCodecs.RLock()
	defer contextCodecs.RUnlock()

	all := map[string]interface{}{}

	for _, marshal := range contextCodecs.marshalers {
		vals := map[string]interface{}{}
		marshal(ctx, vals)

		for k, v := range vals {
			if _, ok := all[k]; ok {
				panic("eventcore: duplicate context entry for: " + k)
			}

			all[k] = v
		}
	}

	return all
}

// UnmarshalContext passes ctx through all registered unmarshalers.
func UnmarshalContext(ctx context.Context, vals map[string]interface{}) context.Context {
	if len(vals) == 0 {
		return ctx
	}

	contextCodecs.RLock()
	defer contextCodecs.RUnlock()

	for _, unmarshal := range contextCodecs.unmarshalers {
		ctx = unmarshal(ctx, vals)
	}

	return ctx
}
