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

// Package eventcore is the write side core of a CQRS/ES toolkit: events and
// their type hierarchy, aggregates, event handlers, the event bus and the
// event store contracts.
//
// The implementations live in sub packages: dispatch resolves the handler for
// an event on a target, aggregate provides an embeddable aggregate base,
// eventbus/local fans out events to subscribers and repository loads and
// stores aggregates with optimistic concurrency control.
package eventcore
