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

// EventMatcher matches events against a criteria.
type EventMatcher func(Event) bool

// Match returns true if the event matches.
func (m EventMatcher) Match(e Event) bool {
	return m(e)
}

// MatchAll matches all events.
func MatchAll() EventMatcher {
	return func(e Event) bool {
		return true
	}
}

// MatchAggregates matches any of the aggregate types, nil events never match.
func MatchAggregates(types ...AggregateType) EventMatcher {
	return func(e Event) bool {
		if e == nil {
			return false
		}

		for _, t := range types {
			if e.AggregateType() == t {
				return true
			}
		}

		return false
	}
}

// MatchKind matches events whose type is ancestor or descends from it in the
// registry. Useful for handlers subscribed to several concrete types that only
// care about a branch of the hierarchy.
func MatchKind(types *EventTypes, ancestor EventType) EventMatcher {
	return func(e Event) bool {
		return e != nil && types.IsA(e.EventType(), ancestor)
	}
}
