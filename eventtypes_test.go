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

package eventcore_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/mocks"
)

func TestEventTypesRegister(t *testing.T) {
	types := ec.NewEventTypes()

	cases := []struct {
		name    string
		t       ec.EventType
		parents []ec.EventType
		err     error
	}{
		{"root", "A", nil, nil},
		{"child", "B", []ec.EventType{"A"}, nil},
		{"empty", "", nil, ec.ErrEmptyEventType},
		{"reserved", ec.AnyEventType, nil, ec.ErrReservedEventType},
		{"duplicate", "A", nil, ec.ErrEventTypeAlreadyRegistered},
		{"unknown parent", "C", []ec.EventType{"X"}, ec.ErrUnknownParentEventType},
		{"any as parent", "D", []ec.EventType{ec.AnyEventType, "A", "A"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := types.Register(tc.t, nil, tc.parents...)
			if !errors.Is(err, tc.err) {
				t.Errorf("the error should be %v: %v", tc.err, err)
			}
		})
	}

	if types.IsRegistered("C") {
		t.Error("a type with an unknown parent should not be registered")
	}

	if !reflect.DeepEqual(types.Parents("D"), []ec.EventType{"A"}) {
		t.Error("the parents should be deduplicated without the universal root:", types.Parents("D"))
	}

	if types.Parents("A") != nil {
		t.Error("a root type should have no parents:", types.Parents("A"))
	}
}

func TestEventTypesMustRegister(t *testing.T) {
	types := ec.NewEventTypes()
	types.MustRegister("A", nil)

	defer func() {
		if r := recover(); r == nil {
			t.Error("registering twice should panic")
		}
	}()

	types.MustRegister("A", nil)
}

func TestEventTypesIsA(t *testing.T) {
	// A diamond: D has parents B and C, both children of A.
	types := ec.NewEventTypes()
	types.MustRegister("A", nil)
	types.MustRegister("B", nil, "A")
	types.MustRegister("C", nil, "A")
	types.MustRegister("D", nil, "B", "C")
	types.MustRegister("E", nil)

	cases := []struct {
		t, ancestor ec.EventType
		want        bool
	}{
		{"D", "D", true},
		{"D", "B", true},
		{"D", "C", true},
		{"D", "A", true},
		{"B", "D", false},
		{"D", "E", false},
		{"E", ec.AnyEventType, true},
		{"unregistered", ec.AnyEventType, true},
		{"unregistered", "A", false},
	}

	for _, tc := range cases {
		if got := types.IsA(tc.t, tc.ancestor); got != tc.want {
			t.Errorf("IsA(%s, %s) should be %v", tc.t, tc.ancestor, tc.want)
		}
	}
}

func TestEventTypesCreateEventData(t *testing.T) {
	types := mocks.NewEventTypes()

	data, err := types.CreateEventData(mocks.EventType)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if _, ok := data.(*mocks.EventData); !ok {
		t.Errorf("the event data should be correct: %T", data)
	}

	other, _ := types.CreateEventData(mocks.EventType)
	if data == other {
		t.Error("every call should create new data")
	}

	if _, err := types.CreateEventData(mocks.BaseEventType); !errors.Is(err, ec.ErrEventDataNotRegistered) {
		t.Error("abstract types should have no data:", err)
	}

	if _, err := types.CreateEventData("unknown"); !errors.Is(err, ec.ErrEventDataNotRegistered) {
		t.Error("unknown types should have no data:", err)
	}
}

func TestEventTypesConcurrentUse(t *testing.T) {
	types := ec.NewEventTypes()
	types.MustRegister("root", nil)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()

			_ = types.Register(ec.EventType(string(rune('a'+i))), nil, "root")
		}(i)

		go func() {
			defer wg.Done()

			_ = types.IsA("a", "root")
		}()
	}

	wg.Wait()

	for i := 0; i < 10; i++ {
		if !types.IsA(ec.EventType(string(rune('a'+i))), "root") {
			t.Error("all types should be registered")
		}
	}
}
