// Copyright 2025 Poiesic Systems
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


// Package lazy provides a guarded single-initialization cell for clients
// that are expensive to build and shared by concurrent requests.
package lazy

import (
	"sync"
	"sync/atomic"
)

// Value holds a T that is constructed on first use.
//
// At most one construction runs at a time. Callers that arrive while a
// construction is in flight wait for it and share its result. A failed
// construction is not remembered, so the next Get tries again.
type Value[T any] struct {
	init  func() (T, error)
	mu    sync.Mutex
	ready atomic.Bool
	value T
}

// New returns a cell that builds its value with init.
func New[T any](init func() (T, error)) *Value[T] {
	return &Value[T]{init: init}
}

// Get returns the value, constructing it if needed.
func (v *Value[T]) Get() (T, error) {
	if v.ready.Load() {
		return v.value, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ready.Load() {
		return v.value, nil
	}

	value, err := v.init()
	if err != nil {
		var zero T
		return zero, err
	}
	v.value = value
	v.ready.Store(true)
	return value, nil
}

// Loaded reports whether the value has been constructed.
func (v *Value[T]) Loaded() bool {
	return v.ready.Load()
}

// Peek returns the value only if it has already been constructed.
func (v *Value[T]) Peek() (T, bool) {
	if v.ready.Load() {
		return v.value, true
	}
	var zero T
	return zero, false
}
