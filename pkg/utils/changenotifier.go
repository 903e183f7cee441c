/*
 * Copyright 2023 LiveKit, Inc
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import "sync"

// ChangeNotifier keeps the last value per key and notifies observers of that key when it changes.
// Setting a value equal to the current one is suppressed.
//
// Observers are invoked synchronously on the goroutine calling Set, outside of the lock,
// so writes for a given key are expected to come from one goroutine.
type ChangeNotifier[K comparable, V comparable] struct {
	lock      sync.Mutex
	values    map[K]V
	observers map[K]map[uint64]func(V)
	nextID    uint64
}

func NewChangeNotifier[K comparable, V comparable]() *ChangeNotifier[K, V] {
	return &ChangeNotifier[K, V]{
		values:    make(map[K]V),
		observers: make(map[K]map[uint64]func(V)),
	}
}

// AddObserver registers onChanged for key. If a value is already known it is delivered immediately.
// The returned func removes the observer.
func (n *ChangeNotifier[K, V]) AddObserver(key K, onChanged func(V)) func() {
	n.lock.Lock()
	n.nextID++
	id := n.nextID
	observers := n.observers[key]
	if observers == nil {
		observers = make(map[uint64]func(V))
		n.observers[key] = observers
	}
	observers[id] = onChanged
	value, ok := n.values[key]
	n.lock.Unlock()

	if ok {
		onChanged(value)
	}

	return func() {
		n.removeObserver(key, id)
	}
}

func (n *ChangeNotifier[K, V]) removeObserver(key K, id uint64) {
	n.lock.Lock()
	defer n.lock.Unlock()

	observers := n.observers[key]
	delete(observers, id)
	if len(observers) == 0 {
		delete(n.observers, key)
	}
}

func (n *ChangeNotifier[K, V]) HasObservers(key K) bool {
	n.lock.Lock()
	defer n.lock.Unlock()

	return len(n.observers[key]) > 0
}

func (n *ChangeNotifier[K, V]) Get(key K) (V, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()

	value, ok := n.values[key]
	return value, ok
}

// SetIfAbsent stores value only when key has no value yet. Nothing is notified.
func (n *ChangeNotifier[K, V]) SetIfAbsent(key K, value V) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.values[key]; !ok {
		n.values[key] = value
	}
}

// Set stores value and notifies observers. Returns false when value equals the stored one.
func (n *ChangeNotifier[K, V]) Set(key K, value V) bool {
	n.lock.Lock()
	if prev, ok := n.values[key]; ok && prev == value {
		n.lock.Unlock()
		return false
	}
	n.values[key] = value

	observers := make([]func(V), 0, len(n.observers[key]))
	for _, f := range n.observers[key] {
		observers = append(observers, f)
	}
	n.lock.Unlock()

	for _, f := range observers {
		f(value)
	}
	return true
}

// Forget drops the stored value for key. Observers stay registered.
func (n *ChangeNotifier[K, V]) Forget(key K) {
	n.lock.Lock()
	defer n.lock.Unlock()

	delete(n.values, key)
}
