// Package recency tracks recently visible documents.
package recency

import "container/list"

// Tracker is a capacity-bounded set ordered by last touch.
// When the set is full, touching a new key evicts the least-recently touched
// one. The scheduler uses it to keep a just-hidden document Warm for one
// window instead of dropping it straight to Cold.
//
// Tracker is not safe for concurrent use.
//
// Usage:
//
//	t := recency.New[DocumentID](8)
//	t.Touch(id)
//	if t.Contains(id) { ... }
type Tracker[K comparable] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List // front = most-recently touched
}

// New creates a tracker with the given capacity.
// Capacity must be >= 1; values <= 0 are normalised to 1.
func New[K comparable](capacity int) *Tracker[K] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Tracker[K]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// Touch moves key to the front, inserting it if absent. When the insert
// pushes the tracker past capacity, the least-recently touched key is
// evicted and returned.
func (t *Tracker[K]) Touch(key K) (evicted K, ok bool) {
	if el, exists := t.items[key]; exists {
		t.order.MoveToFront(el)
		return evicted, false
	}

	t.items[key] = t.order.PushFront(key)
	if t.order.Len() > t.capacity {
		return t.evictBack()
	}
	return evicted, false
}

// Contains reports whether key is tracked. It does not change the order.
func (t *Tracker[K]) Contains(key K) bool {
	_, ok := t.items[key]
	return ok
}

// Remove drops key. It is a no-op if the key is not tracked.
func (t *Tracker[K]) Remove(key K) {
	el, ok := t.items[key]
	if !ok {
		return
	}
	t.order.Remove(el)
	delete(t.items, key)
}

// Keys returns tracked keys, most-recently touched first.
func (t *Tracker[K]) Keys() []K {
	keys := make([]K, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(K))
	}
	return keys
}

// Len returns the number of tracked keys.
func (t *Tracker[K]) Len() int {
	return t.order.Len()
}

// Cap returns the configured maximum capacity.
func (t *Tracker[K]) Cap() int {
	return t.capacity
}

// Resize changes the capacity, evicting from the back as needed.
func (t *Tracker[K]) Resize(capacity int) []K {
	if capacity <= 0 {
		capacity = 1
	}
	t.capacity = capacity
	var evicted []K
	for t.order.Len() > t.capacity {
		k, _ := t.evictBack()
		evicted = append(evicted, k)
	}
	return evicted
}

func (t *Tracker[K]) evictBack() (K, bool) {
	back := t.order.Back()
	if back == nil {
		var zero K
		return zero, false
	}
	t.order.Remove(back)
	key := back.Value.(K)
	delete(t.items, key)
	return key, true
}
