// Package cache provides capacity- and age-bounded maps for protocol state.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// entry keeps the value together with the time it was last written.
type entry[V any] struct {
	value V
	at    time.Time
}

// Bounded is a map limited to a fixed number of entries. When full, Insert
// evicts the oldest-inserted entry. Reads go through Peek so they never
// refresh an entry's position: eviction order is insertion order (FIFO),
// not recency.
//
// Bounded is not safe for concurrent use; the owner serializes access.
type Bounded[K comparable, V any] struct {
	lru     *simplelru.LRU[K, *entry[V]]
	size    int
	onEvict func(K, V)
}

// New creates a Bounded map holding at most capacity entries. onEvict, if
// non-nil, is called for entries dropped to make room (not for Remove or
// Sweep).
func New[K comparable, V any](capacity int, onEvict func(K, V)) (*Bounded[K, V], error) {
	lru, err := simplelru.NewLRU[K, *entry[V]](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Bounded[K, V]{lru: lru, size: capacity, onEvict: onEvict}, nil
}

// Insert stores value under key, stamped with now. An existing key is
// updated in place and keeps its eviction position.
func (b *Bounded[K, V]) Insert(key K, value V, now time.Time) {
	if e, ok := b.lru.Peek(key); ok {
		e.value = value
		e.at = now
		return
	}

	var (
		oldKey K
		oldVal *entry[V]
	)
	if b.lru.Len() >= b.size {
		oldKey, oldVal, _ = b.lru.GetOldest()
	}
	if b.lru.Add(key, &entry[V]{value: value, at: now}) && b.onEvict != nil && oldVal != nil {
		b.onEvict(oldKey, oldVal.value)
	}
}

// Get returns the value for key.
func (b *Bounded[K, V]) Get(key K) (V, bool) {
	e, ok := b.lru.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stamp returns the time key was last written.
func (b *Bounded[K, V]) Stamp(key K) (time.Time, bool) {
	e, ok := b.lru.Peek(key)
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Contains reports whether key is present.
func (b *Bounded[K, V]) Contains(key K) bool {
	return b.lru.Contains(key)
}

// Remove deletes key and reports whether it was present.
func (b *Bounded[K, V]) Remove(key K) bool {
	return b.lru.Remove(key)
}

// Len returns the number of entries.
func (b *Bounded[K, V]) Len() int {
	return b.lru.Len()
}

// Keys returns the keys from oldest to newest insertion.
func (b *Bounded[K, V]) Keys() []K {
	return b.lru.Keys()
}

// Range calls fn for each entry from oldest to newest until fn returns
// false. fn must not mutate the map; collect keys and act afterwards.
func (b *Bounded[K, V]) Range(fn func(key K, value V, at time.Time) bool) {
	for _, k := range b.lru.Keys() {
		e, ok := b.lru.Peek(k)
		if !ok {
			continue
		}
		if !fn(k, e.value, e.at) {
			return
		}
	}
}

// Sweep removes every entry older than ttl at now and returns their keys
// with the values they held.
func (b *Bounded[K, V]) Sweep(now time.Time, ttl time.Duration) map[K]V {
	var expired map[K]V
	for _, k := range b.lru.Keys() {
		e, ok := b.lru.Peek(k)
		if !ok || now.Sub(e.at) <= ttl {
			continue
		}
		if expired == nil {
			expired = make(map[K]V)
		}
		expired[k] = e.value
		b.lru.Remove(k)
	}
	return expired
}
