// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package cache implements the block cache: a fixed-capacity, sharded map
// from opaque byte keys to reference-counted values.
//
// Values are inserted with a charge (their cost against the cache capacity)
// and a deleter. The cache holds one reference to every indexed value and
// every Insert or Lookup returns a Handle holding another; a value's deleter
// runs exactly once, when the last reference is released. Capacity pressure
// is resolved by evicting from the least recently used end, and only entries
// with no outstanding external references are evictable.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	shardCount = 16
	shardBits  = 4
)

// entry holds a cached key/value pair. An entry is indexed while it is
// reachable from its shard's table; it additionally sits on the shard's LRU
// list exactly while the cache itself holds the only reference to it.
type entry struct {
	key     string
	val     []byte
	charge  int64
	deleter func(key, value []byte)
	// refs counts the cache's own reference (while indexed) plus one per
	// outstanding Handle. Guarded by the shard mutex.
	refs    int64
	indexed bool
	links   struct {
		next, prev *entry
	}
}

// entryList is a doubly linked circular list of entries, through a root
// sentinel. The zero value must be initialized before use.
type entryList struct {
	root entry
}

func (l *entryList) init() {
	l.root.links.next = &l.root
	l.root.links.prev = &l.root
}

func (l *entryList) empty() bool {
	return l.root.links.next == &l.root
}

func (l *entryList) back() *entry {
	return l.root.links.prev
}

func (l *entryList) insertAfter(e, at *entry) {
	n := at.links.next
	at.links.next = e
	e.links.prev = at
	e.links.next = n
	n.links.prev = e
}

func (l *entryList) pushFront(e *entry) {
	l.insertAfter(e, &l.root)
}

func (l *entryList) remove(e *entry) {
	e.links.prev.links.next = e.links.next
	e.links.next.links.prev = e.links.prev
	e.links.next = nil
	e.links.prev = nil
}

// shard is an independently locked partition of the cache.
type shard struct {
	capacity int64

	mu     sync.Mutex
	usage  int64
	blocks map[string]*entry
	lru    entryList
	hits   int64
	misses int64
}

func (s *shard) init(capacity int64) {
	s.capacity = capacity
	s.blocks = make(map[string]*entry)
	s.lru.init()
}

// inLRU reports whether e is on the eviction list. The LRU list holds
// exactly the indexed entries whose only reference is the cache's own.
func inLRU(e *entry) bool {
	return e.indexed && e.refs == 1
}

// unref drops one reference from e. It returns e if that was the last
// reference; the caller must run the deleter outside the shard mutex.
// Dropping to a single, cache-held reference makes the entry evictable and
// may trigger eviction of colder entries.
func (s *shard) unref(e *entry, freed []*entry) []*entry {
	e.refs--
	switch {
	case e.refs == 0:
		freed = append(freed, e)
	case e.refs == 1 && e.indexed:
		s.lru.pushFront(e)
		freed = s.evict(freed)
	}
	return freed
}

// evict removes entries from the cold end of the LRU list until usage fits
// within capacity or no evictable entries remain.
func (s *shard) evict(freed []*entry) []*entry {
	for s.usage > s.capacity && !s.lru.empty() {
		e := s.lru.back()
		s.lru.remove(e)
		delete(s.blocks, e.key)
		e.indexed = false
		s.usage -= e.charge
		freed = s.unref(e, freed)
	}
	return freed
}

// removeIndex unindexes e: it leaves the LRU list and the table, and the
// cache's own reference is dropped.
func (s *shard) removeIndex(e *entry, freed []*entry) []*entry {
	if inLRU(e) {
		s.lru.remove(e)
	}
	delete(s.blocks, e.key)
	e.indexed = false
	s.usage -= e.charge
	return s.unref(e, freed)
}

func (s *shard) insert(
	key, value []byte, charge int64, deleter func(key, value []byte),
) (h Handle, freed []*entry) {
	s.mu.Lock()
	if old, ok := s.blocks[string(key)]; ok {
		// Replace, never merge. The old entry lingers until its outstanding
		// references drain.
		freed = s.removeIndex(old, freed)
	}
	e := &entry{
		key:     string(key),
		val:     value,
		charge:  charge,
		deleter: deleter,
		refs:    2, // one for the cache index, one for the returned Handle
		indexed: true,
	}
	s.blocks[e.key] = e
	s.usage += charge
	freed = s.evict(freed)
	s.mu.Unlock()
	return Handle{s: s, e: e}, freed
}

func (s *shard) lookup(key []byte) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocks[string(key)]
	if !ok {
		s.misses++
		return Handle{}, false
	}
	s.hits++
	if inLRU(e) {
		s.lru.remove(e)
	}
	e.refs++
	return Handle{s: s, e: e}, true
}

func (s *shard) erase(key []byte) (freed []*entry) {
	s.mu.Lock()
	if e, ok := s.blocks[string(key)]; ok {
		freed = s.removeIndex(e, freed)
	}
	s.mu.Unlock()
	return freed
}

func (s *shard) release(e *entry) (freed []*entry) {
	s.mu.Lock()
	freed = s.unref(e, freed)
	s.mu.Unlock()
	return freed
}

// Handle is an outstanding reference to a cache entry, pinning the entry's
// value in memory until released.
type Handle struct {
	s *shard
	e *entry
}

// Valid reports whether the handle refers to an entry.
func (h Handle) Valid() bool {
	return h.e != nil
}

// Value returns the pinned value.
func (h Handle) Value() []byte {
	if h.e == nil {
		return nil
	}
	return h.e.val
}

// Release drops the handle's reference. The handle must not be used
// afterward. Releasing the zero Handle is a no-op.
func (h Handle) Release() {
	if h.e == nil {
		return
	}
	runDeleters(h.s.release(h.e))
}

func runDeleters(freed []*entry) {
	for _, e := range freed {
		if e.deleter != nil {
			e.deleter([]byte(e.key), e.val)
		}
	}
}

// Cache is a sharded, fixed-capacity cache of reference-counted values. It
// is safe for concurrent use by multiple goroutines.
type Cache struct {
	shards  [shardCount]shard
	idAlloc atomic.Uint64
}

// Metrics holds metrics for the cache.
type Metrics struct {
	// The sum of the charges of the indexed entries.
	Size int64
	// The number of indexed entries.
	Count int64
	// The number of cache hits.
	Hits int64
	// The number of cache misses.
	Misses int64
}

// New creates a new cache with the specified capacity. Each shard receives
// an equal split of the capacity, rounded up so the shard capacities never
// sum to less than the requested total.
func New(capacity int64) *Cache {
	c := &Cache{}
	perShard := (capacity + shardCount - 1) / shardCount
	for i := range c.shards {
		c.shards[i].init(perShard)
	}
	return c
}

func (c *Cache) getShard(key []byte) *shard {
	return &c.shards[xxhash.Sum64(key)>>(64-shardBits)]
}

// Insert adds a value to the cache under key, charging it against the
// capacity, and returns a Handle referencing it. Insert always succeeds:
// capacity pressure is resolved by evicting cold, unreferenced entries, not
// by rejecting the insert. Inserting under an existing key replaces the old
// entry; the old value's deleter runs once its outstanding references drain.
//
// The deleter, which may be nil, is invoked exactly once, when the last
// reference to the value is released. It must not call back into the cache.
func (c *Cache) Insert(
	key, value []byte, charge int64, deleter func(key, value []byte),
) Handle {
	h, freed := c.getShard(key).insert(key, value, charge, deleter)
	runDeleters(freed)
	return h
}

// Lookup retrieves the value cached under key. On a hit the entry is marked
// most recently used and the returned Handle holds a new reference to it; a
// hit never evicts.
func (c *Cache) Lookup(key []byte) (Handle, bool) {
	return c.getShard(key).lookup(key)
}

// Erase removes the entry under key, if any, from the index immediately.
// Freeing the value is deferred until outstanding references are released.
func (c *Cache) Erase(key []byte) {
	runDeleters(c.getShard(key).erase(key))
}

// NewID returns a new id to be used as a prefix namespacing the keys of a
// particular user of the cache.
func (c *Cache) NewID() uint64 {
	return c.idAlloc.Add(1)
}

// Metrics returns the current cache metrics, aggregated over the shards.
func (c *Cache) Metrics() Metrics {
	var m Metrics
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		m.Size += s.usage
		m.Count += int64(len(s.blocks))
		m.Hits += s.hits
		m.Misses += s.misses
		s.mu.Unlock()
	}
	return m
}
