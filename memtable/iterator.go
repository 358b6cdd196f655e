// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package memtable

import "github.com/slabdb/slab/internal/base"

// Iterator is an iterator over a MemTable in internal key order. An Iterator
// must be positioned with First, Last or SeekGE before Key, Value, Next or
// Prev may be called.
//
// Because table nodes are never removed, an Iterator remains valid across
// concurrent appends to its table; whether it observes an entry appended
// after its creation is unspecified.
type Iterator struct {
	m *MemTable
	// n is the offset of the current node, or zero when the iterator is
	// exhausted or unpositioned.
	n      int
	keyBuf []byte
}

// NewIter returns an iterator over the table.
func (m *MemTable) NewIter() *Iterator {
	return &Iterator{m: m}
}

// First moves the iterator to the first entry of the table and reports
// whether such an entry exists.
func (it *Iterator) First() bool {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.nodeData[0+nNext]
	return it.n != 0
}

// Last moves the iterator to the last entry of the table and reports whether
// such an entry exists.
func (it *Iterator) Last() bool {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.findLast()
	return it.n != 0
}

// SeekGE moves the iterator to the first entry whose internal key is greater
// than or equal to key, and reports whether such an entry exists.
func (it *Iterator) SeekGE(key base.InternalKey) bool {
	if cap(it.keyBuf) < key.Size() {
		it.keyBuf = make([]byte, key.Size())
	}
	it.keyBuf = it.keyBuf[:key.Size()]
	key.Encode(it.keyBuf)

	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.findNode(it.keyBuf, nil)
	return it.n != 0
}

// Next moves the iterator to the next entry and reports whether the iterator
// remains valid.
func (it *Iterator) Next() bool {
	if it.n == 0 {
		return false
	}
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.nodeData[it.n+nNext]
	return it.n != 0
}

// Prev moves the iterator to the previous entry and reports whether the
// iterator remains valid. Prev from the first entry invalidates the
// iterator.
func (it *Iterator) Prev() bool {
	if it.n == 0 {
		return false
	}
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.findLT(it.m.nodeKey(it.n))
	return it.n != 0
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.n != 0
}

// Key returns the internal key of the current entry. The user key points
// into the table's arena and must not be modified.
func (it *Iterator) Key() base.InternalKey {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	return base.DecodeInternalKey(it.m.nodeKey(it.n))
}

// Value returns the value of the current entry. The returned slice points
// into the table's arena and must not be modified.
func (it *Iterator) Value() []byte {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	return it.m.nodeValue(it.n)
}
