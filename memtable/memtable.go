// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package memtable provides a memory-backed ordered table of internal
// key/value pairs, backed by a skiplist whose nodes and records live in
// growable flat buffers.
//
// A MemTable's memory consumption increases monotonically, even if keys are
// deleted or values are updated with shorter slices. Callers of the package
// are responsible for flushing a full MemTable into an immutable table file
// when appropriate.
package memtable

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/slabdb/slab/internal/base"
)

const (
	// maxHeight is the maximum height of a MemTable's skiplist.
	maxHeight = 12
)

// A node in the skiplist is a fixed header plus a variable number of next
// offsets, laid out contiguously in the nodeData slice:
//
//	nodeData[n+nKeyOff]  start of the node's internal key in kvData
//	nodeData[n+nKeyLen]  length of the internal key
//	nodeData[n+nValOff]  start of the node's value in kvData
//	nodeData[n+nValLen]  length of the value
//	nodeData[n+nNext+h]  offset of the next node at height h
//
// A node of height h occupies nNext+h ints. A next offset of zero terminates
// the list at that height; node zero is the head node, which no next offset
// refers to.
const (
	nKeyOff = iota
	nKeyLen
	nValOff
	nValLen
	nNext
)

// ErrAbsent is returned by MemTable.Get when the table holds no entry at all
// for the probed user key. It is distinct from base.ErrNotFound, which
// reports a deletion tombstone: a tombstone is a definitive answer, while an
// absent key may still be found in older, immutable tables.
var ErrAbsent = errors.New("memtable: key absent")

// A MemTable is an ordered, append-only in-memory table of internal
// key/value records.
//
// A MemTable is safe for concurrent readers. At most one goroutine may call
// Add at a time; existing records are never mutated or removed, so readers
// and iterators that race with an append observe either the table before or
// after that append, never a torn state.
type MemTable struct {
	cmp *base.Comparer

	mu sync.RWMutex
	// height is the number of skiplist levels currently in use.
	height int
	// kvData is an append-only buffer holding the entry records:
	// varint(keylen) ++ internal key ++ varint(vallen) ++ value.
	kvData []byte
	// nodeData is an append-only buffer holding the skiplist nodes.
	nodeData []int
}

// New returns an empty MemTable ordering its entries with cmp.
func New(cmp *base.Comparer) *MemTable {
	m := &MemTable{
		cmp:    cmp.EnsureDefaults(),
		height: 1,
		kvData: make([]byte, 0, 4096),
	}
	// The head node has the maximum height and no key.
	m.nodeData = make([]int, nNext+maxHeight, 256)
	return m
}

// nodeKey returns the internal key bytes of the node at offset n.
func (m *MemTable) nodeKey(n int) []byte {
	off := m.nodeData[n+nKeyOff]
	return m.kvData[off : off+m.nodeData[n+nKeyLen]]
}

// nodeValue returns the value bytes of the node at offset n.
func (m *MemTable) nodeValue(n int) []byte {
	off := m.nodeData[n+nValOff]
	return m.kvData[off : off+m.nodeData[n+nValLen] : off+m.nodeData[n+nValLen]]
}

func (m *MemTable) compare(a, b []byte) int {
	return base.InternalCompare(m.cmp.Compare, base.DecodeInternalKey(a), base.DecodeInternalKey(b))
}

// findNode returns the offset of the first node whose internal key is >= the
// given encoded internal key, or zero if there is no such node. If prev is
// non-nil, it also sets the first m.height elements of prev to the offset of
// the preceding node at each height.
func (m *MemTable) findNode(ikey []byte, prev *[maxHeight]int) int {
	var n int
	for h, p := m.height-1, 0; h >= 0; h-- {
		// Walk the skiplist at height h until we find either the end of the
		// list or a node whose key is >= the given key.
		for n = m.nodeData[p+nNext+h]; n != 0; n = m.nodeData[p+nNext+h] {
			if m.compare(m.nodeKey(n), ikey) >= 0 {
				break
			}
			p = n
		}
		if prev != nil {
			(*prev)[h] = p
		}
	}
	return n
}

// findLast returns the offset of the last node in the table, or zero if the
// table is empty.
func (m *MemTable) findLast() int {
	var p int
	for h := m.height - 1; h >= 0; h-- {
		for n := m.nodeData[p+nNext+h]; n != 0; n = m.nodeData[p+nNext+h] {
			p = n
		}
	}
	return p
}

// findLT returns the offset of the last node whose internal key is < the
// given encoded internal key, or zero if every node's key is >= it.
func (m *MemTable) findLT(ikey []byte) int {
	var p int
	for h := m.height - 1; h >= 0; h-- {
		for n := m.nodeData[p+nNext+h]; n != 0; n = m.nodeData[p+nNext+h] {
			if m.compare(m.nodeKey(n), ikey) >= 0 {
				break
			}
			p = n
		}
	}
	return p
}

// Add inserts an entry for the specified user key, sequence number and kind.
// The user key and value byte slices are copied into the table's arena.
//
// At most one goroutine may call Add at a time, though Add may race with any
// number of readers.
func (m *MemTable) Add(seqNum base.SeqNum, kind base.InternalKeyKind, key, value []byte) {
	trailer := base.MakeTrailer(seqNum, kind)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Append the entry record to the arena:
	// varint(keylen) ++ user key ++ trailer ++ varint(vallen) ++ value.
	ikeyLen := len(key) + base.InternalTrailerLen
	m.kvData = binary.AppendUvarint(m.kvData, uint64(ikeyLen))
	keyOff := len(m.kvData)
	m.kvData = append(m.kvData, key...)
	m.kvData = binary.LittleEndian.AppendUint64(m.kvData, uint64(trailer))
	m.kvData = binary.AppendUvarint(m.kvData, uint64(len(value)))
	valOff := len(m.kvData)
	m.kvData = append(m.kvData, value...)

	// Find the insertion point, and its predecessors at all heights.
	var prev [maxHeight]int
	m.findNode(m.kvData[keyOff:keyOff+ikeyLen], &prev)

	// Choose the new node's height, branching with 25% probability.
	h := 1
	for h < maxHeight && rand.Intn(4) == 0 {
		h++
	}
	// Raise the skiplist's height to the node's height, if necessary.
	if m.height < h {
		for i := m.height; i < h; i++ {
			prev[i] = 0
		}
		m.height = h
	}

	// Splice in the new node.
	n := len(m.nodeData)
	m.nodeData = append(m.nodeData, keyOff, ikeyLen, valOff, len(value))
	for i := 0; i < h; i++ {
		m.nodeData = append(m.nodeData, m.nodeData[prev[i]+nNext+i])
		m.nodeData[prev[i]+nNext+i] = n
	}
}

// Get retrieves the value associated with key, as of the given sequence
// number. It returns base.ErrNotFound if the newest visible entry for the
// key is a deletion tombstone, and ErrAbsent if the table holds no entry at
// all for the key; in the latter case the caller must consult older tables.
//
// The returned value points into the table's arena and must not be modified.
func (m *MemTable) Get(key []byte, seqNum base.SeqNum) ([]byte, error) {
	lk := MakeLookupKey(nil, key, seqNum)

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.findNode(lk.InternalKey(), nil)
	if n == 0 {
		return nil, ErrAbsent
	}
	ik := base.DecodeInternalKey(m.nodeKey(n))
	if !m.cmp.Equal(ik.UserKey, key) {
		return nil, ErrAbsent
	}
	if ik.Kind() == base.InternalKeyKindDelete {
		return nil, base.ErrNotFound
	}
	return m.nodeValue(n), nil
}

// ApproximateMemoryUsage returns the approximate number of bytes of memory
// allocated by the MemTable. The estimate only grows.
func (m *MemTable) ApproximateMemoryUsage() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kvData) + len(m.nodeData)*8
}

// LookupKey is a search probe for a user key as of a sequence number,
// encoded as varint(len(userKey)+8) ++ userKey ++ 8-byte trailer. The
// trailer carries the maximal kind so that the probe sorts before every
// entry for the same user key with a visible sequence number.
type LookupKey []byte

// MakeLookupKey appends the encoded probe for (userKey, seqNum) to dst and
// returns it as a LookupKey.
func MakeLookupKey(dst []byte, userKey []byte, seqNum base.SeqNum) LookupKey {
	dst = binary.AppendUvarint(dst, uint64(len(userKey)+base.InternalTrailerLen))
	dst = append(dst, userKey...)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(base.MakeTrailer(seqNum, base.InternalKeyKindMax)))
	return LookupKey(dst)
}

// MemtableKey returns the full encoding, including the varint length prefix.
func (lk LookupKey) MemtableKey() []byte {
	return lk
}

// InternalKey returns the encoded internal key portion of the probe.
func (lk LookupKey) InternalKey() []byte {
	_, n := binary.Uvarint(lk)
	return lk[n:]
}
