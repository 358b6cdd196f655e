// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/slabdb/slab/internal/base"
)

// filterBaseLog being 11 means that we generate a new filter for every 2KiB
// of data.
//
// It's a little unfortunate that this is 11, whilst the default
// WriterOptions BlockSize is 1<<12 or 4KiB, so that in practice, every
// second filter is empty, but both values match the C++ code.
const filterBaseLog = 11

// filterWriter accumulates the table's filter block: one filter per 2KiB
// span of data block output, keyed by block offset, plus a trailing offset
// array locating each filter within the block.
type filterWriter struct {
	policy base.FilterPolicy
	// block holds the keys for the current filter. The buffers are re-used
	// for each new filter.
	block struct {
		data    []byte
		lengths []int
		keys    [][]byte
	}
	// data and offsets are the per-span filters for the overall table.
	data    []byte
	offsets []uint32
}

func (f *filterWriter) hasKeys() bool {
	return len(f.block.lengths) != 0
}

// appendKey buffers a key for the filter covering the current span. The key
// bytes are copied into a flat buffer, avoiding a per-key allocation.
func (f *filterWriter) appendKey(key []byte) {
	f.block.data = append(f.block.data, key...)
	f.block.lengths = append(f.block.lengths, len(key))
}

func (f *filterWriter) appendOffset() error {
	o := len(f.data)
	if uint64(o) > 1<<32-1 {
		return errors.New("sstable: filter data is too long")
	}
	f.offsets = append(f.offsets, uint32(o))
	return nil
}

// emit flushes the buffered keys as one filter. A span with no keys emits an
// empty filter: an offset pointing at no data.
func (f *filterWriter) emit() error {
	if err := f.appendOffset(); err != nil {
		return err
	}
	if !f.hasKeys() {
		return nil
	}

	i, j := 0, 0
	for _, length := range f.block.lengths {
		j += length
		f.block.keys = append(f.block.keys, f.block.data[i:j])
		i = j
	}
	f.data = f.policy.AppendFilter(f.data, f.block.keys)

	// Reset the per-filter state.
	f.block.data = f.block.data[:0]
	f.block.lengths = f.block.lengths[:0]
	f.block.keys = f.block.keys[:0]
	return nil
}

// finishBlock emits filters up to the span containing blockOffset, the file
// offset at which the next data block begins. Spans that saw no keys still
// get a filter, keeping the offset array addressable by blockOffset >>
// filterBaseLog for any data block in the table.
func (f *filterWriter) finishBlock(blockOffset uint64) error {
	for i := blockOffset >> filterBaseLog; i > uint64(len(f.offsets)); {
		if err := f.emit(); err != nil {
			return err
		}
	}
	return nil
}

// finish flushes any pending keys and appends the offset array, its own
// start offset, and the span size log, completing the filter block.
func (f *filterWriter) finish() ([]byte, error) {
	if f.hasKeys() {
		if err := f.emit(); err != nil {
			return nil, err
		}
	}
	if err := f.appendOffset(); err != nil {
		return nil, err
	}

	var b [4]byte
	for _, x := range f.offsets {
		binary.LittleEndian.PutUint32(b[:], x)
		f.data = append(f.data, b[0], b[1], b[2], b[3])
	}
	f.data = append(f.data, filterBaseLog)
	return f.data, nil
}

// filterReader answers approximate-membership queries against a table's
// filter block.
type filterReader struct {
	data    []byte
	offsets []byte // len(offsets) must be a multiple of 4.
	policy  base.FilterPolicy
	shift   uint32
}

func (f *filterReader) valid() bool {
	return f.data != nil
}

func (f *filterReader) init(data []byte, policy base.FilterPolicy) (ok bool) {
	if len(data) < 5 {
		return false
	}
	lastOffset := binary.LittleEndian.Uint32(data[len(data)-5:])
	if uint64(lastOffset) > uint64(len(data)-5) {
		return false
	}
	data, offsets, shift := data[:lastOffset], data[lastOffset:len(data)-1], uint32(data[len(data)-1])
	if len(offsets)&3 != 0 {
		return false
	}
	f.data = data
	f.offsets = offsets
	f.policy = policy
	f.shift = shift
	return true
}

// mayContain returns whether the filter for the data block at blockOffset
// may contain the given user key. Structural inconsistencies in the filter
// fail open: a key is reported present rather than risking a false negative.
// The one exception is a filter whose start and limit offsets coincide,
// which encodes a definite empty span.
func (f *filterReader) mayContain(blockOffset uint64, key []byte) bool {
	index := blockOffset >> f.shift
	if index >= uint64(len(f.offsets)/4-1) {
		return true
	}
	i := binary.LittleEndian.Uint32(f.offsets[4*index+0:])
	j := binary.LittleEndian.Uint32(f.offsets[4*index+4:])
	if i == j {
		// Empty filters do not match any keys.
		return false
	}
	if i > j || uint64(j) > uint64(len(f.data)) {
		return true
	}
	return f.policy.MayContain(f.data[i:j], key)
}
