// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package sstable implements readers and writers of slab tables.
//
// A table is a log-structured merge tree style sorted string table: an
// immutable file of prefix-compressed blocks holding internal key/value
// pairs in increasing key order, with a sparse index, an optional filter
// block, and a fixed-size footer locating the index structures.
//
// The file format is:
//
//	<start_of_file>
//	[data block 0]
//	[data block 1]
//	...
//	[data block N-1]
//	[meta filter block] (optional)
//	[metaindex block]
//	[index block]
//	[footer]
//	<end_of_file>
//
// Each block consists of some data and a 5 byte trailer: a 1 byte block type
// and a 4 byte checksum of the compressed data. The block type gives the per
// block compression used; each block is compressed independently. The
// checksum is a CRC-32 with Castagnoli's polynomial, masked as in
// internal/crc, computed over the compressed data and the block type byte.
//
// Each data block holds the prefix-compressed record format described at
// blockWriter. The index block's entries map the separator key of each data
// block to that block's handle: the ordered pair of (offset, length), both
// encoded as varints. The metaindex block maps meta block names to handles;
// the only name written is "filter.<policy name>" for the filter block.
//
// The footer is the fixed 48 byte tail of the file: the metaindex and index
// block handles, zero-padded to 40 bytes, followed by the 8 byte magic
// number.
package sstable

import (
	"encoding/binary"

	"github.com/slabdb/slab/internal/base"
)

const (
	blockTrailerLen = 5
	footerLen       = 48

	// The magic number is the footer's final 8 bytes, stored as two
	// little-endian 4 byte halves, low half first.
	magic = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"

	metaFilterPrefix = "filter."

	noCompressionBlockType     = 0
	snappyCompressionBlockType = 1
)

// blockHandle is the file offset and length of a block.
type blockHandle struct {
	offset, length uint64
}

// decodeBlockHandle returns the block handle encoded at the start of src, as
// well as the number of bytes it occupies. It returns zero if given invalid
// input.
func decodeBlockHandle(src []byte) (blockHandle, int) {
	offset, n := binary.Uvarint(src)
	if n <= 0 {
		return blockHandle{}, 0
	}
	length, m := binary.Uvarint(src[n:])
	if m <= 0 {
		return blockHandle{}, 0
	}
	return blockHandle{offset, length}, n + m
}

func encodeBlockHandle(dst []byte, b blockHandle) int {
	n := binary.PutUvarint(dst, b.offset)
	m := binary.PutUvarint(dst[n:], b.length)
	return n + m
}

// footer locates a table's metaindex and index blocks.
type footer struct {
	metaindexBH blockHandle
	indexBH     blockHandle
}

// encode appends the fixed-length footer encoding to dst.
func (f footer) encode(dst []byte) []byte {
	var buf [footerLen]byte
	n := encodeBlockHandle(buf[:], f.metaindexBH)
	encodeBlockHandle(buf[n:], f.indexBH)
	copy(buf[footerLen-len(magic):], magic)
	return append(dst, buf[:]...)
}

// decodeFooter decodes the footer from the final footerLen bytes of a table
// file.
func decodeFooter(buf []byte) (footer, error) {
	var f footer
	if len(buf) != footerLen {
		return f, base.CorruptionErrorf("invalid table (footer is %d bytes, not %d)",
			len(buf), footerLen)
	}
	if string(buf[footerLen-len(magic):]) != magic {
		return f, base.CorruptionErrorf("invalid table (bad magic number)")
	}
	var n int
	f.metaindexBH, n = decodeBlockHandle(buf)
	if n == 0 {
		return f, base.CorruptionErrorf("invalid table (bad metaindex block handle)")
	}
	f.indexBH, n = decodeBlockHandle(buf[n:])
	if n == 0 {
		return f, base.CorruptionErrorf("invalid table (bad index block handle)")
	}
	return f, nil
}
