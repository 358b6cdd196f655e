// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slabdb/slab/internal/base"
)

func TestBlockHandleRoundTrip(t *testing.T) {
	testCases := []blockHandle{
		{0, 0},
		{1, 1},
		{777, 2048},
		{1<<63 - 1, 1<<32 - 1},
	}
	for _, bh := range testCases {
		var buf [20]byte
		n := encodeBlockHandle(buf[:], bh)
		decoded, m := decodeBlockHandle(buf[:n])
		require.Equal(t, bh, decoded)
		require.Equal(t, n, m)
	}
}

func TestDecodeBlockHandleBadVarint(t *testing.T) {
	// A varint with no terminating byte is malformed.
	_, n := decodeBlockHandle([]byte{0x80, 0x80, 0x80})
	require.Zero(t, n)
	_, n = decodeBlockHandle([]byte{0x01, 0x80})
	require.Zero(t, n)
	_, n = decodeBlockHandle(nil)
	require.Zero(t, n)
}

func TestFooterRoundTrip(t *testing.T) {
	testCases := []footer{
		{},
		{metaindexBH: blockHandle{1, 2}, indexBH: blockHandle{3, 4}},
		{metaindexBH: blockHandle{1 << 40, 1 << 20}, indexBH: blockHandle{1<<63 - 1, 1<<30 - 1}},
	}
	for _, f := range testCases {
		buf := f.encode(nil)
		require.Len(t, buf, footerLen)
		decoded, err := decodeFooter(buf)
		require.NoError(t, err)
		require.Equal(t, f, decoded)
	}
}

func TestFooterBadMagic(t *testing.T) {
	f := footer{metaindexBH: blockHandle{1, 2}, indexBH: blockHandle{3, 4}}
	buf := f.encode(nil)
	buf[footerLen-1] ^= 0xff
	_, err := decodeFooter(buf)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))

	_, err = decodeFooter(buf[:footerLen-1])
	require.True(t, base.IsCorruptionError(err))
}

func TestFooterMagicPlacement(t *testing.T) {
	// The magic occupies the final 8 bytes, split as two little-endian
	// 4-byte halves, low half first.
	buf := footer{}.encode(nil)
	require.Equal(t, []byte{0x57, 0xfb, 0x80, 0x8b, 0x24, 0x75, 0x47, 0xdb}, buf[40:])
}
