// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateIncremental(t *testing.T) {
	data := []byte("hello, checksummed world")
	for i := range data {
		got := New(data[:i]).Update(data[i:]).Value()
		require.Equal(t, New(data).Value(), got)
	}
}

func TestValueMasked(t *testing.T) {
	// The cooked value must differ from the raw CRC so that checksummed data
	// containing embedded checksums does not degenerate.
	data := []byte("a")
	raw := uint32(New(data))
	require.NotEqual(t, raw, New(data).Value())

	// Distinct inputs produce distinct checksums.
	require.NotEqual(t, New([]byte("a")).Value(), New([]byte("b")).Value())
}
