// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFormatter(t *testing.T) {
	require.Equal(t, "abc", fmt.Sprint(DefaultFormatter([]byte("abc"))))
	require.Equal(t, `a\xffb\x00`, fmt.Sprint(DefaultFormatter([]byte("a\xffb\x00"))))
}

func TestComparerEnsureDefaults(t *testing.T) {
	c := &Comparer{Compare: DefaultComparer.Compare, Name: "test"}
	c = c.EnsureDefaults()
	require.True(t, c.Equal([]byte("a"), []byte("a")))
	require.False(t, c.Equal([]byte("a"), []byte("b")))
	// The generic separator and successor return the first key verbatim.
	require.Equal(t, []byte("a"), c.Separator(nil, []byte("a"), []byte("b")))
	require.Equal(t, []byte("a"), c.Successor(nil, []byte("a")))
	require.Equal(t, "key", fmt.Sprint(c.FormatKey([]byte("key"))))

	require.Panics(t, func() {
		(&Comparer{Name: "no-compare"}).EnsureDefaults()
	})
}

func TestSharedPrefixLen(t *testing.T) {
	testCases := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"a", "", 0},
		{"abc", "abd", 2},
		{"abcdefgh", "abcdefgh", 8},
		{"abcdefghi", "abcdefghj", 8},
		{"0123456789abcdef", "0123456789abcdXY", 14},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, SharedPrefixLen([]byte(tc.a), []byte(tc.b)), "%q, %q", tc.a, tc.b)
	}
}
