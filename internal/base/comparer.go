// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Compare returns -1, 0, or +1 depending on whether a is 'less than', 'equal
// to' or 'greater than' b. The two arguments can only be 'equal' if their
// contents are exactly equal. Furthermore, the empty slice must be 'less than'
// any non-empty slice. Compare is used to compare user keys.
//
// The comparison function must be total: all keys must be comparable to each
// other, and the ordering must be transitive.
type Compare func(a, b []byte) int

// Equal returns true if a and b are equivalent. For a given Compare,
// Equal(a,b) must return true iff Compare(a,b) returns zero, that is, Equal
// is a (potentially faster) specialization of Compare.
type Equal func(a, b []byte) bool

// Separator is used to construct SSTable index blocks. A trivial
// implementation is `return a`, but appending fewer bytes leads to smaller
// SSTables.
//
// Given keys a, b for which Compare(a, b) < 0, Separator returns a key k such
// that:
//
//  1. Compare(a, k) <= 0, and
//  2. Compare(k, b) < 0.
//
// As a special case, b may be nil in which case the second condition is
// dropped.
//
// For example, if dst, a and b are the []byte equivalents of the strings
// "aqua", "black" and "blue", then the result may be "aquablb".
// Similarly, if the arguments were "aqua", "green" and "", then the result
// may be "aquah".
type Separator func(dst, a, b []byte) []byte

// Successor returns a shortened key k given a key a such that Compare(a, k)
// <= 0. A simple implementation may return a unchanged. The dst parameter may
// be used to store the returned key, though it is valid to pass nil. The
// returned key must be valid to pass to Compare.
type Successor func(dst, a []byte) []byte

// FormatKey returns a formatter for the user key.
type FormatKey func(key []byte) fmt.Formatter

// Comparer defines a total ordering over the space of []byte keys. A nil
// function field is filled in by EnsureDefaults with a generic implementation
// derived from Compare.
type Comparer struct {
	// Compare defines the ordering; it is the only function field that must
	// always be specified.
	Compare Compare

	// Equal defaults to using Compare.
	Equal Equal

	// Separator defaults to returning a verbatim.
	Separator Separator

	// Successor defaults to returning a verbatim.
	Successor Successor

	// FormatKey defaults to FormatBytes.
	FormatKey FormatKey

	// Name is the name of the comparer.
	//
	// A store created with one comparer name must be accessed thereafter with
	// a comparer of the same name; the name is persisted in the footprint of
	// the tables it writes.
	Name string
}

// EnsureDefaults ensures that all nil function fields are set, deriving generic
// implementations from c.Compare as necessary. It may mutate and return the
// receiver, or return a modified copy. Compare and Name must be set.
func (c *Comparer) EnsureDefaults() *Comparer {
	if c.Compare == nil || c.Name == "" {
		panic(errors.AssertionFailedf("comparer needs at least Compare and Name"))
	}
	if c.Equal != nil && c.Separator != nil && c.Successor != nil && c.FormatKey != nil {
		return c
	}
	n := &Comparer{}
	*n = *c
	if n.Equal == nil {
		cmp := n.Compare
		n.Equal = func(a, b []byte) bool {
			return cmp(a, b) == 0
		}
	}
	if n.Separator == nil {
		n.Separator = func(dst, a, b []byte) []byte {
			return append(dst, a...)
		}
	}
	if n.Successor == nil {
		n.Successor = func(dst, a []byte) []byte {
			return append(dst, a...)
		}
	}
	if n.FormatKey == nil {
		n.FormatKey = DefaultFormatter
	}
	return n
}

// DefaultFormatter is the default implementation of user key formatting:
// non-ASCII data is formatted as escaped hexadecimal values.
var DefaultFormatter FormatKey = func(key []byte) fmt.Formatter {
	return FormatBytes(key)
}

// DefaultComparer is the default implementation of the Comparer interface.
// It uses the natural ordering, consistent with bytes.Compare.
var DefaultComparer = &Comparer{
	Compare: bytes.Compare,
	Equal:   bytes.Equal,

	FormatKey: DefaultFormatter,

	Separator: func(dst, a, b []byte) []byte {
		i, n := SharedPrefixLen(a, b), len(dst)
		dst = append(dst, a...)

		min := len(a)
		if min > len(b) {
			min = len(b)
		}
		if i >= min {
			// Do not shorten if one string is a prefix of the other.
			return dst
		}

		if a[i] >= b[i] {
			// b is smaller than a or a is already the shortest possible.
			return dst
		}

		if i < len(b)-1 || a[i]+1 < b[i] {
			i += n
			dst[i]++
			return dst[:i+1]
		}

		i += n + 1
		for ; i < len(dst); i++ {
			if dst[i] != 0xff {
				dst[i]++
				return dst[:i+1]
			}
		}
		return dst
	},

	Successor: func(dst, a []byte) (ret []byte) {
		for i := 0; i < len(a); i++ {
			if a[i] != 0xff {
				dst = append(dst, a[:i+1]...)
				dst[len(dst)-1]++
				return dst
			}
		}
		// a is a run of 0xffs, leave it alone.
		return append(dst, a...)
	},

	// This name is part of the C++ Level-DB implementation's default file
	// format, and should not be changed.
	Name: "leveldb.BytewiseComparator",
}

// SharedPrefixLen returns the largest i such that a[:i] equals b[:i].
// This function can be useful in implementing the Comparer interface.
func SharedPrefixLen(a, b []byte) int {
	i := 0
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	asUint64 := func(c []byte, i int) uint64 {
		return binary.LittleEndian.Uint64(c[i:])
	}
	for i < n-7 && asUint64(a, i) == asUint64(b, i) {
		i += 8
	}
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// FormatBytes formats a byte slice using hexadecimal escapes for non-ASCII
// data.
type FormatBytes []byte

const lowerhex = "0123456789abcdef"

// Format implements the fmt.Formatter interface.
func (p FormatBytes) Format(s fmt.State, c rune) {
	buf := make([]byte, 0, len(p))
	for _, b := range p {
		if b < utf8.RuneSelf && strconv.IsPrint(rune(b)) {
			buf = append(buf, b)
			continue
		}
		buf = append(buf, `\x`...)
		buf = append(buf, lowerhex[b>>4])
		buf = append(buf, lowerhex[b&0xF])
	}
	s.Write(buf)
}
