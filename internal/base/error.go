// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that a get operation found a tombstone, or that the store
// does not contain the requested key at all. It is a definitive answer: no
// older partial store needs to be consulted.
var ErrNotFound = errors.New("slab: not found")

// ErrCorruption is a marker error for corrupted on-disk data. Errors
// resulting from data corruption are wrapped with this marker, and can be
// detected with errors.Is(err, ErrCorruption).
var ErrCorruption = errors.New("corruption")

// CorruptionErrorf formats according to a format specifier and returns the
// string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsCorruptionError reports whether the error indicates data corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// MarkCorruptionError marks the given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}
