// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "io"

// File is a readable handle for an immutable table file. Wrap an *os.File
// with a Size method backed by Stat to satisfy it.
type File interface {
	io.ReaderAt
	io.Closer
	// Size returns the total length of the file in bytes.
	Size() (int64, error)
}

// NewMemFile returns a File backed by an in-memory byte slice. Intended for
// tests.
func NewMemFile(data []byte) File {
	return &memFile{data: data}
}

type memFile struct {
	data []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Close() error {
	return nil
}

func (f *memFile) Size() (int64, error) {
	return int64(len(f.data)), nil
}
