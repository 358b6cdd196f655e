// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"github.com/slabdb/slab/internal/base"
	"github.com/slabdb/slab/internal/cache"
)

// Compression is the per-block compression algorithm to use.
type Compression int

// The available compression types.
const (
	DefaultCompression Compression = iota
	NoCompression
	SnappyCompression
)

func (c Compression) String() string {
	switch c {
	case DefaultCompression:
		return "Default"
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	default:
		return "Unknown"
	}
}

// WriterOptions holds the parameters used to create a table Writer.
type WriterOptions struct {
	// BlockRestartInterval is the number of keys between restart points for
	// prefix compression of keys.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each table
	// block. A block is finished once its size estimate reaches the target.
	//
	// The default value is 4096.
	BlockSize int

	// Comparer defines the ordering of keys in the table.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *base.Comparer

	// Compression defines the per-block compression to use.
	//
	// The default value (DefaultCompression) uses snappy compression.
	Compression Compression

	// FilterPolicy defines a filter algorithm (such as a Bloom filter) that
	// can reduce disk reads for point lookups. Leave nil to write no filter
	// block.
	FilterPolicy base.FilterPolicy

	// Logger is used for fatal contract violations.
	Logger base.Logger
}

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified.
func (o WriterOptions) ensureDefaults() WriterOptions {
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.Compression <= DefaultCompression || o.Compression > SnappyCompression {
		o.Compression = SnappyCompression
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	return o
}

// ReaderOptions holds the parameters needed for reading a table.
type ReaderOptions struct {
	// Comparer defines the ordering of keys in the table. It must match the
	// comparer the table was written with.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *base.Comparer

	// FilterPolicy matches the policy the table's filter block, if any, was
	// built with. Leave nil to ignore any filter block.
	FilterPolicy base.FilterPolicy

	// VerifyChecksums causes every block read to be verified against its
	// trailer checksum.
	VerifyChecksums bool

	// Cache, when non-nil, holds decoded blocks so that re-reads of a block
	// skip storage. Each open table must use a distinct CacheID to namespace
	// its block offsets within the shared cache.
	Cache   *cache.Cache
	CacheID uint64

	// Logger is used for fatal contract violations.
	Logger base.Logger
}

func (o ReaderOptions) ensureDefaults() ReaderOptions {
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	return o
}
