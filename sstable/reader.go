// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/slabdb/slab/internal/base"
	"github.com/slabdb/slab/internal/cache"
	"github.com/slabdb/slab/internal/crc"
)

// Reader reads a table file. It is safe for concurrent use by multiple
// goroutines; the underlying file must support concurrent ReadAt calls.
type Reader struct {
	file base.File
	err  error

	cmp             *base.Comparer
	logger          base.Logger
	verifyChecksums bool

	blockCache *cache.Cache
	cacheID    uint64

	// index holds the decoded index block for the lifetime of the reader.
	index  []byte
	filter filterReader
}

// NewReader returns a new table reader for the file. Closing the reader will
// close the file.
func NewReader(f base.File, o ReaderOptions) (*Reader, error) {
	o = o.ensureDefaults()
	if f == nil {
		return nil, errors.New("sstable: nil file")
	}
	r := &Reader{
		file:            f,
		cmp:             o.Comparer,
		logger:          o.Logger,
		verifyChecksums: o.VerifyChecksums,
		blockCache:      o.Cache,
		cacheID:         o.CacheID,
	}
	if r.blockCache != nil && r.cacheID == 0 {
		r.cacheID = r.blockCache.NewID()
	}

	size, err := f.Size()
	if err != nil {
		return nil, errors.Wrap(err, "sstable: invalid table (could not determine file size)")
	}
	if size < footerLen {
		return nil, base.CorruptionErrorf("sstable: invalid table (file size is too small)")
	}
	var buf [footerLen]byte
	if _, err := f.ReadAt(buf[:], size-footerLen); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "sstable: invalid table (could not read footer)")
	}
	ftr, err := decodeFooter(buf[:])
	if err != nil {
		return nil, err
	}

	if err := r.readMetaindex(ftr.metaindexBH, o.FilterPolicy); err != nil {
		return nil, err
	}
	if r.index, err = r.readBlock(ftr.indexBH); err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the reader's resources and closes the underlying file.
func (r *Reader) Close() error {
	if r.err != nil {
		if r.file != nil {
			r.file.Close()
			r.file = nil
		}
		return r.err
	}
	if r.file != nil {
		r.err = r.file.Close()
		r.file = nil
		if r.err != nil {
			return r.err
		}
	}
	// Make any future calls to Get, NewIter or Close return an error.
	r.err = errors.New("sstable: reader is closed")
	return nil
}

// Get retrieves the value associated with key, as of the given sequence
// number. It returns base.ErrNotFound if the table holds no visible entry
// for the key, or if the newest visible entry is a deletion tombstone.
func (r *Reader) Get(key []byte, seqNum base.SeqNum) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	probe := base.MakeInternalKey(key, seqNum, base.InternalKeyKindMax)

	index, err := newBlockIter(r.cmp.Compare, r.index)
	if err != nil {
		return nil, err
	}
	index.SeekGE(probe)
	if !index.Valid() {
		return nil, base.ErrNotFound
	}
	h, n := decodeBlockHandle(index.Value())
	if n == 0 || n != len(index.Value()) {
		return nil, base.CorruptionErrorf("sstable: corrupt index entry")
	}
	if r.filter.valid() && !r.filter.mayContain(h.offset, key) {
		return nil, base.ErrNotFound
	}

	b, err := r.readBlock(h)
	if err != nil {
		return nil, err
	}
	data, err := newBlockIter(r.cmp.Compare, b)
	if err != nil {
		return nil, err
	}
	data.SeekGE(probe)
	if !data.Valid() || !r.cmp.Equal(data.Key().UserKey, key) {
		return nil, base.ErrNotFound
	}
	if data.Key().Kind() == base.InternalKeyKindDelete {
		return nil, base.ErrNotFound
	}
	return data.Value(), nil
}

// NewIter returns an iterator over the entire table.
func (r *Reader) NewIter() *Iter {
	i := &Iter{reader: r}
	if r.err != nil {
		i.err = r.err
		return i
	}
	i.err = i.index.init(r.cmp.Compare, r.index)
	return i
}

// cacheKey returns the block cache key for the block at the given offset:
// the reader's cache id followed by the offset, both fixed-width.
func (r *Reader) cacheKey(offset uint64) []byte {
	var key [16]byte
	binary.LittleEndian.PutUint64(key[:8], r.cacheID)
	binary.LittleEndian.PutUint64(key[8:], offset)
	return key[:]
}

// readBlock reads and decodes the block at the given handle, consulting the
// block cache first if one is configured.
func (r *Reader) readBlock(bh blockHandle) ([]byte, error) {
	if r.blockCache != nil {
		if h, ok := r.blockCache.Lookup(r.cacheKey(bh.offset)); ok {
			b := h.Value()
			h.Release()
			return b, nil
		}
	}

	b := make([]byte, bh.length+blockTrailerLen)
	if _, err := r.file.ReadAt(b, int64(bh.offset)); err != nil {
		return nil, base.MarkCorruptionError(errors.Wrap(err, "sstable: truncated block read"))
	}
	if r.verifyChecksums {
		checksum0 := binary.LittleEndian.Uint32(b[bh.length+1:])
		checksum1 := crc.New(b[:bh.length+1]).Value()
		if checksum0 != checksum1 {
			return nil, base.CorruptionErrorf("sstable: invalid table (checksum mismatch)")
		}
	}
	switch b[bh.length] {
	case noCompressionBlockType:
		b = b[:bh.length:bh.length]
	case snappyCompressionBlockType:
		decoded, err := snappy.Decode(nil, b[:bh.length])
		if err != nil {
			return nil, base.MarkCorruptionError(
				errors.Wrap(err, "sstable: corrupted compressed block contents"))
		}
		b = decoded
	default:
		return nil, base.CorruptionErrorf("sstable: unknown block compression: %d", b[bh.length])
	}

	if r.blockCache != nil {
		r.blockCache.Insert(r.cacheKey(bh.offset), b, int64(len(b)), nil).Release()
	}
	return b, nil
}

// readMetaindex locates and loads the filter block, if the table has one and
// a matching policy was supplied.
func (r *Reader) readMetaindex(metaindexBH blockHandle, policy base.FilterPolicy) error {
	if policy == nil {
		// The only metaindex entry we care about is the filter. Without a
		// policy, we can ignore the entire metaindex block.
		return nil
	}

	b, err := r.readBlock(metaindexBH)
	if err != nil {
		return err
	}
	i, err := newBlockIter(r.cmp.Compare, b)
	if err != nil {
		return err
	}
	filterName := metaFilterPrefix + policy.Name()
	filterBH := blockHandle{}
	for i.First(); i.Valid(); i.Next() {
		if filterName != string(i.Key().UserKey) {
			continue
		}
		var n int
		filterBH, n = decodeBlockHandle(i.Value())
		if n == 0 {
			return base.CorruptionErrorf("sstable: invalid table (bad filter block handle)")
		}
		break
	}

	if filterBH != (blockHandle{}) {
		b, err = r.readBlock(filterBH)
		if err != nil {
			return err
		}
		if !r.filter.init(b, policy) {
			return base.CorruptionErrorf("sstable: invalid table (bad filter block)")
		}
	}
	return nil
}

// Iter is an iterator over an entire table. It is a two-level iterator: to
// seek for a given key, it first looks in the index for the block that
// contains that key, and then looks inside that block.
type Iter struct {
	reader *Reader
	index  blockIter
	data   blockIter
	err    error
}

// loadBlock loads the data block referenced by the current index entry.
func (i *Iter) loadBlock() bool {
	v := i.index.Value()
	h, n := decodeBlockHandle(v)
	if n == 0 || n != len(v) {
		i.err = base.CorruptionErrorf("sstable: corrupt index entry")
		return false
	}
	b, err := i.reader.readBlock(h)
	if err != nil {
		i.err = err
		return false
	}
	if err := i.data.init(i.reader.cmp.Compare, b); err != nil {
		i.err = err
		return false
	}
	return true
}

// skipForward advances to the first entry of following blocks until it finds
// a non-empty one or exhausts the index.
func (i *Iter) skipForward() bool {
	for !i.data.Valid() {
		if i.err != nil || !i.index.Next() {
			return false
		}
		if !i.loadBlock() {
			return false
		}
		i.data.First()
	}
	return true
}

// First moves the iterator to the first entry of the table and reports
// whether such an entry exists.
func (i *Iter) First() bool {
	if i.err != nil {
		return false
	}
	i.index.First()
	if !i.index.Valid() {
		return false
	}
	if !i.loadBlock() {
		return false
	}
	i.data.First()
	return i.skipForward()
}

// SeekGE moves the iterator to the first entry whose key is greater than or
// equal to key, and reports whether such an entry exists.
func (i *Iter) SeekGE(key base.InternalKey) bool {
	if i.err != nil {
		return false
	}
	i.index.SeekGE(key)
	if !i.index.Valid() {
		return false
	}
	if !i.loadBlock() {
		return false
	}
	i.data.SeekGE(key)
	return i.skipForward()
}

// Next moves the iterator to the next entry and reports whether the iterator
// remains valid.
func (i *Iter) Next() bool {
	if i.err != nil {
		return false
	}
	if i.data.Next() {
		return true
	}
	return i.skipForward()
}

// Key returns the internal key of the current entry.
func (i *Iter) Key() base.InternalKey {
	return i.data.Key()
}

// Value returns the value of the current entry.
func (i *Iter) Value() []byte {
	return i.data.Value()
}

// Valid reports whether the iterator is positioned at an entry.
func (i *Iter) Valid() bool {
	return i.err == nil && i.data.Valid()
}

// Error returns any error the iterator encountered.
func (i *Iter) Error() error {
	return i.err
}

// Close invalidates the iterator and returns any accumulated error.
func (i *Iter) Close() error {
	i.data = blockIter{}
	return i.err
}
