// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/slabdb/slab/internal/base"
	"github.com/slabdb/slab/internal/crc"
)

// Writer writes a table file. Keys must be added in strictly increasing
// internal key order; Close finishes the file with the filter, metaindex and
// index blocks and the footer.
type Writer struct {
	writer    io.Writer
	bufWriter *bufio.Writer
	closer    io.Closer
	err       error

	cmp         *base.Comparer
	blockSize   int
	compression Compression
	logger      base.Logger

	// A table is a series of blocks and a block's index entry contains a
	// separator key between one block and the next. Thus, a finished block
	// cannot be written until the first key in the next block is seen.
	// pendingBH is the blockHandle of a finished block that is waiting for
	// the next call to Add. If the writer is not in this state, pendingBH is
	// zero.
	pendingBH blockHandle
	// offset is the offset (relative to the table start) of the next block
	// to be written.
	offset uint64
	// prevKey is a copy of the key most recently passed to Add.
	prevKey base.InternalKey

	block      blockWriter
	indexBlock blockWriter
	// sepBuf holds the user key bytes of the separator most recently handed
	// to the index block.
	sepBuf []byte
	// compressedBuf is the destination buffer for snappy compression. It is
	// re-used over the lifetime of the writer, avoiding the allocation of a
	// temporary buffer for each block.
	compressedBuf []byte
	// filter accumulates the filter block.
	filter filterWriter
	// tmp is a scratch buffer, large enough to hold either footerLen bytes,
	// blockTrailerLen bytes, or (2 * binary.MaxVarintLen64) bytes.
	tmp [footerLen]byte
}

// NewWriter returns a new table writer that writes to w. If w implements
// io.Closer, closing the writer will close it.
func NewWriter(w io.Writer, o WriterOptions) *Writer {
	o = o.ensureDefaults()
	t := &Writer{
		cmp:         o.Comparer,
		blockSize:   o.BlockSize,
		compression: o.Compression,
		logger:      o.Logger,
		block: blockWriter{
			cmp:             o.Comparer.Compare,
			restartInterval: o.BlockRestartInterval,
		},
		indexBlock: blockWriter{
			cmp:             o.Comparer.Compare,
			restartInterval: 1,
		},
		filter: filterWriter{
			policy: o.FilterPolicy,
		},
	}
	if w == nil {
		t.err = errors.New("sstable: nil writer")
		return t
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	// If w does not have a Flush method, do our own buffering.
	type flusher interface {
		Flush() error
	}
	if _, ok := w.(flusher); ok {
		t.writer = w
	} else {
		t.bufWriter = bufio.NewWriter(w)
		t.writer = t.bufWriter
	}
	return t
}

// Add appends a key/value pair to the table. The keys passed to Add must be
// in strictly increasing internal key order.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.prevKey.UserKey != nil &&
		base.InternalCompare(w.cmp.Compare, w.prevKey, key) >= 0 {
		w.err = errors.Errorf("sstable: Add called in non-increasing key order: %s, %s",
			w.prevKey, key)
		return w.err
	}
	if w.filter.policy != nil {
		w.filter.appendKey(key.UserKey)
	}
	w.flushPendingBH(key)
	w.block.add(key, value)
	w.prevKey = base.InternalKey{
		UserKey: append(w.prevKey.UserKey[:0], key.UserKey...),
		Trailer: key.Trailer,
	}
	// If the estimated block size is sufficiently large, finish the current
	// block.
	if w.block.estimatedSize() >= w.blockSize {
		bh, err := w.finishBlock()
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
	}
	return nil
}

// flushPendingBH adds any pending block handle to the index block, keyed by
// a separator between the finished block's last key and the given key. A
// zero key (at Close) uses the last key's successor instead.
func (w *Writer) flushPendingBH(key base.InternalKey) {
	if w.pendingBH.length == 0 {
		// A valid blockHandle must be non-zero. In particular, it must have
		// a non-zero length.
		return
	}
	var sep base.InternalKey
	if key.UserKey == nil {
		sep = w.prevKey.Successor(w.cmp.Compare, w.cmp.Successor, w.sepBuf[:0])
	} else {
		sep = w.prevKey.Separator(w.cmp.Compare, w.cmp.Separator, w.sepBuf[:0], key)
	}
	// When the separator cannot be shortened, sep is prevKey itself. Copy
	// its user key into sepBuf so that sepBuf never aliases prevKey's
	// storage: the next separator is built in sepBuf and must not clobber
	// prevKey in place.
	sep.UserKey = append(w.sepBuf[:0], sep.UserKey...)
	w.sepBuf = sep.UserKey

	n := encodeBlockHandle(w.tmp[:], w.pendingBH)
	w.indexBlock.add(sep, w.tmp[:n])
	w.pendingBH = blockHandle{}
}

// finishBlock finishes the current data block and returns its block handle.
func (w *Writer) finishBlock() (blockHandle, error) {
	b := w.block.finish()

	// Compress the buffer, discarding the result if the improvement isn't
	// at least 12.5%.
	blockType := byte(noCompressionBlockType)
	if w.compression == SnappyCompression {
		compressed := snappy.Encode(w.compressedBuf, b)
		w.compressedBuf = compressed[:cap(compressed)]
		if len(compressed) < len(b)-len(b)/8 {
			blockType = snappyCompressionBlockType
			b = compressed
		}
	}
	bh, err := w.writeRawBlock(b, blockType)

	// Calculate filters.
	if w.filter.policy != nil {
		if err := w.filter.finishBlock(w.offset); err != nil {
			return blockHandle{}, err
		}
	}

	w.block.reset()
	return bh, err
}

func (w *Writer) writeRawBlock(b []byte, blockType byte) (blockHandle, error) {
	w.tmp[0] = blockType

	// Calculate the checksum over the block contents and the type byte.
	checksum := crc.New(b).Update(w.tmp[:1]).Value()
	binary.LittleEndian.PutUint32(w.tmp[1:5], checksum)

	if _, err := w.writer.Write(b); err != nil {
		return blockHandle{}, err
	}
	if _, err := w.writer.Write(w.tmp[:blockTrailerLen]); err != nil {
		return blockHandle{}, err
	}
	bh := blockHandle{w.offset, uint64(len(b))}
	w.offset += uint64(len(b)) + blockTrailerLen
	return bh, nil
}

// EstimatedSize returns the number of bytes the table would occupy were it
// finished now, ignoring the shrinking effect of compression.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.block.estimatedSize()+w.indexBlock.estimatedSize()) + footerLen
}

// Close finishes writing the table and closes the underlying writer if it
// is an io.Closer. It is an error to call Add after Close.
func (w *Writer) Close() (err error) {
	defer func() {
		if w.closer == nil {
			return
		}
		err1 := w.closer.Close()
		if err == nil {
			err = err1
		}
		w.closer = nil
	}()
	if w.err != nil {
		return w.err
	}

	// Finish the last data block, or force an empty data block if there
	// aren't any data blocks at all.
	w.flushPendingBH(base.InternalKey{})
	if w.block.nEntries > 0 || w.indexBlock.nEntries == 0 {
		bh, err := w.finishBlock()
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
		w.flushPendingBH(base.InternalKey{})
	}

	// Write the filter block and its metaindex entry.
	metaindex := blockWriter{cmp: w.cmp.Compare, restartInterval: 1}
	if w.filter.policy != nil {
		b, err := w.filter.finish()
		if err != nil {
			w.err = err
			return w.err
		}
		bh, err := w.writeRawBlock(b, noCompressionBlockType)
		if err != nil {
			w.err = err
			return w.err
		}
		n := encodeBlockHandle(w.tmp[:], bh)
		metaindex.add(base.InternalKey{
			UserKey: []byte(metaFilterPrefix + w.filter.policy.Name()),
		}, w.tmp[:n])
	}

	// Write the metaindex block. It might be an empty block, if the filter
	// policy is nil.
	metaindexBH, err := w.writeRawBlock(metaindex.finish(), noCompressionBlockType)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the index block.
	indexBH, err := w.writeRawBlock(w.indexBlock.finish(), noCompressionBlockType)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the table footer.
	f := footer{metaindexBH: metaindexBH, indexBH: indexBH}
	if _, err := w.writer.Write(f.encode(w.tmp[:0])); err != nil {
		w.err = err
		return w.err
	}

	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			w.err = err
			return err
		}
	}

	// Make any future calls to Add or Close return an error.
	w.err = errors.New("sstable: writer is closed")
	return nil
}
