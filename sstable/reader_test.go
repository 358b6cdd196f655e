// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slabdb/slab/bloom"
	"github.com/slabdb/slab/internal/base"
	"github.com/slabdb/slab/internal/cache"
	"github.com/slabdb/slab/memtable"
)

type testEntry struct {
	key   string
	seq   base.SeqNum
	kind  base.InternalKeyKind
	value string
}

// buildTable writes the entries to an in-memory table and returns its raw
// bytes. The entries must be in the order the writer expects.
func buildTable(t *testing.T, o WriterOptions, entries []testEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, o)
	for _, e := range entries {
		ikey := base.MakeInternalKey([]byte(e.key), e.seq, e.kind)
		require.NoError(t, w.Add(ikey, []byte(e.value)))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func openTable(t *testing.T, data []byte, o ReaderOptions) *Reader {
	t.Helper()
	r, err := NewReader(base.NewMemFile(data), o)
	require.NoError(t, err)
	return r
}

func TestReaderGet(t *testing.T) {
	entries := []testEntry{
		{"apple", 10, base.InternalKeyKindSet, "red"},
		{"apple", 5, base.InternalKeyKindSet, "green"},
		{"banana", 8, base.InternalKeyKindDelete, ""},
		{"banana", 3, base.InternalKeyKindSet, "yellow"},
		{"cherry", 1, base.InternalKeyKindSet, "dark"},
	}
	data := buildTable(t, WriterOptions{}, entries)
	r := openTable(t, data, ReaderOptions{})
	defer r.Close()

	// The newest visible version wins.
	v, err := r.Get([]byte("apple"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "red", string(v))

	// An older sequence number sees the older version.
	v, err = r.Get([]byte("apple"), 7)
	require.NoError(t, err)
	require.Equal(t, "green", string(v))

	// A sequence number below every version sees nothing.
	_, err = r.Get([]byte("apple"), 4)
	require.ErrorIs(t, err, base.ErrNotFound)

	// A tombstone hides the older version...
	_, err = r.Get([]byte("banana"), base.SeqNumMax)
	require.ErrorIs(t, err, base.ErrNotFound)
	// ...but a read from before the deletion does not see it.
	v, err = r.Get([]byte("banana"), 7)
	require.NoError(t, err)
	require.Equal(t, "yellow", string(v))

	v, err = r.Get([]byte("cherry"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "dark", string(v))

	_, err = r.Get([]byte("durian"), base.SeqNumMax)
	require.ErrorIs(t, err, base.ErrNotFound)
}

func TestReaderGetClosed(t *testing.T) {
	data := buildTable(t, WriterOptions{}, []testEntry{
		{"a", 1, base.InternalKeyKindSet, "1"},
	})
	r := openTable(t, data, ReaderOptions{})
	require.NoError(t, r.Close())

	_, err := r.Get([]byte("a"), base.SeqNumMax)
	require.Error(t, err)
	i := r.NewIter()
	require.False(t, i.First())
	require.Error(t, i.Error())
}

func TestReaderMultipleBlocks(t *testing.T) {
	// A tiny block size forces one entry per data block, exercising index
	// separators and the two-level iterator's block transitions.
	var entries []testEntry
	for i := 0; i < 100; i++ {
		entries = append(entries, testEntry{
			key:   fmt.Sprintf("key%03d", i),
			seq:   1,
			kind:  base.InternalKeyKindSet,
			value: fmt.Sprintf("val%03d", i),
		})
	}
	for _, compression := range []Compression{NoCompression, SnappyCompression} {
		t.Run(compression.String(), func(t *testing.T) {
			data := buildTable(t, WriterOptions{
				BlockSize:   1,
				Compression: compression,
			}, entries)
			r := openTable(t, data, ReaderOptions{VerifyChecksums: true})
			defer r.Close()

			for _, e := range entries {
				v, err := r.Get([]byte(e.key), base.SeqNumMax)
				require.NoError(t, err)
				require.Equal(t, e.value, string(v))
			}

			i := r.NewIter()
			n := 0
			for valid := i.First(); valid; valid = i.Next() {
				require.Equal(t, entries[n].key, string(i.Key().UserKey))
				require.Equal(t, entries[n].value, string(i.Value()))
				n++
			}
			require.NoError(t, i.Error())
			require.Equal(t, len(entries), n)
			require.NoError(t, i.Close())
		})
	}
}

func TestReaderIterSeekGE(t *testing.T) {
	entries := []testEntry{
		{"a", 1, base.InternalKeyKindSet, "1"},
		{"c", 1, base.InternalKeyKindSet, "3"},
		{"e", 1, base.InternalKeyKindSet, "5"},
		{"g", 1, base.InternalKeyKindSet, "7"},
	}
	data := buildTable(t, WriterOptions{BlockSize: 1}, entries)
	r := openTable(t, data, ReaderOptions{})
	defer r.Close()

	i := r.NewIter()
	defer i.Close()

	seek := func(key string) base.InternalKey {
		return base.MakeSearchKey([]byte(key))
	}
	require.True(t, i.SeekGE(seek("c")))
	require.Equal(t, "c", string(i.Key().UserKey))
	// Seeking between entries lands on the next one.
	require.True(t, i.SeekGE(seek("d")))
	require.Equal(t, "e", string(i.Key().UserKey))
	require.True(t, i.Next())
	require.Equal(t, "g", string(i.Key().UserKey))
	require.False(t, i.Next())
	// Seeking past the last entry exhausts the iterator.
	require.False(t, i.SeekGE(seek("h")))
}

func TestWriterUnshortenedSeparators(t *testing.T) {
	// Consecutive keys where each is a prefix of the next cannot produce a
	// shortened separator, so the index falls back to the block's last key
	// itself. Building the next separator must not clobber the writer's
	// record of that key.
	var entries []testEntry
	key := "k"
	for i := 0; i < 20; i++ {
		entries = append(entries, testEntry{key, 1, base.InternalKeyKindSet, fmt.Sprint(i)})
		key += "0"
	}
	data := buildTable(t, WriterOptions{BlockSize: 1, Compression: NoCompression}, entries)
	r := openTable(t, data, ReaderOptions{VerifyChecksums: true})
	defer r.Close()

	i := r.NewIter()
	n := 0
	for valid := i.First(); valid; valid = i.Next() {
		require.Equal(t, entries[n].key, string(i.Key().UserKey))
		require.Equal(t, entries[n].value, string(i.Value()))
		n++
	}
	require.NoError(t, i.Error())
	require.Equal(t, len(entries), n)
	require.NoError(t, i.Close())

	for _, e := range entries {
		v, err := r.Get([]byte(e.key), base.SeqNumMax)
		require.NoError(t, err)
		require.Equal(t, e.value, string(v))
	}
}

func TestReaderSnapshotAcrossBlocks(t *testing.T) {
	// Versions of a single user key spread over many blocks. The separator
	// between two equal user keys is never shortened, and a snapshot read
	// must still land on the newest version at or below its sequence number.
	var entries []testEntry
	for seq := base.SeqNum(20); seq >= 1; seq-- {
		if seq == 10 {
			entries = append(entries, testEntry{"k", seq, base.InternalKeyKindDelete, ""})
			continue
		}
		entries = append(entries, testEntry{"k", seq, base.InternalKeyKindSet, fmt.Sprint(seq)})
	}
	data := buildTable(t, WriterOptions{BlockSize: 1}, entries)
	r := openTable(t, data, ReaderOptions{})
	defer r.Close()

	for _, seq := range []base.SeqNum{20, 15, 11, 9, 1} {
		v, err := r.Get([]byte("k"), seq)
		require.NoError(t, err, "seq %d", seq)
		require.Equal(t, fmt.Sprint(seq), string(v), "seq %d", seq)
	}
	// The tombstone at sequence 10 hides the older versions.
	_, err := r.Get([]byte("k"), 10)
	require.ErrorIs(t, err, base.ErrNotFound)
	// A sequence number below every version sees nothing.
	_, err = r.Get([]byte("k"), 0)
	require.ErrorIs(t, err, base.ErrNotFound)
}

func TestReaderEmptyTable(t *testing.T) {
	data := buildTable(t, WriterOptions{}, nil)
	r := openTable(t, data, ReaderOptions{})
	defer r.Close()

	_, err := r.Get([]byte("any"), base.SeqNumMax)
	require.ErrorIs(t, err, base.ErrNotFound)

	i := r.NewIter()
	require.False(t, i.First())
	require.NoError(t, i.Error())
	require.NoError(t, i.Close())
}

func TestReaderBloomFilter(t *testing.T) {
	policy := bloom.FilterPolicy(10)
	var entries []testEntry
	for i := 0; i < 50; i++ {
		entries = append(entries, testEntry{
			key:   fmt.Sprintf("present%02d", i),
			seq:   1,
			kind:  base.InternalKeyKindSet,
			value: "x",
		})
	}
	data := buildTable(t, WriterOptions{FilterPolicy: policy}, entries)

	r := openTable(t, data, ReaderOptions{FilterPolicy: policy})
	defer r.Close()
	require.True(t, r.filter.valid())

	for _, e := range entries {
		_, err := r.Get([]byte(e.key), base.SeqNumMax)
		require.NoError(t, err)
	}
	_, err := r.Get([]byte("present99"), base.SeqNumMax)
	require.ErrorIs(t, err, base.ErrNotFound)

	// A reader without the policy ignores the filter block but still reads
	// correctly.
	r2 := openTable(t, data, ReaderOptions{})
	defer r2.Close()
	require.False(t, r2.filter.valid())
	v, err := r2.Get([]byte("present00"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "x", string(v))
}

func TestReaderBlockCache(t *testing.T) {
	entries := []testEntry{
		{"a", 1, base.InternalKeyKindSet, "1"},
		{"b", 1, base.InternalKeyKindSet, "2"},
	}
	data := buildTable(t, WriterOptions{}, entries)

	c := cache.New(1 << 20)
	r := openTable(t, data, ReaderOptions{Cache: c})
	defer r.Close()

	v, err := r.Get([]byte("a"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	missesAfterFirst := c.Metrics().Misses

	// The data block is resident now, so a second read is served from the
	// cache.
	v, err = r.Get([]byte("a"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	m := c.Metrics()
	require.Equal(t, missesAfterFirst, m.Misses)
	require.Greater(t, m.Hits, int64(0))
	require.Greater(t, m.Size, int64(0))
}

func TestReaderBlockCacheSharing(t *testing.T) {
	entriesA := []testEntry{{"k", 1, base.InternalKeyKindSet, "from-a"}}
	entriesB := []testEntry{{"k", 1, base.InternalKeyKindSet, "from-b"}}
	dataA := buildTable(t, WriterOptions{}, entriesA)
	dataB := buildTable(t, WriterOptions{}, entriesB)

	// Two tables sharing a cache must not see each other's blocks, even
	// though their block offsets coincide.
	c := cache.New(1 << 20)
	ra := openTable(t, dataA, ReaderOptions{Cache: c})
	defer ra.Close()
	rb := openTable(t, dataB, ReaderOptions{Cache: c})
	defer rb.Close()
	require.NotEqual(t, ra.cacheID, rb.cacheID)

	for i := 0; i < 2; i++ {
		v, err := ra.Get([]byte("k"), base.SeqNumMax)
		require.NoError(t, err)
		require.Equal(t, "from-a", string(v))
		v, err = rb.Get([]byte("k"), base.SeqNumMax)
		require.NoError(t, err)
		require.Equal(t, "from-b", string(v))
	}
}

// dataBlockHandle decodes the table's footer and index to find the handle of
// the first data block.
func dataBlockHandle(t *testing.T, data []byte) blockHandle {
	t.Helper()
	ftr, err := decodeFooter(data[len(data)-footerLen:])
	require.NoError(t, err)
	index := data[ftr.indexBH.offset : ftr.indexBH.offset+ftr.indexBH.length]
	i, err := newBlockIter(base.DefaultComparer.Compare, index)
	require.NoError(t, err)
	i.First()
	require.True(t, i.Valid())
	bh, n := decodeBlockHandle(i.Value())
	require.NotZero(t, n)
	return bh
}

func TestReaderChecksumMismatch(t *testing.T) {
	data := buildTable(t, WriterOptions{Compression: NoCompression}, []testEntry{
		{"a", 1, base.InternalKeyKindSet, "1"},
	})
	bh := dataBlockHandle(t, data)
	data[bh.offset] ^= 0xff

	r := openTable(t, data, ReaderOptions{VerifyChecksums: true})
	defer r.Close()
	_, err := r.Get([]byte("a"), base.SeqNumMax)
	require.True(t, base.IsCorruptionError(err), "got %v", err)
}

func TestReaderUnknownBlockType(t *testing.T) {
	data := buildTable(t, WriterOptions{Compression: NoCompression}, []testEntry{
		{"a", 1, base.InternalKeyKindSet, "1"},
	})
	bh := dataBlockHandle(t, data)
	// Overwrite the block type byte in the trailer.
	data[bh.offset+bh.length] = 0x7f

	r := openTable(t, data, ReaderOptions{})
	defer r.Close()
	_, err := r.Get([]byte("a"), base.SeqNumMax)
	require.True(t, base.IsCorruptionError(err), "got %v", err)
}

func TestReaderBadMagic(t *testing.T) {
	data := buildTable(t, WriterOptions{}, []testEntry{
		{"a", 1, base.InternalKeyKindSet, "1"},
	})
	data[len(data)-1] ^= 0xff

	_, err := NewReader(base.NewMemFile(data), ReaderOptions{})
	require.True(t, base.IsCorruptionError(err), "got %v", err)
}

func TestReaderTooSmall(t *testing.T) {
	_, err := NewReader(base.NewMemFile(make([]byte, footerLen-1)), ReaderOptions{})
	require.True(t, base.IsCorruptionError(err), "got %v", err)

	_, err = NewReader(nil, ReaderOptions{})
	require.Error(t, err)
}

func TestWriterOutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindSet), nil))
	err := w.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), nil)
	require.Error(t, err)
	// The writer is wedged; Close reports the same error.
	require.Error(t, w.Close())

	// Within a user key, sequence numbers must decrease.
	buf.Reset()
	w = NewWriter(&buf, WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindSet), nil))
}

func TestWriterEstimatedSize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOptions{Compression: NoCompression})
	// A fresh writer already accounts for the footer and the empty data and
	// index blocks' restart arrays, 4 bytes each.
	require.Equal(t, uint64(footerLen+8), w.EstimatedSize())
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("1")))
	require.Greater(t, w.EstimatedSize(), uint64(footerLen))
	require.NoError(t, w.Close())
	require.GreaterOrEqual(t, uint64(buf.Len()), uint64(footerLen))
}

func TestMemTableFlush(t *testing.T) {
	m := memtable.New(base.DefaultComparer)
	m.Add(1, base.InternalKeyKindSet, []byte("apple"), []byte("red"))
	m.Add(2, base.InternalKeyKindSet, []byte("banana"), []byte("yellow"))
	m.Add(3, base.InternalKeyKindDelete, []byte("banana"), nil)
	m.Add(4, base.InternalKeyKindSet, []byte("cherry"), []byte("dark"))

	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOptions{FilterPolicy: bloom.FilterPolicy(10)})
	it := m.NewIter()
	for valid := it.First(); valid; valid = it.Next() {
		require.NoError(t, w.Add(it.Key(), it.Value()))
	}
	require.NoError(t, w.Close())

	r := openTable(t, buf.Bytes(), ReaderOptions{FilterPolicy: bloom.FilterPolicy(10)})
	defer r.Close()

	v, err := r.Get([]byte("apple"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "red", string(v))
	// The tombstone survives the flush.
	_, err = r.Get([]byte("banana"), base.SeqNumMax)
	require.ErrorIs(t, err, base.ErrNotFound)
	v, err = r.Get([]byte("banana"), 2)
	require.NoError(t, err)
	require.Equal(t, "yellow", string(v))
	v, err = r.Get([]byte("cherry"), base.SeqNumMax)
	require.NoError(t, err)
	require.Equal(t, "dark", string(v))
}
