// Copyright 2026 The Slab Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// SeqNum is a sequence number defining precedence among identical user keys.
// A key with a higher sequence number takes precedence over a key with an
// equal user key of a lower sequence number. Sequence numbers are stored
// durably within the internal key "trailer" as a 7-byte (uint56) uint, so the
// maximum sequence number is 2^56-1. As keys are committed, they're assigned
// increasing sequence numbers. Readers use sequence numbers to read a
// consistent state, ignoring keys with sequence numbers larger than the
// reader's "visible sequence number".
type SeqNum uint64

const (
	// SeqNumZero is the zero sequence number.
	SeqNumZero SeqNum = 0
	// SeqNumMax is the largest valid sequence number.
	SeqNumMax SeqNum = 1<<56 - 1
)

func (s SeqNum) String() string {
	if s == SeqNumMax {
		return "inf"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// SafeFormat implements redact.SafeFormatter.
func (s SeqNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// InternalKeyKind enumerates the kind of key: a deletion tombstone or a set
// value.
type InternalKeyKind uint8

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete InternalKeyKind = 0
	InternalKeyKindSet    InternalKeyKind = 1

	// InternalKeyKindSeparator is the key kind used for separator and
	// successor keys written to sstable block indexes, and for search probe
	// keys. It is never persisted alongside real data.
	InternalKeyKindSeparator InternalKeyKind = 17

	// InternalKeyKindMax sorts 'less than or equal to' any other valid key
	// kind under InternalCompare. Use it, together with SeqNumMax, when
	// searching for any internal key formed from a certain user key.
	InternalKeyKindMax InternalKeyKind = InternalKeyKindSeparator

	// A marker for an invalid key, reported by DecodeInternalKey for inputs
	// too short to hold a trailer.
	InternalKeyKindInvalid InternalKeyKind = 255
)

var internalKeyKindNames = map[InternalKeyKind]string{
	InternalKeyKindDelete:    "DEL",
	InternalKeyKindSet:       "SET",
	InternalKeyKindSeparator: "SEPARATOR",
	InternalKeyKindInvalid:   "INVALID",
}

func (k InternalKeyKind) String() string {
	if s, ok := internalKeyKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN:%d", k)
}

// SafeFormat implements redact.SafeFormatter.
func (k InternalKeyKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

// InternalKeyTrailer encodes a SeqNum and an InternalKeyKind.
type InternalKeyTrailer uint64

// MakeTrailer constructs an internal key trailer from the specified sequence
// number and kind.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) InternalKeyTrailer {
	if seqNum > SeqNumMax {
		panic(errors.AssertionFailedf("sequence number %d exceeds maximum", uint64(seqNum)))
	}
	return (InternalKeyTrailer(seqNum) << 8) | InternalKeyTrailer(kind)
}

// String implements the fmt.Stringer interface.
func (t InternalKeyTrailer) String() string {
	return fmt.Sprintf("%s,%s", SeqNum(t>>8), InternalKeyKind(t&0xff))
}

// SeqNum returns the sequence number component of the trailer.
func (t InternalKeyTrailer) SeqNum() SeqNum {
	return SeqNum(t >> 8)
}

// Kind returns the key kind component of the trailer.
func (t InternalKeyTrailer) Kind() InternalKeyKind {
	return InternalKeyKind(t & 0xff)
}

// InternalKey is a key used for the in-memory and on-disk partial stores that
// make up a slab store.
//
// It consists of the user key (as given by the code that uses the package)
// followed by 8-bytes of metadata:
//   - 1 byte for the type of internal key: delete or set,
//   - 7 bytes for a uint56 sequence number, in little-endian format.
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

// InternalTrailerLen is the number of bytes used to encode InternalKey.Trailer.
const InternalTrailerLen = 8

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{
		UserKey: userKey,
		Trailer: MakeTrailer(seqNum, kind),
	}
}

// MakeSearchKey constructs an internal key that is appropriate for searching
// for the specified user key. The search key contains the maximal sequence
// number and kind, ensuring that it sorts before any other internal key for
// the same user key.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindMax)
}

// DecodeInternalKey decodes an encoded internal key. See InternalKey.Encode.
// Inputs shorter than the 8-byte trailer decode to an invalid key.
func DecodeInternalKey(encodedKey []byte) InternalKey {
	n := len(encodedKey) - InternalTrailerLen
	var trailer InternalKeyTrailer
	if n >= 0 {
		trailer = InternalKeyTrailer(binary.LittleEndian.Uint64(encodedKey[n:]))
		encodedKey = encodedKey[:n:n]
	} else {
		trailer = InternalKeyTrailer(InternalKeyKindInvalid)
		encodedKey = nil
	}
	return InternalKey{
		UserKey: encodedKey,
		Trailer: trailer,
	}
}

// InternalCompare compares two internal keys using the specified comparison
// function. For equal user keys, internal keys compare in descending sequence
// number order. For equal user keys and sequence numbers, internal keys
// compare in descending kind order.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	// Reverse order for trailer comparison.
	return cmp.Compare(b.Trailer, a.Trailer)
}

// Encode encodes the receiver into the buffer. The buffer must be large
// enough to hold the encoded data. See InternalKey.Size.
func (k InternalKey) Encode(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], uint64(k.Trailer))
}

// EncodeTrailer returns the encoded trailer portion of the key.
func (k InternalKey) EncodeTrailer() [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k.Trailer))
	return buf
}

// Separator returns a separator key such that k <= x && x < other, where less
// than is consistent with the Compare function. The buf parameter may be used
// to store the returned InternalKey.UserKey, though it is valid to pass nil.
// See the Separator type for details on separator keys.
func (k InternalKey) Separator(
	cmp Compare, sep Separator, buf []byte, other InternalKey,
) InternalKey {
	buf = sep(buf, k.UserKey, other.UserKey)
	if len(buf) <= len(k.UserKey) && cmp(k.UserKey, buf) < 0 {
		// The separator user key is physically shorter than k.UserKey (if it
		// is longer, we'll continue to use "k"), but logically after. Tack on
		// the max sequence number to the shortened user key. Note that we
		// could tack on any sequence number and kind here to create a valid
		// separator key. We use the max sequence number to match the behavior
		// of LevelDB and RocksDB.
		return MakeInternalKey(buf, SeqNumMax, InternalKeyKindSeparator)
	}
	return k
}

// Successor returns a successor key such that k <= x. A simple implementation
// may return k unchanged. The buf parameter may be used to store the returned
// InternalKey.UserKey, though it is valid to pass nil.
func (k InternalKey) Successor(cmp Compare, succ Successor, buf []byte) InternalKey {
	buf = succ(buf, k.UserKey)
	if (len(k.UserKey) == 0 || len(buf) <= len(k.UserKey)) && cmp(k.UserKey, buf) < 0 {
		// The successor user key is physically shorter than k.UserKey (if it
		// is longer, we'll continue to use "k"), but logically after.
		return MakeInternalKey(buf, SeqNumMax, InternalKeyKindSeparator)
	}
	return k
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalTrailerLen
}

// SeqNum returns the sequence number component of the key.
func (k InternalKey) SeqNum() SeqNum {
	return k.Trailer.SeqNum()
}

// Kind returns the kind component of the key.
func (k InternalKey) Kind() InternalKeyKind {
	return k.Trailer.Kind()
}

// Valid returns true if the key has a valid kind.
func (k InternalKey) Valid() bool {
	switch k.Kind() {
	case InternalKeyKindDelete, InternalKeyKindSet, InternalKeyKindSeparator:
		return true
	}
	return false
}

// Clone clones the storage for the UserKey component of the key.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return k
	}
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// String returns a string representation of the key.
func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%s,%s", FormatBytes(k.UserKey), k.SeqNum(), k.Kind())
}

// ParseInternalKey parses the string representation of an internal key. The
// format is `<user-key>#<seq-num>,<kind>`. Intended for tests.
func ParseInternalKey(s string) InternalKey {
	sep1 := strings.Index(s, "#")
	sep2 := strings.Index(s, ",")
	if sep1 == -1 || sep2 == -1 || sep2 < sep1 {
		panic(fmt.Sprintf("invalid internal key %q", s))
	}
	userKey := []byte(s[:sep1])
	seqNum, err := strconv.ParseUint(s[sep1+1:sep2], 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid seqnum in internal key %q", s))
	}
	var kind InternalKeyKind
	switch s[sep2+1:] {
	case "DEL":
		kind = InternalKeyKindDelete
	case "SET":
		kind = InternalKeyKindSet
	case "SEPARATOR":
		kind = InternalKeyKindSeparator
	default:
		panic(fmt.Sprintf("unknown kind: %q", s[sep2+1:]))
	}
	return MakeInternalKey(userKey, SeqNum(seqNum), kind)
}
