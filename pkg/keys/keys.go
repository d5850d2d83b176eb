// Package keys implements the typed, totally ordered key algebra that
// shard-map ranges are built on: per-kind minimum/maximum sentinels, a
// Next() successor operation, and a stable big-endian byte encoding that
// doubles as the persistence contract for mapping bounds (byte-wise
// comparison must agree with logical comparison).
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/elasticshard/shardmap/pkg/model"
)

// Key is a totally ordered, typed shard-map key.
type Key interface {
	Kind() model.KeyKind
	// Bytes returns the stable, order-preserving big-endian encoding.
	Bytes() []byte
	// CompareTo returns -1, 0, 1 comparing k to o. Panics if o has a
	// different Kind.
	CompareTo(o Key) int
	// Next returns the immediate successor of k in its key space.
	// Panics if k.IsMax().
	Next() Key
	IsMin() bool
	IsMax() bool
}

func mustSameKind(a, b Key) {
	if a.Kind() != b.Kind() {
		panic(fmt.Sprintf("keys: mismatched kinds %v vs %v", a.Kind(), b.Kind()))
	}
}

// Compare compares two raw encodings of the same kind. Byte-wise ordering
// matches logical ordering for every kind implemented here.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// ---- Int32 ----

type Int32Key int32

const (
	MinInt32 = Int32Key(-1 << 31)
	MaxInt32 = Int32Key(1<<31 - 1)
)

func (k Int32Key) Kind() model.KeyKind { return model.KeyInt32 }

func (k Int32Key) Bytes() []byte {
	b := make([]byte, 4)
	// offset-binary so two's complement order matches unsigned byte order
	binary.BigEndian.PutUint32(b, uint32(int32(k))^0x80000000)
	return b
}

func (k Int32Key) CompareTo(o Key) int {
	mustSameKind(k, o)
	ok := o.(Int32Key)
	switch {
	case k < ok:
		return -1
	case k > ok:
		return 1
	default:
		return 0
	}
}

func (k Int32Key) Next() Key {
	if k.IsMax() {
		panic("keys: Next() of max Int32Key")
	}
	return k + 1
}

func (k Int32Key) IsMin() bool { return k == MinInt32 }
func (k Int32Key) IsMax() bool { return k == MaxInt32 }

// ---- Int64 ----

type Int64Key int64

const (
	MinInt64 = Int64Key(-1 << 63)
	MaxInt64 = Int64Key(1<<63 - 1)
)

func (k Int64Key) Kind() model.KeyKind { return model.KeyInt64 }

func (k Int64Key) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(int64(k))^0x8000000000000000)
	return b
}

func (k Int64Key) CompareTo(o Key) int {
	mustSameKind(k, o)
	ok := o.(Int64Key)
	switch {
	case k < ok:
		return -1
	case k > ok:
		return 1
	default:
		return 0
	}
}

func (k Int64Key) Next() Key {
	if k.IsMax() {
		panic("keys: Next() of max Int64Key")
	}
	return k + 1
}

func (k Int64Key) IsMin() bool { return k == MinInt64 }
func (k Int64Key) IsMax() bool { return k == MaxInt64 }

// ---- Guid ----

// GuidKey is a 16-byte value compared byte-wise in storage order, matching
// RFC 4122 textual ordering for the high-order fields.
type GuidKey [16]byte

var (
	MinGuid = GuidKey{}
	MaxGuid = GuidKey{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

func (k GuidKey) Kind() model.KeyKind { return model.KeyGuid }
func (k GuidKey) Bytes() []byte       { b := make([]byte, 16); copy(b, k[:]); return b }

func (k GuidKey) CompareTo(o Key) int {
	mustSameKind(k, o)
	ok := o.(GuidKey)
	return bytes.Compare(k[:], ok[:])
}

func (k GuidKey) Next() Key {
	if k.IsMax() {
		panic("keys: Next() of max GuidKey")
	}
	next := k
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

func (k GuidKey) IsMin() bool { return k == MinGuid }
func (k GuidKey) IsMax() bool { return k == MaxGuid }

// ---- Binary ----

// BinaryKey is an arbitrary-length byte string compared lexicographically.
// There is no universal maximum; IsMax is always false and Next appends a
// zero byte (the smallest value strictly greater than k under lexicographic
// order with an unbounded alphabet).
type BinaryKey []byte

var MinBinary = BinaryKey{}

func (k BinaryKey) Kind() model.KeyKind { return model.KeyBinary }
func (k BinaryKey) Bytes() []byte       { b := make([]byte, len(k)); copy(b, k); return b }

func (k BinaryKey) CompareTo(o Key) int {
	mustSameKind(k, o)
	return bytes.Compare(k, o.(BinaryKey))
}

func (k BinaryKey) Next() Key {
	next := make(BinaryKey, len(k)+1)
	copy(next, k)
	return next
}

func (k BinaryKey) IsMin() bool { return len(k) == 0 }
func (k BinaryKey) IsMax() bool { return false }

// ---- DateTime / DateTimeOffset ----

// DateTimeKey stores UTC time at 100-nanosecond "tick" resolution, matching
// the typical elastic-database-tools tick representation.
type DateTimeKey struct{ Ticks int64 }

const TicksPerSecond = 10_000_000

func FromTime(t time.Time) DateTimeKey {
	return DateTimeKey{Ticks: t.UTC().UnixNano() / 100}
}

func (k DateTimeKey) ToTime() time.Time {
	return time.Unix(0, k.Ticks*100).UTC()
}

var (
	MinDateTime = DateTimeKey{Ticks: 0}
	MaxDateTime = DateTimeKey{Ticks: 1<<63 - 1}
)

func (k DateTimeKey) Kind() model.KeyKind { return model.KeyDateTime }

func (k DateTimeKey) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k.Ticks)^0x8000000000000000)
	return b
}

func (k DateTimeKey) CompareTo(o Key) int {
	mustSameKind(k, o)
	ok := o.(DateTimeKey)
	switch {
	case k.Ticks < ok.Ticks:
		return -1
	case k.Ticks > ok.Ticks:
		return 1
	default:
		return 0
	}
}

func (k DateTimeKey) Next() Key {
	if k.IsMax() {
		panic("keys: Next() of max DateTimeKey")
	}
	return DateTimeKey{Ticks: k.Ticks + 1}
}

func (k DateTimeKey) IsMin() bool { return k == MinDateTime }
func (k DateTimeKey) IsMax() bool { return k == MaxDateTime }

// DateTimeOffsetKey is DateTimeKey plus a UTC offset in minutes, encoded so
// that instants compare correctly regardless of the stored offset (the
// offset is a display hint only, matching how the underlying instant is
// ordered in the source system).
type DateTimeOffsetKey struct {
	Ticks        int64
	OffsetMinute int16
}

var (
	MinDateTimeOffset = DateTimeOffsetKey{Ticks: 0}
	MaxDateTimeOffset = DateTimeOffsetKey{Ticks: 1<<63 - 1}
)

func (k DateTimeOffsetKey) Kind() model.KeyKind { return model.KeyDateTimeOffset }

func (k DateTimeOffsetKey) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k.Ticks)^0x8000000000000000)
	return b
}

func (k DateTimeOffsetKey) CompareTo(o Key) int {
	mustSameKind(k, o)
	ok := o.(DateTimeOffsetKey)
	switch {
	case k.Ticks < ok.Ticks:
		return -1
	case k.Ticks > ok.Ticks:
		return 1
	default:
		return 0
	}
}

func (k DateTimeOffsetKey) Next() Key {
	if k.IsMax() {
		panic("keys: Next() of max DateTimeOffsetKey")
	}
	return DateTimeOffsetKey{Ticks: k.Ticks + 1, OffsetMinute: k.OffsetMinute}
}

func (k DateTimeOffsetKey) IsMin() bool { return k.Ticks == MinDateTimeOffset.Ticks }
func (k DateTimeOffsetKey) IsMax() bool { return k.Ticks == MaxDateTimeOffset.Ticks }

// ---- TimeSpan ----

// TimeSpanKey stores a signed duration at 100-nanosecond tick resolution.
type TimeSpanKey struct{ Ticks int64 }

var (
	MinTimeSpan = TimeSpanKey{Ticks: -1 << 63}
	MaxTimeSpan = TimeSpanKey{Ticks: 1<<63 - 1}
)

func (k TimeSpanKey) Kind() model.KeyKind { return model.KeyTimeSpan }

func (k TimeSpanKey) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k.Ticks)^0x8000000000000000)
	return b
}

func (k TimeSpanKey) CompareTo(o Key) int {
	mustSameKind(k, o)
	ok := o.(TimeSpanKey)
	switch {
	case k.Ticks < ok.Ticks:
		return -1
	case k.Ticks > ok.Ticks:
		return 1
	default:
		return 0
	}
}

func (k TimeSpanKey) Next() Key {
	if k.IsMax() {
		panic("keys: Next() of max TimeSpanKey")
	}
	return TimeSpanKey{Ticks: k.Ticks + 1}
}

func (k TimeSpanKey) IsMin() bool { return k == MinTimeSpan }
func (k TimeSpanKey) IsMax() bool { return k == MaxTimeSpan }
