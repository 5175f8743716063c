// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package point

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies the primitive numeric type of one scalar value.
type Kind uint8

const (
	Int8 Kind = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	numKinds
)

var kindNames = [numKinds]string{
	"i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64", "f32", "f64",
}

var kindWidths = [numKinds]int{1, 2, 4, 8, 1, 2, 4, 8, 4, 8}

func (k Kind) String() string {
	if k >= numKinds {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Width returns the encoded size of a scalar of this kind, in bytes.
func (k Kind) Width() int { return kindWidths[k] }

func (k Kind) valid() bool { return k < numKinds }

// Scalar is a single coordinate value of some Kind.  The value is held as the
// raw little-endian bit pattern, truncated to the kind's width, so that
// serialization round-trips are bit exact for every kind including floats.
type Scalar struct {
	Kind Kind
	bits uint64
}

// I8 returns an Int8 scalar.
func I8(v int8) Scalar { return Scalar{Int8, uint64(uint8(v))} }

// I16 returns an Int16 scalar.
func I16(v int16) Scalar { return Scalar{Int16, uint64(uint16(v))} }

// I32 returns an Int32 scalar.
func I32(v int32) Scalar { return Scalar{Int32, uint64(uint32(v))} }

// I64 returns an Int64 scalar.
func I64(v int64) Scalar { return Scalar{Int64, uint64(v)} }

// U8 returns a Uint8 scalar.
func U8(v uint8) Scalar { return Scalar{Uint8, uint64(v)} }

// U16 returns a Uint16 scalar.
func U16(v uint16) Scalar { return Scalar{Uint16, uint64(v)} }

// U32 returns a Uint32 scalar.
func U32(v uint32) Scalar { return Scalar{Uint32, uint64(v)} }

// U64 returns a Uint64 scalar.
func U64(v uint64) Scalar { return Scalar{Uint64, v} }

// F32 returns a Float32 scalar.
func F32(v float32) Scalar { return Scalar{Float32, uint64(math.Float32bits(v))} }

// F64 returns a Float64 scalar.
func F64(v float64) Scalar { return Scalar{Float64, math.Float64bits(v)} }

// F32 returns the value of a Float32 scalar.
func (s Scalar) F32() float32 { return math.Float32frombits(uint32(s.bits)) }

// F64 returns the value of a Float64 scalar.
func (s Scalar) F64() float64 { return math.Float64frombits(s.bits) }

// Int returns the value of a signed scalar, sign-extended to 64 bits.
func (s Scalar) Int() int64 {
	switch s.Kind {
	case Int8:
		return int64(int8(s.bits))
	case Int16:
		return int64(int16(s.bits))
	case Int32:
		return int64(int32(s.bits))
	default:
		return int64(s.bits)
	}
}

// Uint returns the value of an unsigned scalar.
func (s Scalar) Uint() uint64 { return s.bits }

func (s Scalar) String() string {
	switch s.Kind {
	case Float32:
		return fmt.Sprintf("%v", s.F32())
	case Float64:
		return fmt.Sprintf("%v", s.F64())
	case Int8, Int16, Int32, Int64:
		return fmt.Sprintf("%d", s.Int())
	default:
		return fmt.Sprintf("%d", s.bits)
	}
}

// Compare returns a negative value, zero, or a positive value when s is
// ordered before, equal to, or after t.  Both scalars must share a Kind.
//
// Incomparable pairs order Less: when either float operand is NaN the pair is
// unequal and not greater, so the result is negative.  Sorts over scalars are
// therefore total even with NaN present.
func (s Scalar) Compare(t Scalar) int {
	switch s.Kind {
	case Float32:
		x, y := s.F32(), t.F32()
		switch {
		case x == y:
			return 0
		case x > y:
			return 1
		}
		return -1
	case Float64:
		x, y := s.F64(), t.F64()
		switch {
		case x == y:
			return 0
		case x > y:
			return 1
		}
		return -1
	case Int8, Int16, Int32, Int64:
		x, y := s.Int(), t.Int()
		switch {
		case x == y:
			return 0
		case x > y:
			return 1
		}
		return -1
	default:
		switch {
		case s.bits == t.bits:
			return 0
		case s.bits > t.bits:
			return 1
		}
		return -1
	}
}

// le reports s <= t with IEEE semantics: any NaN operand makes the
// comparison false.  Compare cannot be used here because it folds
// incomparable pairs into Less.
func (s Scalar) le(t Scalar) bool {
	switch s.Kind {
	case Float32:
		return s.F32() <= t.F32()
	case Float64:
		return s.F64() <= t.F64()
	case Int8, Int16, Int32, Int64:
		return s.Int() <= t.Int()
	default:
		return s.bits <= t.bits
	}
}

// midpoint returns (s+t)/2 computed in the kind's native arithmetic.
// Integer kinds add with the native wrap-around and truncate the division;
// pivots only need to land between neighboring values, not be exact.
func midpoint(s, t Scalar) Scalar {
	switch s.Kind {
	case Int8:
		return I8((int8(s.bits) + int8(t.bits)) / 2)
	case Int16:
		return I16((int16(s.bits) + int16(t.bits)) / 2)
	case Int32:
		return I32((int32(s.bits) + int32(t.bits)) / 2)
	case Int64:
		return I64((int64(s.bits) + int64(t.bits)) / 2)
	case Uint8:
		return U8((uint8(s.bits) + uint8(t.bits)) / 2)
	case Uint16:
		return U16((uint16(s.bits) + uint16(t.bits)) / 2)
	case Uint32:
		return U32((uint32(s.bits) + uint32(t.bits)) / 2)
	case Uint64:
		return U64((s.bits + t.bits) / 2)
	case Float32:
		return F32((s.F32() + t.F32()) / 2)
	default:
		return F64((s.F64() + t.F64()) / 2)
	}
}

// appendScalar appends the fixed-width little-endian encoding of s.
func appendScalar(dst []byte, s Scalar) []byte {
	switch s.Kind.Width() {
	case 1:
		return append(dst, byte(s.bits))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(s.bits))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(s.bits))
	default:
		return binary.LittleEndian.AppendUint64(dst, s.bits)
	}
}

// decodeScalar reads one scalar of kind k from the head of b.
func decodeScalar(k Kind, b []byte) (Scalar, []byte, error) {
	w := k.Width()
	if len(b) < w {
		return Scalar{}, nil, errShort
	}
	var bits uint64
	switch w {
	case 1:
		bits = uint64(b[0])
	case 2:
		bits = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		bits = uint64(binary.LittleEndian.Uint32(b))
	default:
		bits = binary.LittleEndian.Uint64(b)
	}
	return Scalar{k, bits}, b[w:], nil
}
