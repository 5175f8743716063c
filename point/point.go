// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package point

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

var errShort = errors.E(errors.Integrity, "point: short encoding")

// Dim describes the shape of one dimension of a point type: the scalar kind,
// and whether values in this dimension are single scalars or intervals.
type Dim struct {
	Kind     Kind
	Interval bool
}

// ScalarDim returns a scalar-valued dimension of the given kind.
func ScalarDim(k Kind) Dim { return Dim{Kind: k} }

// IntervalDim returns an interval-valued dimension of the given kind.
func IntervalDim(k Kind) Dim { return Dim{Kind: k, Interval: true} }

func (d Dim) String() string {
	if d.Interval {
		return "(" + d.Kind.String() + "," + d.Kind.String() + ")"
	}
	return d.Kind.String()
}

// width returns the encoded size of one coordinate in this dimension.
func (d Dim) width() int {
	if d.Interval {
		return 2 * d.Kind.Width()
	}
	return d.Kind.Width()
}

// Coord is one coordinate of a point.  In a scalar dimension Lo and Hi are
// the same value; in an interval dimension they are the interval endpoints.
type Coord struct {
	Lo, Hi Scalar
}

// Pt returns a scalar coordinate.
func Pt(s Scalar) Coord { return Coord{s, s} }

// Iv returns an interval coordinate.  Inverted intervals (lo > hi) are not
// rejected; the overlap tests treat them like any other pair of endpoints.
func Iv(lo, hi Scalar) Coord { return Coord{lo, hi} }

// Point is one multi-dimensional key.  Its shape (arity and per-dimension
// kinds) must match the Type of the database it is stored in.
type Point []Coord

// Type is the fixed per-database point shape.  All comparison, pivot,
// serialization and overlap operations dispatch on the dimension selected by
// level mod Dim(), so one Type covers every scalar/interval combination in
// two and three dimensions.
type Type struct {
	dims  []Dim
	width int
}

// NewType builds a point type from its dimensions.  Arity must be 2 or 3.
func NewType(dims ...Dim) (*Type, error) {
	if len(dims) < 2 || len(dims) > 3 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("point: arity %d not supported", len(dims)))
	}
	t := &Type{dims: append([]Dim(nil), dims...)}
	for _, d := range t.dims {
		if !d.Kind.valid() {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("point: bad kind %v", d.Kind))
		}
		t.width += d.width()
	}
	return t, nil
}

// Dim returns the arity of the type.
func (t *Type) Dim() int { return len(t.dims) }

// DimAt returns the dimension compared at the given tree level.
func (t *Type) DimAt(level int) Dim { return t.dims[level%len(t.dims)] }

// Axis returns the dimension index compared at the given tree level.
func (t *Type) Axis(level int) int { return level % len(t.dims) }

// PointWidth returns the encoded size of a full point, in bytes.
func (t *Type) PointWidth() int { return t.width }

func (t *Type) String() string {
	parts := make([]string, len(t.dims))
	for i, d := range t.dims {
		parts[i] = d.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Equal reports whether two types have the same shape.
func (t *Type) Equal(u *Type) bool {
	if len(t.dims) != len(u.dims) {
		return false
	}
	for i := range t.dims {
		if t.dims[i] != u.dims[i] {
			return false
		}
	}
	return true
}

// Check validates that p has this type's shape.  The returned error has kind
// errors.Invalid.
func (t *Type) Check(p Point) error {
	if len(p) != len(t.dims) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("point: shape mismatch: arity %d, want %s", len(p), t))
	}
	for i, d := range t.dims {
		c := p[i]
		if c.Lo.Kind != d.Kind || c.Hi.Kind != d.Kind {
			return errors.E(errors.Invalid,
				fmt.Sprintf("point: shape mismatch: dim %d is %v/%v, want %s", i, c.Lo.Kind, c.Hi.Kind, d))
		}
		if !d.Interval && c.Lo.bits != c.Hi.bits {
			return errors.E(errors.Invalid,
				fmt.Sprintf("point: shape mismatch: dim %d carries an interval, want %s", i, d))
		}
	}
	return nil
}

// CompareAt orders two points by the coordinate at level mod Dim().  The
// result follows the Scalar.Compare convention: negative, zero or positive.
// In an interval dimension zero means the two intervals overlap; otherwise
// the lo endpoints decide.  Incomparable pairs (NaN) order Less, which keeps
// the sort in the branch builder total.
func (t *Type) CompareAt(a, b Point, level int) int {
	i := t.Axis(level)
	d := t.dims[i]
	ca, cb := a[i], b[i]
	if d.Interval {
		if ca.Lo.le(cb.Hi) && cb.Lo.le(ca.Hi) {
			return 0
		}
	}
	return ca.Lo.Compare(cb.Lo)
}

// MidpointUpper derives a pivot point from two points.  Scalar dimensions
// take the midpoint of the two values; interval dimensions take a degenerate
// interval at the midpoint of the two upper endpoints.  Integer midpoints
// truncate.
func (t *Type) MidpointUpper(a, b Point) Point {
	p := make(Point, len(t.dims))
	for i, d := range t.dims {
		var m Scalar
		if d.Interval {
			m = midpoint(a[i].Hi, b[i].Hi)
		} else {
			m = midpoint(a[i].Lo, b[i].Lo)
		}
		p[i] = Coord{m, m}
	}
	return p
}

// CoordWidthAt returns the encoded size of the coordinate compared at the
// given level.
func (t *Type) CoordWidthAt(level int) int { return t.DimAt(level).width() }

// AppendCoordAt appends the encoding of p's coordinate at the given level:
// one scalar for a scalar dimension, lo then hi for an interval dimension.
func (t *Type) AppendCoordAt(dst []byte, p Point, level int) []byte {
	i := t.Axis(level)
	c := p[i]
	dst = appendScalar(dst, c.Lo)
	if t.dims[i].Interval {
		dst = appendScalar(dst, c.Hi)
	}
	return dst
}

// DecodeCoordAt decodes one coordinate written by AppendCoordAt, returning
// the remainder of b.
func (t *Type) DecodeCoordAt(b []byte, level int) (Coord, []byte, error) {
	d := t.DimAt(level)
	lo, b, err := decodeScalar(d.Kind, b)
	if err != nil {
		return Coord{}, nil, err
	}
	if !d.Interval {
		return Coord{lo, lo}, b, nil
	}
	hi, b, err := decodeScalar(d.Kind, b)
	if err != nil {
		return Coord{}, nil, err
	}
	return Coord{lo, hi}, b, nil
}

// AppendPoint appends the encoding of a full point: each coordinate in
// declaration order, little-endian fixed width.
func (t *Type) AppendPoint(dst []byte, p Point) []byte {
	for i, d := range t.dims {
		dst = appendScalar(dst, p[i].Lo)
		if d.Interval {
			dst = appendScalar(dst, p[i].Hi)
		}
	}
	return dst
}

// DecodePoint decodes a full point from the head of b, returning the
// remainder.
func (t *Type) DecodePoint(b []byte) (Point, []byte, error) {
	p := make(Point, len(t.dims))
	for i, d := range t.dims {
		var lo, hi Scalar
		var err error
		lo, b, err = decodeScalar(d.Kind, b)
		if err != nil {
			return nil, nil, err
		}
		hi = lo
		if d.Interval {
			hi, b, err = decodeScalar(d.Kind, b)
			if err != nil {
				return nil, nil, err
			}
		}
		p[i] = Coord{lo, hi}
	}
	return p, b, nil
}

// AppendDesc appends the type descriptor: arity, then kind and interval flag
// per dimension.  Used by the database metadata file so that reopening
// validates the stored shape.
func (t *Type) AppendDesc(dst []byte) []byte {
	dst = append(dst, byte(len(t.dims)))
	for _, d := range t.dims {
		dst = append(dst, byte(d.Kind))
		if d.Interval {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}

// DecodeDesc decodes a type descriptor written by AppendDesc.
func DecodeDesc(b []byte) (*Type, []byte, error) {
	if len(b) < 1 {
		return nil, nil, errShort
	}
	arity := int(b[0])
	b = b[1:]
	if len(b) < 2*arity {
		return nil, nil, errShort
	}
	dims := make([]Dim, arity)
	for i := range dims {
		k := Kind(b[2*i])
		if !k.valid() {
			return nil, nil, errors.E(errors.Integrity, fmt.Sprintf("point: bad kind byte %#x", b[2*i]))
		}
		dims[i] = Dim{Kind: k, Interval: b[2*i+1] != 0}
	}
	t, err := NewType(dims...)
	if err != nil {
		return nil, nil, err
	}
	return t, b[2*arity:], nil
}
