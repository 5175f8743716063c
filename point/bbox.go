// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package point

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// BBox is an axis-aligned query window.  Both corners hold one scalar per
// dimension regardless of whether the dimension is interval-valued.
type BBox struct {
	Min, Max []Scalar
}

// NewBBox builds a bounding box from its two corners.
func NewBBox(min, max []Scalar) BBox { return BBox{Min: min, Max: max} }

// CheckBBox validates that b has one scalar of the right kind per dimension
// in each corner.
func (t *Type) CheckBBox(b BBox) error {
	if len(b.Min) != len(t.dims) || len(b.Max) != len(t.dims) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("point: bbox arity %d/%d, want %d", len(b.Min), len(b.Max), len(t.dims)))
	}
	for i, d := range t.dims {
		if b.Min[i].Kind != d.Kind || b.Max[i].Kind != d.Kind {
			return errors.E(errors.Invalid,
				fmt.Sprintf("point: bbox dim %d is %v/%v, want %v", i, b.Min[i].Kind, b.Max[i].Kind, d.Kind))
		}
	}
	return nil
}

// Overlaps reports whether p falls inside b.  A scalar dimension overlaps
// when min <= v <= max; an interval dimension overlaps when
// lo <= max && min <= hi.  NaN in any operand fails the test.
func (t *Type) Overlaps(p Point, b BBox) bool {
	for i, d := range t.dims {
		c := p[i]
		if d.Interval {
			if !(c.Lo.le(b.Max[i]) && b.Min[i].le(c.Hi)) {
				return false
			}
		} else {
			if !(b.Min[i].le(c.Lo) && c.Lo.le(b.Max[i])) {
				return false
			}
		}
	}
	return true
}

// Intersects reports whether two bounding boxes share any volume.
func (t *Type) Intersects(a, b BBox) bool {
	for i := range t.dims {
		if !(a.Min[i].le(b.Max[i]) && b.Min[i].le(a.Max[i])) {
			return false
		}
	}
	return true
}

// Extend grows b to cover p's extent, initializing b from p when empty.
func (t *Type) Extend(b *BBox, p Point) {
	if b.Min == nil {
		b.Min = make([]Scalar, len(t.dims))
		b.Max = make([]Scalar, len(t.dims))
		for i := range t.dims {
			b.Min[i] = p[i].Lo
			b.Max[i] = p[i].Hi
		}
		return
	}
	for i := range t.dims {
		if p[i].Lo.Compare(b.Min[i]) < 0 {
			b.Min[i] = p[i].Lo
		}
		if p[i].Hi.Compare(b.Max[i]) > 0 {
			b.Max[i] = p[i].Hi
		}
	}
}

// BBoxWidth returns the encoded size of a bounding box: two scalars per
// dimension.
func (t *Type) BBoxWidth() int {
	w := 0
	for _, d := range t.dims {
		w += 2 * d.Kind.Width()
	}
	return w
}

// AppendBBox appends the encoding of b: the min corner's scalars in
// declaration order, then the max corner's.
func (t *Type) AppendBBox(dst []byte, b BBox) []byte {
	for i := range t.dims {
		dst = appendScalar(dst, b.Min[i])
	}
	for i := range t.dims {
		dst = appendScalar(dst, b.Max[i])
	}
	return dst
}

// DecodeBBox decodes a bounding box from the head of b, returning the
// remainder.
func (t *Type) DecodeBBox(b []byte) (BBox, []byte, error) {
	box := BBox{
		Min: make([]Scalar, len(t.dims)),
		Max: make([]Scalar, len(t.dims)),
	}
	var err error
	for i, d := range t.dims {
		box.Min[i], b, err = decodeScalar(d.Kind, b)
		if err != nil {
			return BBox{}, nil, err
		}
	}
	for i, d := range t.dims {
		box.Max[i], b, err = decodeScalar(d.Kind, b)
		if err != nil {
			return BBox{}, nil, err
		}
	}
	return box, b, nil
}
