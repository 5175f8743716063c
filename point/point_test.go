package point_test

import (
	"math"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/eyros/point"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, dims ...point.Dim) *point.Type {
	typ, err := point.NewType(dims...)
	require.NoError(t, err)
	return typ
}

func TestScalarCompare(t *testing.T) {
	assert.Equal(t, 0, point.F32(1.5).Compare(point.F32(1.5)))
	assert.Equal(t, -1, point.F32(-2).Compare(point.F32(3)))
	assert.Equal(t, 1, point.F64(3).Compare(point.F64(-2)))
	assert.Equal(t, -1, point.I8(-5).Compare(point.I8(5)))
	assert.Equal(t, 1, point.I64(-1).Compare(point.I64(-2)))
	assert.Equal(t, -1, point.U16(1).Compare(point.U16(2)))
	assert.Equal(t, 0, point.U64(9).Compare(point.U64(9)))

	// Incomparable pairs order Less, whichever side the NaN is on.
	nan := point.F32(float32(math.NaN()))
	assert.Equal(t, -1, nan.Compare(point.F32(0)))
	assert.Equal(t, -1, point.F32(0).Compare(nan))
	assert.Equal(t, -1, nan.Compare(nan))
}

func TestScalarAccessors(t *testing.T) {
	assert.Equal(t, int64(-7), point.I16(-7).Int())
	assert.Equal(t, uint64(300), point.U16(300).Uint())
	assert.Equal(t, float32(0.25), point.F32(0.25).F32())
	assert.Equal(t, 0.25, point.F64(0.25).F64())
}

func TestCompareAt(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	a := point.Point{point.Iv(point.F32(0), point.F32(2)), point.Pt(point.F32(5))}
	b := point.Point{point.Iv(point.F32(1), point.F32(3)), point.Pt(point.F32(7))}

	// Level 0 is the interval dimension: overlap means Equal.
	assert.Equal(t, 0, typ.CompareAt(a, b, 0))
	assert.Equal(t, 0, typ.CompareAt(b, a, 0))
	// Level 1 is the scalar dimension.
	assert.Equal(t, -1, typ.CompareAt(a, b, 1))
	assert.Equal(t, 1, typ.CompareAt(b, a, 1))
	// Level 2 wraps back to dimension 0.
	assert.Equal(t, 0, typ.CompareAt(a, b, 2))

	// Disjoint intervals compare by lo endpoint.
	c := point.Point{point.Iv(point.F32(10), point.F32(11)), point.Pt(point.F32(0))}
	assert.Equal(t, -1, typ.CompareAt(a, c, 0))
	assert.Equal(t, 1, typ.CompareAt(c, a, 0))

	// Touching endpoints overlap.
	d := point.Point{point.Iv(point.F32(2), point.F32(4)), point.Pt(point.F32(0))}
	assert.Equal(t, 0, typ.CompareAt(a, d, 0))
}

func TestMidpointUpper(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Int32),
	)
	a := point.Point{point.Iv(point.F32(0), point.F32(2)), point.Pt(point.I32(3))}
	b := point.Point{point.Iv(point.F32(1), point.F32(6)), point.Pt(point.I32(4))}
	m := typ.MidpointUpper(a, b)
	// Interval dims collapse to the average of the upper endpoints.
	assert.Equal(t, float32(4), m[0].Lo.F32())
	assert.Equal(t, float32(4), m[0].Hi.F32())
	// Integer midpoints truncate.
	assert.Equal(t, int64(3), m[1].Lo.Int())
}

func TestOverlaps(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	bbox := point.NewBBox(
		[]point.Scalar{point.F32(0), point.F32(0)},
		[]point.Scalar{point.F32(10), point.F32(10)},
	)
	in := point.Point{point.Iv(point.F32(-5), point.F32(1)), point.Pt(point.F32(5))}
	assert.True(t, typ.Overlaps(in, bbox))
	outIv := point.Point{point.Iv(point.F32(-5), point.F32(-1)), point.Pt(point.F32(5))}
	assert.False(t, typ.Overlaps(outIv, bbox))
	outPt := point.Point{point.Iv(point.F32(0), point.F32(1)), point.Pt(point.F32(11))}
	assert.False(t, typ.Overlaps(outPt, bbox))
	edge := point.Point{point.Iv(point.F32(10), point.F32(12)), point.Pt(point.F32(10))}
	assert.True(t, typ.Overlaps(edge, bbox))

	nan := point.Point{point.Iv(point.F32(0), point.F32(1)), point.Pt(point.F32(float32(math.NaN())))}
	assert.False(t, typ.Overlaps(nan, bbox))
}

func TestCheckShape(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	good := point.Point{
		point.Iv(point.F32(0), point.F32(1)),
		point.Iv(point.F32(0), point.F32(1)),
		point.Pt(point.F32(0)),
	}
	require.NoError(t, typ.Check(good))

	short := good[:2]
	err := typ.Check(short)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))

	wrongKind := point.Point{
		point.Iv(point.F64(0), point.F64(1)),
		point.Iv(point.F32(0), point.F32(1)),
		point.Pt(point.F32(0)),
	}
	assert.True(t, errors.Is(errors.Invalid, typ.Check(wrongKind)))

	ivInScalar := point.Point{
		point.Iv(point.F32(0), point.F32(1)),
		point.Iv(point.F32(0), point.F32(1)),
		point.Iv(point.F32(0), point.F32(1)),
	}
	assert.True(t, errors.Is(errors.Invalid, typ.Check(ivInScalar)))
}

func TestPointCodec(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float64),
		point.ScalarDim(point.Uint16),
		point.IntervalDim(point.Int8),
	)
	assert.Equal(t, 8+8+2+1+1, typ.PointWidth())
	p := point.Point{
		point.Iv(point.F64(-1.5), point.F64(2.25)),
		point.Pt(point.U16(4000)),
		point.Iv(point.I8(-3), point.I8(7)),
	}
	buf := typ.AppendPoint(nil, p)
	assert.Len(t, buf, typ.PointWidth())
	got, rest, err := typ.DecodePoint(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, p, got)

	_, _, err = typ.DecodePoint(buf[:len(buf)-1])
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Integrity, err))
}

func TestCoordCodecAt(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Int64),
	)
	p := point.Point{
		point.Iv(point.F32(1), point.F32(2)),
		point.Pt(point.I64(-9)),
	}
	assert.Equal(t, 8, typ.CoordWidthAt(0))
	assert.Equal(t, 8, typ.CoordWidthAt(1))
	assert.Equal(t, 8, typ.CoordWidthAt(2)) // wraps to dim 0

	buf := typ.AppendCoordAt(nil, p, 0)
	assert.Len(t, buf, typ.CoordWidthAt(0))
	c, rest, err := typ.DecodeCoordAt(buf, 0)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, p[0], c)

	buf = typ.AppendCoordAt(nil, p, 1)
	c, _, err = typ.DecodeCoordAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, p[1], c)
}

func TestBBoxCodec(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	b := point.NewBBox(
		[]point.Scalar{point.F32(-1), point.F32(-2)},
		[]point.Scalar{point.F32(1), point.F32(2)},
	)
	require.NoError(t, typ.CheckBBox(b))
	buf := typ.AppendBBox(nil, b)
	assert.Len(t, buf, typ.BBoxWidth())
	got, rest, err := typ.DecodeBBox(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, b, got)

	bad := point.NewBBox(b.Min[:1], b.Max)
	assert.True(t, errors.Is(errors.Invalid, typ.CheckBBox(bad)))
}

func TestDescCodec(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	buf := typ.AppendDesc(nil)
	got, rest, err := point.DecodeDesc(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, typ.Equal(got))

	other := mustType(t,
		point.ScalarDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	assert.False(t, typ.Equal(other))
}

func TestArity(t *testing.T) {
	_, err := point.NewType(point.ScalarDim(point.Float32))
	assert.True(t, errors.Is(errors.Invalid, err))
	_, err = point.NewType(
		point.ScalarDim(point.Float32), point.ScalarDim(point.Float32),
		point.ScalarDim(point.Float32), point.ScalarDim(point.Float32),
	)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestExtend(t *testing.T) {
	typ := mustType(t,
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	var b point.BBox
	typ.Extend(&b, point.Point{point.Iv(point.F32(1), point.F32(3)), point.Pt(point.F32(5))})
	typ.Extend(&b, point.Point{point.Iv(point.F32(-2), point.F32(0)), point.Pt(point.F32(9))})
	assert.Equal(t, float32(-2), b.Min[0].F32())
	assert.Equal(t, float32(3), b.Max[0].F32())
	assert.Equal(t, float32(5), b.Min[1].F32())
	assert.Equal(t, float32(9), b.Max[1].F32())
}
