package eyros_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/eyros"
	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/store"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spatialType(t *testing.T) *point.Type {
	typ, err := point.NewType(
		point.IntervalDim(point.Float32),
		point.IntervalDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	require.NoError(t, err)
	return typ
}

// genInserts generates the canonical workload: x and y intervals inside
// [-1,1] whose width collapses as r^64, and a scalar time in [0,1000).
func genInserts(r *rand.Rand, n int) []eyros.Row {
	rows := make([]eyros.Row, n)
	for i := range rows {
		xmin := r.Float32()*2 - 1
		xmax := xmin + float32(math.Pow(float64(r.Float32()), 64))*(1-xmin)
		ymin := r.Float32()*2 - 1
		ymax := ymin + float32(math.Pow(float64(r.Float32()), 64))*(1-ymin)
		time := r.Float32() * 1000
		value := binary.LittleEndian.AppendUint32(nil, r.Uint32())
		rows[i] = eyros.Insert(point.Point{
			point.Iv(point.F32(xmin), point.F32(xmax)),
			point.Iv(point.F32(ymin), point.F32(ymax)),
			point.Pt(point.F32(time)),
		}, value)
	}
	return rows
}

func bbox3(x0, y0, t0, x1, y1, t1 float32) point.BBox {
	return point.NewBBox(
		[]point.Scalar{point.F32(x0), point.F32(y0), point.F32(t0)},
		[]point.Scalar{point.F32(x1), point.F32(y1), point.F32(t1)},
	)
}

func fullBBox() point.BBox { return bbox3(-1, -1, 0, 1, 1, 1000) }

func collect(t *testing.T, it *eyros.Iter) []eyros.Result {
	var out []eyros.Result
	for it.Scan() {
		out = append(out, it.Row())
	}
	require.NoError(t, it.Err())
	return out
}

func resultKey(typ *point.Type, p point.Point, value []byte) string {
	return fmt.Sprintf("%x/%x", typ.AppendPoint(nil, p), value)
}

func resultKeys(typ *point.Type, res []eyros.Result) []string {
	keys := make([]string, len(res))
	for i, r := range res {
		keys[i] = resultKey(typ, r.Point, r.Value)
	}
	sort.Strings(keys)
	return keys
}

func insertKeys(typ *point.Type, rows []eyros.Row, keep func(i int) bool) []string {
	var keys []string
	for i := range rows {
		if keep != nil && !keep(i) {
			continue
		}
		keys = append(keys, resultKey(typ, rows[i].Point(), rows[i].Value()))
	}
	sort.Strings(keys)
	return keys
}

// TestSingleBatch covers the canonical single-batch scenarios: a full-domain
// query returning everything, a partial window, and a near-degenerate
// window, each compared against a brute-force filter.
func TestSingleBatch(t *testing.T) {
	typ := spatialType(t)
	heap := store.NewHeap()
	db, err := eyros.Open(heap.Opener, typ, eyros.Options{})
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	inserts := genInserts(rand.New(rand.NewSource(1312)), 4000)
	require.NoError(t, db.Batch(inserts))

	full := collect(t, db.Query(fullBBox()))
	assert.Len(t, full, 4000, "incorrect length for full region")
	assert.Equal(t, insertKeys(typ, inserts, nil), resultKeys(typ, full),
		"incorrect results for full region")

	for _, bbox := range []point.BBox{
		bbox3(-0.8, 0.1, 0, 0.2, 0.5, 500),
		bbox3(-0.500, 0.800, 200, -0.495, 0.805, 300),
	} {
		got := collect(t, db.Query(bbox))
		for _, r := range got {
			assert.True(t, typ.Overlaps(r.Point, bbox))
		}
		want := insertKeys(typ, inserts, func(i int) bool {
			return typ.Overlaps(inserts[i].Point(), bbox)
		})
		assert.Equal(t, want, resultKeys(typ, got))
	}
}

// TestOrderIndependence inserts the same batch under two permutations; the
// query multisets must agree.
func TestOrderIndependence(t *testing.T) {
	typ := spatialType(t)
	inserts := genInserts(rand.New(rand.NewSource(77)), 800)
	perm := rand.New(rand.NewSource(78)).Perm(len(inserts))
	shuffled := make([]eyros.Row, len(inserts))
	for i, j := range perm {
		shuffled[j] = inserts[i]
	}

	run := func(rows []eyros.Row) []string {
		db, err := eyros.Open(store.NewHeap().Opener, typ, eyros.Options{})
		require.NoError(t, err)
		defer db.Close() // nolint: errcheck
		require.NoError(t, db.Batch(rows))
		return resultKeys(typ, collect(t, db.Query(fullBBox())))
	}
	expect.EQ(t, run(inserts), run(shuffled))
}

// TestIdempotentOpen reopens a database without writing and expects the
// same parameters and query results.
func TestIdempotentOpen(t *testing.T) {
	typ := spatialType(t)
	heap := store.NewHeap()
	inserts := genInserts(rand.New(rand.NewSource(5)), 1000)

	db, err := eyros.Open(heap.Opener, typ, eyros.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Batch(inserts))
	mds, bf, order := db.Fields()
	want := resultKeys(typ, collect(t, db.Query(fullBBox())))
	require.NoError(t, db.Close())

	for i := 0; i < 2; i++ {
		db, err = eyros.Open(heap.Opener, typ, eyros.Options{})
		require.NoError(t, err)
		mds2, bf2, order2 := db.Fields()
		assert.Equal(t, mds, mds2)
		assert.Equal(t, bf, bf2)
		assert.Equal(t, order, order2)
		assert.Equal(t, want, resultKeys(typ, collect(t, db.Query(fullBBox()))))
		require.NoError(t, db.Close())
	}
}

// TestOptionsFixedAtCreation reopens with different options; the stored
// parameters win.
func TestOptionsFixedAtCreation(t *testing.T) {
	typ := spatialType(t)
	heap := store.NewHeap()
	db, err := eyros.Open(heap.Opener, typ, eyros.Options{MaxDataSize: 32, BranchFactor: 5})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = eyros.Open(heap.Opener, typ, eyros.Options{MaxDataSize: 128, BranchFactor: 9})
	require.NoError(t, err)
	mds, bf, order := db.Fields()
	assert.Equal(t, 32, mds)
	assert.Equal(t, 5, bf)
	assert.Len(t, order, 5)
	require.NoError(t, db.Close())
}

// TestShapeMismatch feeds a 2-D row to a 3-D database: the batch fails with
// an Invalid error and later queries are unaffected.
func TestShapeMismatch(t *testing.T) {
	typ := spatialType(t)
	heap := store.NewHeap()
	db, err := eyros.Open(heap.Opener, typ, eyros.Options{})
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	inserts := genInserts(rand.New(rand.NewSource(21)), 100)
	require.NoError(t, db.Batch(inserts))

	flat := point.Point{
		point.Iv(point.F32(0), point.F32(1)),
		point.Iv(point.F32(0), point.F32(1)),
	}
	err = db.Batch([]eyros.Row{eyros.Insert(flat, []byte{1})})
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))

	got := collect(t, db.Query(fullBBox()))
	assert.Len(t, got, 100)
}

// TestWrongTypeOnReopen opens an existing database with a different shape.
func TestWrongTypeOnReopen(t *testing.T) {
	typ := spatialType(t)
	heap := store.NewHeap()
	db, err := eyros.Open(heap.Opener, typ, eyros.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	flat, err := point.NewType(
		point.ScalarDim(point.Float32),
		point.ScalarDim(point.Float32),
	)
	require.NoError(t, err)
	_, err = eyros.Open(heap.Opener, flat, eyros.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))
}

// TestConcurrentQueries runs full-domain queries from several goroutines
// against committed state.
func TestConcurrentQueries(t *testing.T) {
	typ := spatialType(t)
	heap := store.NewHeap()
	db, err := eyros.Open(heap.Opener, typ, eyros.Options{})
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	inserts := genInserts(rand.New(rand.NewSource(31)), 3000)
	require.NoError(t, db.Batch(inserts))

	err = traverse.Each(8, func(i int) error {
		it := db.Query(fullBBox())
		n := 0
		for it.Scan() {
			n++
		}
		if err := it.Err(); err != nil {
			return err
		}
		if n != len(inserts) {
			return fmt.Errorf("query %d: %d results, want %d", i, n, len(inserts))
		}
		return nil
	})
	require.NoError(t, err)
}

// TestEmptyBatchAndEmptyQuery covers the degenerate edges.
func TestEmptyBatchAndEmptyQuery(t *testing.T) {
	typ := spatialType(t)
	db, err := eyros.Open(store.NewHeap().Opener, typ, eyros.Options{})
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	require.NoError(t, db.Batch(nil))
	got := collect(t, db.Query(fullBBox()))
	assert.Empty(t, got)
}
