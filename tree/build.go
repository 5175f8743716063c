// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tree

import (
	"encoding/binary"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/store"
)

// Builder appends trees to one tree stream.  Offsets are handed out by a
// monotone allocation cursor starting at the current stream length, so
// independent builds over the same inputs produce byte-identical streams.
type Builder struct {
	st          store.Store
	typ         *point.Type
	order       []int
	maxDataSize int
	next        uint64
}

// NewBuilder positions a builder at the end of st, writing the stream magic
// first when st is empty.
func NewBuilder(st store.Store, typ *point.Type, order []int, maxDataSize int) (*Builder, error) {
	must.True(maxDataSize >= 2, "tree: max data size below 2")
	size, err := st.Len()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		if err := st.WriteAt(0, magic); err != nil {
			return nil, err
		}
		size = uint64(len(magic))
	} else if size < uint64(len(magic)) {
		return nil, errors.E(errors.Integrity, "tree: stream shorter than its magic")
	}
	return &Builder{st: st, typ: typ, order: order, maxDataSize: maxDataSize, next: size}, nil
}

func (b *Builder) alloc(n int) uint64 {
	off := b.next
	b.next += uint64(n)
	return off
}

// branchFactor returns the number of non-straddling children per branch,
// ceil((n+1)/2) for n pivots.
func branchFactor(n int) int { return (n + 2) / 2 }

// dataBytes returns the encoded size of a data leaf holding cnt rows.
func (b *Builder) dataBytes(cnt int) int {
	return 1 + 4 + cnt*rowWidth(b.typ)
}

// Build writes one tree over rows and returns its root offset.  A row set
// smaller than the leaf capacity becomes a single data leaf.
func (b *Builder) Build(rows []Row) (uint64, error) {
	if log.At(log.Debug) {
		log.Debug.Printf("tree: build %d rows at offset %d", len(rows), b.next)
	}
	if len(rows) < b.maxDataSize || len(rows) < 2 {
		off := b.alloc(b.dataBytes(len(rows)))
		return off, b.writeData(off, rows, nil)
	}
	bucket := make([]int, len(rows))
	for i := range bucket {
		bucket[i] = i
	}
	br := b.newBranch(0, bucket, rows)
	root := b.alloc(b.branchBytes(br))
	return root, b.buildBranch(br, root, rows)
}

// branch is the in-progress state of one branch node: the sorted view of its
// bucket, the derived pivots, and the per-pivot straddling sets.  All row
// references are indices into the bucket, which itself indexes the caller's
// row slice; the builder never copies rows.
type branch struct {
	level        int
	bucket       []int
	sorted       []int
	pivots       []point.Point
	intersecting [][]int
	matched      []bool
}

func (b *Builder) newBranch(level int, bucket []int, rows []Row) *branch {
	n := len(b.order)
	br := &branch{
		level:        level,
		bucket:       bucket,
		sorted:       make([]int, len(bucket)),
		pivots:       make([]point.Point, n),
		intersecting: make([][]int, n),
		matched:      make([]bool, len(bucket)),
	}
	for i := range br.sorted {
		br.sorted[i] = i
	}
	sort.SliceStable(br.sorted, func(i, j int) bool {
		a := rows[bucket[br.sorted[i]]].Point
		c := rows[bucket[br.sorted[j]]].Point
		return b.typ.CompareAt(a, c, level) < 0
	})

	// Pivots sit at quantile ranks (k+2)/(n+1), derived from pairs of
	// neighboring sorted rows so that they land between values rather than
	// on them.
	for k := 0; k < n; k++ {
		m := (k + 2) * len(br.sorted) / (n + 1)
		if m > len(br.sorted)-2 {
			m = len(br.sorted) - 2
		}
		a := rows[bucket[br.sorted[m]]].Point
		c := rows[bucket[br.sorted[m+1]]].Point
		br.pivots[k] = b.typ.MidpointUpper(a, c)
	}

	// Rows that compare Equal to a pivot at this level (for intervals:
	// overlap it) are lifted out of the recursive split, each matched to the
	// first pivot in permutation order that claims it.
	for _, i := range b.order {
		pivot := br.pivots[i]
		for _, j := range br.sorted {
			if br.matched[j] {
				continue
			}
			if b.typ.CompareAt(rows[bucket[j]].Point, pivot, level) == 0 {
				br.matched[j] = true
				br.intersecting[i] = append(br.intersecting[i], j)
			}
		}
	}
	return br
}

// branchBytes returns the encoded size of br's node record.
func (b *Builder) branchBytes(br *branch) int {
	n := len(b.order)
	sz := 1 + n*b.typ.CoordWidthAt(br.level) + 8*n
	rw := rowWidth(b.typ)
	for _, bucket := range br.intersecting {
		sz += 4 + len(bucket)*rw
	}
	return sz
}

// buildBranch partitions br's unmatched rows into child buckets, allocates
// every child, writes br's record at off, and recurses into branch children.
func (b *Builder) buildBranch(br *branch, off uint64, rows []Row) error {
	n := len(b.order)
	bf := branchFactor(n)
	buckets := make([][]int, n)

	// Sliding-pivot partition: child j collects rows strictly Less than
	// pivots[order[j+bf-1]] and not Less than the previous boundary; rows
	// Equal to any pivot were matched above, so both bounds are strict.
	j := 0
	pivot := br.pivots[b.order[bf-1]]
	for _, i := range br.sorted {
		if br.matched[i] {
			continue
		}
		row := rows[br.bucket[i]]
		for j < bf-1 && b.typ.CompareAt(row.Point, pivot, br.level) >= 0 {
			j++
			if j < bf-1 {
				pivot = br.pivots[b.order[j+bf-1]]
			}
		}
		buckets[j] = append(buckets[j], i)
	}

	type pending struct {
		br  *branch
		off uint64
	}
	children := make([]uint64, n)
	var recurse []pending
	for k, bucket := range buckets {
		abs := make([]int, len(bucket))
		for i, idx := range bucket {
			abs[i] = br.bucket[idx]
		}
		if len(abs) < b.maxDataSize {
			coff := b.alloc(b.dataBytes(len(abs)))
			if err := b.writeData(coff, rows, abs); err != nil {
				return err
			}
			children[k] = coff
			continue
		}
		cb := b.newBranch(br.level+1, abs, rows)
		coff := b.alloc(b.branchBytes(cb))
		children[k] = coff
		recurse = append(recurse, pending{cb, coff})
	}

	if err := b.writeBranch(off, br, children, rows); err != nil {
		return err
	}
	for _, p := range recurse {
		if err := b.buildBranch(p.br, p.off, rows); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeBranch(off uint64, br *branch, children []uint64, rows []Row) error {
	buf := make([]byte, 0, b.branchBytes(br))
	buf = append(buf, tagBranch)
	for _, p := range br.pivots {
		buf = b.typ.AppendCoordAt(buf, p, br.level)
	}
	for _, bucket := range br.intersecting {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bucket)))
		for _, idx := range bucket {
			buf = appendRow(buf, b.typ, rows[br.bucket[idx]])
		}
	}
	for _, child := range children {
		buf = binary.LittleEndian.AppendUint64(buf, child)
	}
	must.True(len(buf) == b.branchBytes(br), "tree: branch record size drifted")
	return b.st.WriteAt(off, buf)
}

// writeData writes a data leaf at off.  When idx is nil the whole row slice
// is the bucket.
func (b *Builder) writeData(off uint64, rows []Row, idx []int) error {
	cnt := len(idx)
	if idx == nil {
		cnt = len(rows)
	}
	buf := make([]byte, 0, b.dataBytes(cnt))
	buf = append(buf, tagData)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(cnt))
	if idx == nil {
		for _, r := range rows {
			buf = appendRow(buf, b.typ, r)
		}
	} else {
		for _, i := range idx {
			buf = appendRow(buf, b.typ, rows[i])
		}
	}
	return b.st.WriteAt(off, buf)
}
