// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tree

import (
	"github.com/grailbio/eyros/point"
)

// Cursor streams the rows of one tree that overlap a bounding box.  It is
// lazy (each Scan may read from the store), finite, and not restartable.
//
//	cur := reader.Cursor(root, bbox)
//	for cur.Scan() {
//		row := cur.Row()
//		...
//	}
//	err := cur.Err()
type Cursor struct {
	r    *Reader
	bbox point.BBox

	stack   []cursorFrame
	pending []Row
	row     Row
	err     error
}

type cursorFrame struct {
	off   uint64
	level int
}

// Cursor returns a cursor over the tree rooted at root.
func (r *Reader) Cursor(root uint64, bbox point.BBox) *Cursor {
	return &Cursor{
		r:     r,
		bbox:  bbox,
		stack: []cursorFrame{{root, 0}},
	}
}

// Scan advances to the next overlapping row, reporting whether one is
// available.  After Scan returns false, Err distinguishes exhaustion from
// failure.
func (c *Cursor) Scan() bool {
	if c.err != nil {
		return false
	}
	for {
		if n := len(c.pending); n > 0 {
			c.row = c.pending[n-1]
			c.pending = c.pending[:n-1]
			return true
		}
		if len(c.stack) == 0 {
			return false
		}
		f := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		branch, rows, err := c.r.readNode(f.off, f.level)
		if err != nil {
			c.err = err
			return false
		}
		if branch == nil {
			c.filterRows(rows)
			continue
		}
		c.visitBranch(branch, f.level)
	}
}

// Row returns the row produced by the last successful Scan.
func (c *Cursor) Row() Row { return c.row }

// Err returns the first error the cursor hit, if any.
func (c *Cursor) Err() error { return c.err }

func (c *Cursor) filterRows(rows []Row) {
	for _, row := range rows {
		if c.r.typ.Overlaps(row.Point, c.bbox) {
			c.pending = append(c.pending, row)
		}
	}
}

// visitBranch queues the branch's matching rows and the children whose slab
// intersects the query window at this level's dimension.
//
// Straddling buckets are scanned unconditionally: a row in intersecting[i]
// overlaps pivot i but may extend into a window that excludes the pivot
// itself, so the full-dimension filter is the only sound test.  Children
// carry strict pivot bounds (rows Equal to a pivot never descend), which is
// what makes the strict slab comparisons below safe.
func (c *Cursor) visitBranch(b *branchNode, level int) {
	for _, bucket := range b.intersecting {
		c.filterRows(bucket)
	}

	axis := c.r.typ.Axis(level)
	lo, hi := c.bbox.Min[axis], c.bbox.Max[axis]
	order := c.r.order
	bf := branchFactor(len(order))
	for k := 0; k < bf && k < len(b.children); k++ {
		if b.children[k] == 0 {
			continue
		}
		// Child k holds rows strictly below pivots[order[k+bf-1]] (when one
		// exists) and strictly above pivots[order[k+bf-2]].
		if k > 0 {
			lower := b.pivots[order[k+bf-2]].Lo
			if hi.Compare(lower) <= 0 {
				continue
			}
		}
		if k < bf-1 {
			upper := b.pivots[order[k+bf-1]].Lo
			if lo.Compare(upper) >= 0 {
				continue
			}
		}
		c.stack = append(c.stack, cursorFrame{b.children[k], level + 1})
	}
}
