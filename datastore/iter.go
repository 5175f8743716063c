// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package datastore

import (
	"github.com/grailbio/eyros/point"
)

// Iter streams the rows of one block that overlap a bounding box.
type Iter struct {
	typ  *point.Type
	bbox point.BBox
	rows []Row
	row  Row
	err  error
}

// Query returns an iterator over the rows of the block addressed by voff
// (the row bits are ignored) whose points overlap bbox.  When the block's
// summary bounding box misses bbox the block bytes are never read.
func (d *DataStore) Query(voff uint64, bbox point.BBox) *Iter {
	block, _ := splitVOffset(voff)
	it := &Iter{typ: d.typ, bbox: bbox}
	entry, err := d.loadEntry(block)
	if err != nil {
		it.err = err
		return it
	}
	if entry.bbox.Min != nil && !d.typ.Intersects(entry.bbox, bbox) {
		return it
	}
	if it.rows, err = d.loadBlock(block); err != nil {
		it.err = err
	}
	return it
}

// Scan advances to the next overlapping row.
func (it *Iter) Scan() bool {
	if it.err != nil {
		return false
	}
	for len(it.rows) > 0 {
		r := it.rows[0]
		it.rows = it.rows[1:]
		if it.typ.Overlaps(r.Point, it.bbox) {
			it.row = r
			return true
		}
	}
	return false
}

// Row returns the row produced by the last successful Scan.
func (it *Iter) Row() Row { return it.row }

// Err returns the error that stopped the iterator, if any.
func (it *Iter) Err() error { return it.err }
