// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package eyros

import (
	"sort"

	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/tree"
)

// Result is one query match.
type Result struct {
	Point point.Point
	Value []byte
	Loc   Location
}

// Iter streams the records overlapping a bounding box across every live
// staging level, suppressing tombstoned rows.  The sequence is finite, lazy
// (each Scan may read from the stores) and not restartable.
type Iter struct {
	db   *DB
	bbox point.BBox

	levels []levelEntry
	next   int
	tombs  []Location

	cur *tree.Cursor
	res Result
	err error
}

// Query returns an iterator over every record whose point overlaps bbox.
// The iterator observes the state committed when Query was called; a Batch
// running concurrently is invisible to it.
func (db *DB) Query(bbox point.BBox) *Iter {
	it := &Iter{db: db, bbox: bbox}
	if err := db.typ.CheckBBox(bbox); err != nil {
		it.err = err
		return it
	}
	db.mu.RLock()
	it.levels = append([]levelEntry(nil), db.fields.Levels...)
	it.tombs = db.tombs.snapshot()
	db.mu.RUnlock()
	return it
}

// Scan advances to the next match, reporting whether one is available.
// After Scan returns false, Err distinguishes exhaustion from failure.
func (it *Iter) Scan() bool {
	if it.err != nil {
		return false
	}
	for {
		if it.cur == nil {
			lvl := -1
			for it.next < len(it.levels) {
				if it.levels[it.next].Root != 0 {
					lvl = it.next
					it.next++
					break
				}
				it.next++
			}
			if lvl < 0 {
				return false
			}
			r, err := it.db.treeReader(lvl)
			if err != nil {
				it.err = err
				return false
			}
			it.cur = r.Cursor(it.levels[lvl].Root, it.bbox)
		}
		for it.cur.Scan() {
			row := it.cur.Row()
			if it.tombstoned(row.Loc) {
				continue
			}
			ds, err := it.db.datastoreAt(row.Loc.Store)
			if err != nil {
				it.err = err
				return false
			}
			prow, err := ds.Get(row.Loc.Offset)
			if err != nil {
				it.err = err
				return false
			}
			it.res = Result{Point: row.Point, Value: prow.Value, Loc: row.Loc}
			return true
		}
		if err := it.cur.Err(); err != nil {
			it.err = err
			return false
		}
		it.cur = nil
	}
}

// Row returns the match produced by the last successful Scan.
func (it *Iter) Row() Result { return it.res }

// Err returns the error that stopped the iterator, if any.
func (it *Iter) Err() error { return it.err }

func (it *Iter) tombstoned(l Location) bool {
	i := sort.Search(len(it.tombs), func(i int) bool {
		return it.tombs[i].Compare(l) >= 0
	})
	return i < len(it.tombs) && it.tombs[i] == l
}
