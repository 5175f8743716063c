// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package eyros

import (
	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/tree"
)

// Location identifies one inserted record for later deletion.  Locations are
// returned by queries and stay valid for the life of the database.
type Location = tree.Location

// Row is one element of a batch: either an insertion of a point and its
// caller-encoded value, or a deletion of a previously returned location.
type Row struct {
	point point.Point
	value []byte
	loc   Location
	del   bool
}

// Insert returns an insertion row.  The value bytes are stored verbatim;
// encoding them is the caller's business.
func Insert(p point.Point, value []byte) Row {
	return Row{point: p, value: value}
}

// Delete returns a deletion row.  Deleting a location that was never
// inserted (or is already deleted) is a no-op.
func Delete(loc Location) Row {
	return Row{loc: loc, del: true}
}

// IsDelete reports whether the row is a deletion.
func (r Row) IsDelete() bool { return r.del }

// Point returns an insertion row's point.
func (r Row) Point() point.Point { return r.point }

// Value returns an insertion row's value bytes.
func (r Row) Value() []byte { return r.value }

// Loc returns a deletion row's target location.
func (r Row) Loc() Location { return r.loc }
