// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package eyros

import (
	"github.com/biogo/store/llrb"
)

// tombKey adapts a Location to the llrb ordering interface.
type tombKey Location

func (k tombKey) Compare(c llrb.Comparable) int {
	return Location(k).Compare(Location(c.(tombKey)))
}

// tombstoneSet is the set of deleted locations, ordered so the metadata
// encoding comes out sorted without an extra sort pass.  The single writer
// mutates it; readers work from snapshots.
type tombstoneSet struct {
	t llrb.Tree
}

func (s *tombstoneSet) add(l Location) { s.t.Insert(tombKey(l)) }

func (s *tombstoneSet) remove(l Location) { s.t.Delete(tombKey(l)) }

func (s *tombstoneSet) has(l Location) bool { return s.t.Get(tombKey(l)) != nil }

func (s *tombstoneSet) len() int { return s.t.Len() }

// snapshot returns the locations in ascending order.
func (s *tombstoneSet) snapshot() []Location {
	out := make([]Location, 0, s.t.Len())
	s.t.Do(func(c llrb.Comparable) bool {
		out = append(out, Location(c.(tombKey)))
		return false
	})
	return out
}
