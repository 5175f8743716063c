// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tree builds and reads the immutable spatial trees eyros persists
// per staging level.  A tree is a heap of self-describing node records in a
// byte stream: branches carry per-level pivot coordinates, per-pivot buckets
// of rows that straddle the pivot, and child offsets; data leaves carry rows
// inline.  Offsets are assigned preorder before any node bytes exist, so
// node sizes are derived exactly from their contents.
package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/store"
)

const (
	tagBranch = 0x00
	tagData   = 0x01

	// locWidth is the encoded size of a Location.
	locWidth = 4 + 8
)

// magic marks the head of a tree stream so that no node is ever assigned
// offset zero.
var magic = []byte{'E', 'Y', 'T', 'R', 0x01, 0x9d, 0x4a, 0x33}

// Location identifies one stored payload row: the datastore it was appended
// to and its virtual offset there.  Locations are stable for the life of the
// database and are the handle used to delete a row.
type Location struct {
	Store  uint32
	Offset uint64
}

func (l Location) String() string { return fmt.Sprintf("%d:%#x", l.Store, l.Offset) }

// Compare orders locations by (store, offset).
func (l Location) Compare(m Location) int {
	switch {
	case l.Store < m.Store:
		return -1
	case l.Store > m.Store:
		return 1
	case l.Offset < m.Offset:
		return -1
	case l.Offset > m.Offset:
		return 1
	}
	return 0
}

// Row is one indexed record: its point and the location of its payload.
type Row struct {
	Point point.Point
	Loc   Location
}

func rowWidth(typ *point.Type) int { return typ.PointWidth() + locWidth }

func appendRow(dst []byte, typ *point.Type, r Row) []byte {
	dst = typ.AppendPoint(dst, r.Point)
	dst = binary.LittleEndian.AppendUint32(dst, r.Loc.Store)
	dst = binary.LittleEndian.AppendUint64(dst, r.Loc.Offset)
	return dst
}

func decodeRow(typ *point.Type, b []byte) (Row, []byte, error) {
	p, b, err := typ.DecodePoint(b)
	if err != nil {
		return Row{}, nil, err
	}
	if len(b) < locWidth {
		return Row{}, nil, errors.E(errors.Integrity, "tree: short row encoding")
	}
	loc := Location{
		Store:  binary.LittleEndian.Uint32(b),
		Offset: binary.LittleEndian.Uint64(b[4:]),
	}
	return Row{Point: p, Loc: loc}, b[locWidth:], nil
}

// Reader reads nodes of one tree stream.  It is safe for concurrent use;
// every read validates offsets against the stream length observed at
// creation, so a reader sees a consistent prefix even while the single
// writer appends new trees behind it.
type Reader struct {
	st    store.Store
	typ   *point.Type
	order []int
	size  uint64
}

// NewReader returns a reader over st.  The order permutation must be the
// database's pivot permutation (it fixes the branching factor).
func NewReader(st store.Store, typ *point.Type, order []int) (*Reader, error) {
	size, err := st.Len()
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if size < uint64(len(magic)) {
			return nil, errors.E(errors.Integrity, "tree: stream shorter than its magic")
		}
		head, err := st.ReadAt(0, len(magic))
		if err != nil {
			return nil, err
		}
		for i := range magic {
			if head[i] != magic[i] {
				return nil, errors.E(errors.Integrity, "tree: bad magic")
			}
		}
	}
	return &Reader{st: st, typ: typ, order: order, size: size}, nil
}

// branchNode is one decoded branch: the pivot coordinate at this node's
// level per pivot, the straddling rows per pivot, and child offsets (zero
// means no child).
type branchNode struct {
	pivots       []point.Coord
	intersecting [][]Row
	children     []uint64
}

func (r *Reader) checkOffset(off uint64, n int) error {
	if off < uint64(len(magic)) || off+uint64(n) > r.size {
		return errors.E(errors.Integrity,
			fmt.Sprintf("tree: node record @%d+%d outside stream of %d bytes", off, n, r.size))
	}
	return nil
}

// readNode decodes the node at off.  branch is non-nil for a branch node and
// nil for a data leaf, whose rows are returned in rows (nil for an empty
// leaf).
func (r *Reader) readNode(off uint64, level int) (*branchNode, []Row, error) {
	if err := r.checkOffset(off, 1); err != nil {
		return nil, nil, err
	}
	tag, err := r.st.ReadAt(off, 1)
	if err != nil {
		return nil, nil, err
	}
	switch tag[0] {
	case tagBranch:
		b, err := r.readBranch(off+1, level)
		return b, nil, err
	case tagData:
		rows, err := r.readRows(off + 1)
		return nil, rows, err
	}
	return nil, nil, errors.E(errors.Integrity, fmt.Sprintf("tree: bad node tag %#x @%d", tag[0], off))
}

func (r *Reader) readBranch(off uint64, level int) (*branchNode, error) {
	n := len(r.order)
	b := &branchNode{
		pivots:       make([]point.Coord, n),
		intersecting: make([][]Row, n),
		children:     make([]uint64, n),
	}
	pw := r.typ.CoordWidthAt(level)
	if err := r.checkOffset(off, n*pw); err != nil {
		return nil, err
	}
	buf, err := r.st.ReadAt(off, n*pw)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		b.pivots[i], buf, err = r.typ.DecodeCoordAt(buf, level)
		if err != nil {
			return nil, err
		}
	}
	off += uint64(n * pw)

	rw := rowWidth(r.typ)
	for i := 0; i < n; i++ {
		if err := r.checkOffset(off, 4); err != nil {
			return nil, err
		}
		cntb, err := r.st.ReadAt(off, 4)
		if err != nil {
			return nil, err
		}
		cnt := int(binary.LittleEndian.Uint32(cntb))
		off += 4
		if cnt == 0 {
			continue
		}
		if err := r.checkOffset(off, cnt*rw); err != nil {
			return nil, err
		}
		rowsb, err := r.st.ReadAt(off, cnt*rw)
		if err != nil {
			return nil, err
		}
		rows := make([]Row, cnt)
		for j := 0; j < cnt; j++ {
			rows[j], rowsb, err = decodeRow(r.typ, rowsb)
			if err != nil {
				return nil, err
			}
		}
		b.intersecting[i] = rows
		off += uint64(cnt * rw)
	}

	if err := r.checkOffset(off, 8*n); err != nil {
		return nil, err
	}
	kids, err := r.st.ReadAt(off, 8*n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		b.children[i] = binary.LittleEndian.Uint64(kids[8*i:])
		if b.children[i] != 0 {
			if err := r.checkOffset(b.children[i], 1); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func (r *Reader) readRows(off uint64) ([]Row, error) {
	if err := r.checkOffset(off, 4); err != nil {
		return nil, err
	}
	cntb, err := r.st.ReadAt(off, 4)
	if err != nil {
		return nil, err
	}
	cnt := int(binary.LittleEndian.Uint32(cntb))
	if cnt == 0 {
		return nil, nil
	}
	rw := rowWidth(r.typ)
	if err := r.checkOffset(off+4, cnt*rw); err != nil {
		return nil, err
	}
	buf, err := r.st.ReadAt(off+4, cnt*rw)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, cnt)
	for j := 0; j < cnt; j++ {
		rows[j], buf, err = decodeRow(r.typ, buf)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Walk enumerates every row of the tree rooted at root exactly once,
// children and straddling buckets alike.  Used by level merges.
func (r *Reader) Walk(root uint64, fn func(Row) error) error {
	type frame struct {
		off   uint64
		level int
	}
	stack := []frame{{root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		branch, rows, err := r.readNode(f.off, f.level)
		if err != nil {
			return err
		}
		if branch == nil {
			for _, row := range rows {
				if err := fn(row); err != nil {
					return err
				}
			}
			continue
		}
		for _, bucket := range branch.intersecting {
			for _, row := range bucket {
				if err := fn(row); err != nil {
					return err
				}
			}
		}
		for _, child := range branch.children {
			if child != 0 {
				stack = append(stack, frame{child, f.level + 1})
			}
		}
	}
	return nil
}
