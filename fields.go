// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package eyros

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math/rand"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/grailbio/eyros/point"
)

// Defaults for Options fields left zero.
const (
	DefaultMaxDataSize       = 256
	DefaultBranchFactor      = 9
	DefaultBBoxCacheSize     = 2048
	DefaultDataListCacheSize = 512
)

// Options configures a database at creation time.  The zero value means
// defaults.  On reopen the values stored in the metadata file win.
type Options struct {
	// MaxDataSize is the tree leaf capacity: buckets smaller than this
	// become data leaves.
	MaxDataSize int
	// BranchFactor is the number of pivots per branch node.
	BranchFactor int
	// BBoxCacheSize bounds the per-datastore cache of block bounding boxes.
	BBoxCacheSize int
	// DataListCacheSize bounds the per-datastore cache of decoded blocks.
	DataListCacheSize int
}

func (o *Options) validate() error {
	if o.MaxDataSize == 0 {
		o.MaxDataSize = DefaultMaxDataSize
	}
	if o.BranchFactor == 0 {
		o.BranchFactor = DefaultBranchFactor
	}
	if o.BBoxCacheSize == 0 {
		o.BBoxCacheSize = DefaultBBoxCacheSize
	}
	if o.DataListCacheSize == 0 {
		o.DataListCacheSize = DefaultDataListCacheSize
	}
	if o.MaxDataSize < 2 || o.MaxDataSize >= 1<<16 {
		return errors.E(errors.Invalid, fmt.Sprintf("eyros: max data size %d out of range", o.MaxDataSize))
	}
	if o.BranchFactor < 3 || o.BranchFactor > 255 {
		return errors.E(errors.Invalid, fmt.Sprintf("eyros: branch factor %d out of range", o.BranchFactor))
	}
	return nil
}

// levelEntry describes one staging level: the root offset of its live tree
// in "tree_<i>" (zero when the level is empty), the number of rows the tree
// holds, and the datastore the level's batch appended into.
type levelEntry struct {
	Root      uint64
	Count     uint64
	Datastore uint32
}

// fields is the database metadata: the build parameters fixed at creation
// plus the level table.  It is encoded whole into the "meta" stream, whose
// sync is the batch commit marker.
type fields struct {
	MaxDataSize       int
	BranchFactor      int
	Order             []int
	BBoxCacheSize     int
	DataListCacheSize int
	Typ               *point.Type
	Datastores        uint32
	Levels            []levelEntry
}

// fieldsMagic marks the metadata stream; the record body is gzip-compressed
// and fingerprint-terminated.
var fieldsMagic = []byte{'E', 'Y', 'D', 'B', 0x01, 0xe7, 0x21, 0x8f}

func newFields(typ *point.Type, o Options) *fields {
	return &fields{
		MaxDataSize:       o.MaxDataSize,
		BranchFactor:      o.BranchFactor,
		Order:             pivotOrder(o.BranchFactor),
		BBoxCacheSize:     o.BBoxCacheSize,
		DataListCacheSize: o.DataListCacheSize,
		Typ:               typ,
	}
}

// pivotOrder returns the database's pivot permutation.  It is deterministic
// in the branching factor so that independent creations of equally
// configured databases build identical trees.
func pivotOrder(n int) []int {
	r := rand.New(rand.NewSource(int64(n) * 0x9e3779b9))
	return r.Perm(n)
}

func (f *fields) clone() *fields {
	g := *f
	g.Order = append([]int(nil), f.Order...)
	g.Levels = append([]levelEntry(nil), f.Levels...)
	return &g
}

// encode serializes the fields plus the sorted tombstone list.
func (f *fields) encode(tombs []Location) ([]byte, error) {
	body := binary.LittleEndian.AppendUint32(nil, uint32(f.MaxDataSize))
	body = binary.LittleEndian.AppendUint32(body, uint32(f.BranchFactor))
	for _, o := range f.Order {
		body = binary.LittleEndian.AppendUint32(body, uint32(o))
	}
	body = binary.LittleEndian.AppendUint32(body, uint32(f.BBoxCacheSize))
	body = binary.LittleEndian.AppendUint32(body, uint32(f.DataListCacheSize))
	body = f.Typ.AppendDesc(body)
	body = binary.LittleEndian.AppendUint32(body, f.Datastores)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(f.Levels)))
	for _, lv := range f.Levels {
		body = binary.LittleEndian.AppendUint64(body, lv.Root)
		body = binary.LittleEndian.AppendUint64(body, lv.Count)
		body = binary.LittleEndian.AppendUint32(body, lv.Datastore)
	}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(tombs)))
	for _, l := range tombs {
		body = binary.LittleEndian.AppendUint32(body, l.Store)
		body = binary.LittleEndian.AppendUint64(body, l.Offset)
	}
	body = binary.LittleEndian.AppendUint64(body, farm.Fingerprint64(body))

	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(fieldsMagic)+4+zbuf.Len())
	out = append(out, fieldsMagic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(zbuf.Len()))
	return append(out, zbuf.Bytes()...), nil
}

func decodeFields(buf []byte) (*fields, []Location, error) {
	if len(buf) < len(fieldsMagic)+4 {
		return nil, nil, errors.E(errors.Integrity, "eyros: metadata shorter than its header")
	}
	if !bytes.Equal(buf[:len(fieldsMagic)], fieldsMagic) {
		return nil, nil, errors.E(errors.Integrity, "eyros: bad metadata magic")
	}
	buf = buf[len(fieldsMagic):]
	zlen := int(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]
	if len(buf) < zlen {
		return nil, nil, errors.E(errors.Integrity, "eyros: truncated metadata record")
	}
	zr, err := gzip.NewReader(bytes.NewReader(buf[:zlen]))
	if err != nil {
		return nil, nil, errors.E(errors.Integrity, "eyros: metadata decompression", err)
	}
	body, err := ioutil.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, errors.E(errors.Integrity, "eyros: metadata decompression", err)
	}
	if len(body) < 8 {
		return nil, nil, errors.E(errors.Integrity, "eyros: short metadata body")
	}
	sum := binary.LittleEndian.Uint64(body[len(body)-8:])
	body = body[:len(body)-8]
	if farm.Fingerprint64(body) != sum {
		return nil, nil, errors.E(errors.Integrity, "eyros: metadata fingerprint mismatch")
	}

	d := fieldsDecoder{b: body}
	f := &fields{}
	f.MaxDataSize = int(d.u32())
	f.BranchFactor = int(d.u32())
	if f.BranchFactor < 3 || f.BranchFactor > 255 {
		return nil, nil, errors.E(errors.Integrity,
			fmt.Sprintf("eyros: metadata branch factor %d out of range", f.BranchFactor))
	}
	f.Order = make([]int, f.BranchFactor)
	for i := range f.Order {
		f.Order[i] = int(d.u32())
	}
	f.BBoxCacheSize = int(d.u32())
	f.DataListCacheSize = int(d.u32())
	if d.err == nil {
		f.Typ, d.b, d.err = point.DecodeDesc(d.b)
	}
	f.Datastores = d.u32()
	nlevels := int(d.u32())
	for i := 0; i < nlevels && d.err == nil; i++ {
		f.Levels = append(f.Levels, levelEntry{
			Root:      d.u64(),
			Count:     d.u64(),
			Datastore: d.u32(),
		})
	}
	ntombs := int(d.u32())
	tombs := make([]Location, 0, ntombs)
	for i := 0; i < ntombs && d.err == nil; i++ {
		tombs = append(tombs, Location{Store: d.u32(), Offset: d.u64()})
	}
	if d.err != nil {
		return nil, nil, d.err
	}
	return f, tombs, nil
}

type fieldsDecoder struct {
	b   []byte
	err error
}

func (d *fieldsDecoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 4 {
		d.err = errors.E(errors.Integrity, "eyros: short metadata body")
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b)
	d.b = d.b[4:]
	return v
}

func (d *fieldsDecoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 8 {
		d.err = errors.E(errors.Integrity, "eyros: short metadata body")
		return 0
	}
	v := binary.LittleEndian.Uint64(d.b)
	d.b = d.b[8:]
	return v
}
