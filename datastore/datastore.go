// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package datastore holds the payload side of an eyros database: an
// append-only data stream of compressed row blocks plus a parallel stream of
// fixed-width per-block bounding boxes.  Rows are addressed by virtual
// offset — block index in the upper bits, row index within the block in the
// low 16 — so payload bytes are written once and never move, which keeps row
// locations stable across tree rebuilds.
package datastore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/store"
)

const (
	// blockHdrWidth is the per-block header: raw length, compressed length,
	// fingerprint of the compressed bytes.
	blockHdrWidth = 4 + 4 + 8

	// maxBlockRows bounds rows per block so a row index fits the low 16
	// bits of a virtual offset.
	maxBlockRows = 1<<16 - 1
)

// VOffset packs a block index and a row index into a virtual offset.
func VOffset(block uint64, row int) uint64 { return block<<16 | uint64(row) }

func splitVOffset(v uint64) (block uint64, row int) { return v >> 16, int(v & 0xffff) }

// Row is one payload record: its point and the caller-encoded value bytes.
type Row struct {
	Point point.Point
	Value []byte
}

// DataStore is one append-only payload store.  A single writer appends;
// any number of readers may query concurrently, sharing two internally
// synchronized LRU caches (block bounding boxes and decoded row lists).
type DataStore struct {
	typ  *point.Type
	data store.Store
	bbox store.Store

	blockRows  int
	entryWidth int

	mu      sync.Mutex // guards the append cursor and block count
	dataLen uint64
	nblocks uint64

	bboxCache *lru.Cache[uint64, blockEntry]
	listCache *lru.Cache[uint64, []Row]
}

// blockEntry is one record of the bbox stream: where the block's bytes live
// in the data stream, and the union of its rows' extents.
type blockEntry struct {
	off  uint64
	bbox point.BBox
}

// Open positions a datastore over its two streams.  maxDataSize bounds rows
// per block; the cache sizes bound the two read caches.
func Open(data, bbox store.Store, typ *point.Type, maxDataSize, bboxCacheSize, dataListCacheSize int) (*DataStore, error) {
	d := &DataStore{
		typ:        typ,
		data:       data,
		bbox:       bbox,
		blockRows:  maxDataSize,
		entryWidth: 8 + typ.BBoxWidth(),
	}
	if d.blockRows < 1 {
		d.blockRows = 1
	}
	if d.blockRows > maxBlockRows {
		d.blockRows = maxBlockRows
	}
	var err error
	if d.bboxCache, err = lru.New[uint64, blockEntry](cacheSize(bboxCacheSize)); err != nil {
		return nil, err
	}
	if d.listCache, err = lru.New[uint64, []Row](cacheSize(dataListCacheSize)); err != nil {
		return nil, err
	}
	if d.dataLen, err = data.Len(); err != nil {
		return nil, err
	}
	blen, err := bbox.Len()
	if err != nil {
		return nil, err
	}
	if blen%uint64(d.entryWidth) != 0 {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("datastore: bbox stream length %d not a multiple of %d", blen, d.entryWidth))
	}
	d.nblocks = blen / uint64(d.entryWidth)
	return d, nil
}

func cacheSize(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Append writes rows as one or more blocks and returns one virtual offset
// per row, aligned with the input.
func (d *DataStore) Append(rows []Row) ([]uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	voffs := make([]uint64, 0, len(rows))
	for len(rows) > 0 {
		cnt := len(rows)
		if cnt > d.blockRows {
			cnt = d.blockRows
		}
		block, rest := rows[:cnt], rows[cnt:]
		if err := d.appendBlock(block, &voffs); err != nil {
			return nil, err
		}
		rows = rest
	}
	return voffs, nil
}

func (d *DataStore) appendBlock(rows []Row, voffs *[]uint64) error {
	raw := binary.LittleEndian.AppendUint32(nil, uint32(len(rows)))
	var bound point.BBox
	for _, r := range rows {
		raw = d.typ.AppendPoint(raw, r.Point)
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(r.Value)))
		raw = append(raw, r.Value...)
		d.typ.Extend(&bound, r.Point)
	}
	comp := snappy.Encode(nil, raw)

	buf := make([]byte, 0, blockHdrWidth+len(comp))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(comp)))
	buf = binary.LittleEndian.AppendUint64(buf, farm.Fingerprint64(comp))
	buf = append(buf, comp...)
	if err := d.data.WriteAt(d.dataLen, buf); err != nil {
		return err
	}

	entry := binary.LittleEndian.AppendUint64(nil, d.dataLen)
	entry = d.typ.AppendBBox(entry, bound)
	if err := d.bbox.WriteAt(d.nblocks*uint64(d.entryWidth), entry); err != nil {
		return err
	}

	for i := range rows {
		*voffs = append(*voffs, VOffset(d.nblocks, i))
	}
	if log.At(log.Debug) {
		log.Debug.Printf("datastore: block %d: %d rows, %d->%d bytes",
			d.nblocks, len(rows), len(raw), len(comp))
	}
	d.dataLen += uint64(len(buf))
	d.nblocks++
	return nil
}

// Get fetches the single row addressed by voff.
func (d *DataStore) Get(voff uint64) (Row, error) {
	block, idx := splitVOffset(voff)
	rows, err := d.loadBlock(block)
	if err != nil {
		return Row{}, err
	}
	if idx >= len(rows) {
		return Row{}, errors.E(errors.Integrity,
			fmt.Sprintf("datastore: row %d outside block %d of %d rows", idx, block, len(rows)))
	}
	return rows[idx], nil
}

// Sync flushes both streams.
func (d *DataStore) Sync() error {
	if err := d.data.Sync(); err != nil {
		return err
	}
	return d.bbox.Sync()
}

// Close releases both streams.
func (d *DataStore) Close() error {
	err := d.data.Close()
	if cerr := d.bbox.Close(); err == nil {
		err = cerr
	}
	return err
}

func (d *DataStore) loadEntry(block uint64) (blockEntry, error) {
	if e, ok := d.bboxCache.Get(block); ok {
		return e, nil
	}
	d.mu.Lock()
	nblocks := d.nblocks
	d.mu.Unlock()
	if block >= nblocks {
		return blockEntry{}, errors.E(errors.Integrity,
			fmt.Sprintf("datastore: block %d of %d", block, nblocks))
	}
	buf, err := d.bbox.ReadAt(block*uint64(d.entryWidth), d.entryWidth)
	if err != nil {
		return blockEntry{}, err
	}
	e := blockEntry{off: binary.LittleEndian.Uint64(buf)}
	if e.bbox, _, err = d.typ.DecodeBBox(buf[8:]); err != nil {
		return blockEntry{}, err
	}
	d.bboxCache.Add(block, e)
	return e, nil
}

func (d *DataStore) loadBlock(block uint64) ([]Row, error) {
	if rows, ok := d.listCache.Get(block); ok {
		return rows, nil
	}
	e, err := d.loadEntry(block)
	if err != nil {
		return nil, err
	}
	hdr, err := d.data.ReadAt(e.off, blockHdrWidth)
	if err != nil {
		return nil, err
	}
	rawLen := binary.LittleEndian.Uint32(hdr)
	compLen := binary.LittleEndian.Uint32(hdr[4:])
	sum := binary.LittleEndian.Uint64(hdr[8:])
	d.mu.Lock()
	dataLen := d.dataLen
	d.mu.Unlock()
	if e.off+blockHdrWidth+uint64(compLen) > dataLen {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("datastore: block %d overruns data stream", block))
	}
	comp, err := d.data.ReadAt(e.off+blockHdrWidth, int(compLen))
	if err != nil {
		return nil, err
	}
	if farm.Fingerprint64(comp) != sum {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("datastore: block %d fingerprint mismatch", block))
	}
	if dlen, derr := snappy.DecodedLen(comp); derr != nil || dlen != int(rawLen) {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("datastore: block %d raw length disagrees with its header", block))
	}
	raw, err := snappy.Decode(nil, comp)
	if err != nil {
		return nil, errors.E(errors.Integrity, "datastore: block decompression", err)
	}
	rows, err := d.decodeBlock(raw)
	if err != nil {
		return nil, err
	}
	d.listCache.Add(block, rows)
	return rows, nil
}

func (d *DataStore) decodeBlock(raw []byte) ([]Row, error) {
	if len(raw) < 4 {
		return nil, errors.E(errors.Integrity, "datastore: short block")
	}
	cnt := int(binary.LittleEndian.Uint32(raw))
	raw = raw[4:]
	rows := make([]Row, 0, cnt)
	for i := 0; i < cnt; i++ {
		p, rest, err := d.typ.DecodePoint(raw)
		if err != nil {
			return nil, err
		}
		if len(rest) < 4 {
			return nil, errors.E(errors.Integrity, "datastore: short row header")
		}
		vlen := int(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < vlen {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("datastore: row value of %d bytes exceeds block remainder", vlen))
		}
		rows = append(rows, Row{Point: p, Value: rest[:vlen:vlen]})
		raw = rest[vlen:]
	}
	return rows, nil
}
