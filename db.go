// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package eyros

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	"github.com/grailbio/eyros/datastore"
	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/store"
	"github.com/grailbio/eyros/tree"
)

// DB is one eyros database: a fixed point shape, a set of staged immutable
// trees, the payload datastores they reference, and a tombstone set.
//
// One writer at a time may call Batch; the caller serializes writers.
// Queries may run concurrently with each other and observe the state
// committed at the time Query was called.
type DB struct {
	opener store.Opener
	typ    *point.Type
	meta   store.Store

	// mu guards fields and tombs.  Batch takes it briefly to publish a new
	// state; Query takes it briefly to snapshot.
	mu     sync.RWMutex
	fields *fields
	tombs  *tombstoneSet

	// hmu guards the lazily opened stream handles.
	hmu     sync.Mutex
	trees   map[int]store.Store
	dstores map[uint32]*datastore.DataStore
}

// Open opens or creates a database through opener.  typ fixes the point
// shape; reopening a database with a different shape fails.  opts applies
// only at creation.
func Open(opener store.Opener, typ *point.Type, opts Options) (*DB, error) {
	if typ == nil {
		return nil, errors.E(errors.Invalid, "eyros: nil point type")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	meta, err := opener("meta")
	if err != nil {
		return nil, err
	}
	db := &DB{
		opener:  opener,
		typ:     typ,
		meta:    meta,
		tombs:   &tombstoneSet{},
		trees:   make(map[int]store.Store),
		dstores: make(map[uint32]*datastore.DataStore),
	}
	size, err := meta.Len()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		db.fields = newFields(typ, opts)
		if err := db.commit(); err != nil {
			return nil, err
		}
		return db, nil
	}
	buf, err := meta.ReadAt(0, int(size))
	if err != nil {
		return nil, err
	}
	f, tombs, err := decodeFields(buf)
	if err != nil {
		return nil, err
	}
	if !f.Typ.Equal(typ) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("eyros: database holds points of type %s, not %s", f.Typ, typ))
	}
	db.fields = f
	for _, l := range tombs {
		db.tombs.add(l)
	}
	return db, nil
}

// Batch applies rows atomically: either the metadata commit at the end
// makes every insert and delete observable, or the database is left at its
// previous committed state (with any partial writes unreferenced).
func (db *DB) Batch(rows []Row) error {
	var inserts []Row
	var deletes []Location
	for _, r := range rows {
		if r.del {
			deletes = append(deletes, r.loc)
			continue
		}
		if err := db.typ.Check(r.point); err != nil {
			return err
		}
		inserts = append(inserts, r)
	}
	if len(inserts) == 0 && len(deletes) == 0 {
		return nil
	}

	var gather []tree.Row
	var ds *datastore.DataStore
	dsIdx := db.fields.Datastores
	if len(inserts) > 0 {
		var err error
		if ds, err = db.datastoreAt(dsIdx); err != nil {
			return err
		}
		dsRows := make([]datastore.Row, len(inserts))
		for i, r := range inserts {
			dsRows[i] = datastore.Row{Point: r.point, Value: r.value}
		}
		voffs, err := ds.Append(dsRows)
		if err != nil {
			return err
		}
		gather = make([]tree.Row, len(inserts))
		for i, r := range inserts {
			gather[i] = tree.Row{Point: r.point, Loc: Location{Store: dsIdx, Offset: voffs[i]}}
		}
	}
	// This batch's deletes already drop their rows from the levels merged
	// below; they reach the shared tombstone set only when the batch
	// publishes its new state.
	pending := &tombstoneSet{}
	for _, l := range deletes {
		pending.add(l)
	}

	newLevels := append([]levelEntry(nil), db.fields.Levels...)
	var treeStore store.Store
	var collected []Location
	if len(gather) > 0 {
		target := 0
		for i := 0; ; i++ {
			for len(newLevels) <= i {
				newLevels = append(newLevels, levelEntry{})
			}
			if newLevels[i].Root != 0 {
				r, err := db.treeReader(i)
				if err != nil {
					return err
				}
				err = r.Walk(newLevels[i].Root, func(row tree.Row) error {
					if db.tombs.has(row.Loc) || pending.has(row.Loc) {
						collected = append(collected, row.Loc)
						return nil
					}
					gather = append(gather, row)
					return nil
				})
				if err != nil {
					return err
				}
				newLevels[i] = levelEntry{}
			}
			if uint64(len(gather)) <= db.capacity(i) {
				target = i
				break
			}
		}
		var err error
		if treeStore, err = db.treeStoreAt(target); err != nil {
			return err
		}
		b, err := tree.NewBuilder(treeStore, db.typ, db.fields.Order, db.fields.MaxDataSize)
		if err != nil {
			return err
		}
		root, err := b.Build(gather)
		if err != nil {
			return err
		}
		newLevels[target] = levelEntry{
			Root:      root,
			Count:     uint64(len(gather)),
			Datastore: dsIdx,
		}
		log.Debug.Printf("eyros: batch: %d inserts, %d deletes -> level %d (%d rows, %d dropped)",
			len(inserts), len(deletes), target, len(gather), len(collected))
	}

	// Commit ordering: payload and tree bytes reach their stores before the
	// metadata that references them; the metadata sync is the commit marker.
	if ds != nil {
		if err := ds.Sync(); err != nil {
			return err
		}
	}
	if treeStore != nil {
		if err := treeStore.Sync(); err != nil {
			return err
		}
	}
	// The new level table, this batch's tombstones and the collection of
	// applied tombstones publish in one critical section: a query snapshot
	// sees either none or all of the batch, and either the old trees plus
	// the tombstones, or the merged tree without the rows.
	db.mu.Lock()
	if len(inserts) > 0 {
		db.fields.Datastores = dsIdx + 1
	}
	db.fields.Levels = newLevels
	for _, l := range deletes {
		db.tombs.add(l)
	}
	for _, l := range collected {
		db.tombs.remove(l)
	}
	db.mu.Unlock()
	return db.commit()
}

// commit writes and syncs the metadata stream.
func (db *DB) commit() error {
	db.mu.RLock()
	buf, err := db.fields.encode(db.tombs.snapshot())
	db.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := db.meta.WriteAt(0, buf); err != nil {
		return err
	}
	return db.meta.Sync()
}

// capacity returns the row capacity of a staging level,
// MaxDataSize·BranchFactor^(level+1), saturating well past any real level.
func (db *DB) capacity(level int) uint64 {
	c := uint64(db.fields.MaxDataSize)
	for i := 0; i <= level; i++ {
		c *= uint64(db.fields.BranchFactor)
		if c > 1<<40 {
			return 1 << 40
		}
	}
	return c
}

func (db *DB) treeStoreAt(level int) (store.Store, error) {
	db.hmu.Lock()
	defer db.hmu.Unlock()
	if st, ok := db.trees[level]; ok {
		return st, nil
	}
	st, err := db.opener(fmt.Sprintf("tree_%d", level))
	if err != nil {
		return nil, err
	}
	db.trees[level] = st
	return st, nil
}

// treeReader returns a fresh reader for a level's tree stream; the reader
// snapshots the stream length, so concurrent appends behind it are
// invisible.
func (db *DB) treeReader(level int) (*tree.Reader, error) {
	st, err := db.treeStoreAt(level)
	if err != nil {
		return nil, err
	}
	return tree.NewReader(st, db.typ, db.fields.Order)
}

func (db *DB) datastoreAt(idx uint32) (*datastore.DataStore, error) {
	db.hmu.Lock()
	defer db.hmu.Unlock()
	if ds, ok := db.dstores[idx]; ok {
		return ds, nil
	}
	data, err := db.opener(fmt.Sprintf("data_%d", idx))
	if err != nil {
		return nil, err
	}
	bbox, err := db.opener(fmt.Sprintf("bbox_%d", idx))
	if err != nil {
		data.Close() // nolint: errcheck
		return nil, err
	}
	ds, err := datastore.Open(data, bbox, db.typ,
		db.fields.MaxDataSize, db.fields.BBoxCacheSize, db.fields.DataListCacheSize)
	if err != nil {
		data.Close()  // nolint: errcheck
		bbox.Close()  // nolint: errcheck
		return nil, err
	}
	db.dstores[idx] = ds
	return ds, nil
}

// Fields returns the database's build parameters: leaf capacity, branching
// factor, and the pivot permutation.
func (db *DB) Fields() (maxDataSize, branchFactor int, order []int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.fields.MaxDataSize, db.fields.BranchFactor, append([]int(nil), db.fields.Order...)
}

// Close releases every stream handle.  It does not sync; Batch already
// committed or rolled back.
func (db *DB) Close() error {
	db.hmu.Lock()
	defer db.hmu.Unlock()
	var first error
	for _, st := range db.trees {
		if err := st.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, ds := range db.dstores {
		if err := ds.Close(); err != nil && first == nil {
			first = err
		}
	}
	db.trees = make(map[int]store.Store)
	db.dstores = make(map[uint32]*datastore.DataStore)
	if err := db.meta.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
