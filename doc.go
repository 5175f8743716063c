// Package eyros is an embedded multi-dimensional spatial index for batched
// workloads: rows keyed by 2-D or 3-D points whose coordinates are scalars
// or intervals, stored as immutable k-d trees over pluggable random-access
// byte streams, queried by bounding box.
//
// Batches of inserts and deletes accumulate in size-tiered staging levels;
// an overflowing level is merged upward into a freshly built tree.  Deletes
// are tombstones on the Location handles returned by queries and are
// collected when a merge drops the deleted row.
//
//	heap := store.NewHeap()
//	typ, _ := point.NewType(
//		point.IntervalDim(point.Float32),
//		point.IntervalDim(point.Float32),
//		point.ScalarDim(point.Float32),
//	)
//	db, _ := eyros.Open(heap.Opener, typ, eyros.Options{})
//	_ = db.Batch([]eyros.Row{eyros.Insert(p, value)})
//	it := db.Query(bbox)
//	for it.Scan() {
//		r := it.Row()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
package eyros
