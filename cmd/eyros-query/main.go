// Command eyros-query runs a bounding-box query against an existing eyros
// database directory holding 2-D interval/interval float32 points and
// prints the matches, one per line.
//
// Usage:
//
//	eyros-query [-mmap] <dir> <west,south,east,north>
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/eyros"
	"github.com/grailbio/eyros/point"
	"github.com/grailbio/eyros/store"
)

var useMMap = flag.Bool("mmap", false, "map the database files read-only")

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: eyros-query [-mmap] <dir> <west,south,east,north>")
		os.Exit(2)
	}
	dir := flag.Arg(0)
	corners := make([]float32, 0, 4)
	for _, s := range strings.Split(flag.Arg(1), ",") {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			panic(err.Error())
		}
		corners = append(corners, float32(v))
	}
	if len(corners) != 4 {
		fmt.Fprintln(os.Stderr, "usage: eyros-query [-mmap] <dir> <west,south,east,north>")
		os.Exit(2)
	}

	typ, err := point.NewType(
		point.IntervalDim(point.Float32),
		point.IntervalDim(point.Float32),
	)
	if err != nil {
		panic(err.Error())
	}
	opener := store.NewDisk(dir)
	if *useMMap {
		opener = store.NewMMap(dir)
	}
	db, err := eyros.Open(opener, typ, eyros.Options{})
	if err != nil {
		panic(err.Error())
	}
	defer db.Close() // nolint: errcheck

	bbox := point.NewBBox(
		[]point.Scalar{point.F32(corners[0]), point.F32(corners[1])},
		[]point.Scalar{point.F32(corners[2]), point.F32(corners[3])},
	)
	it := db.Query(bbox)
	for it.Scan() {
		r := it.Row()
		fmt.Printf("%v %v %x\n", r.Point, r.Loc, r.Value)
	}
	if err := it.Err(); err != nil {
		panic(err.Error())
	}
}
