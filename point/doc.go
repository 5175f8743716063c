// Package point models the multi-dimensional keys stored by eyros: fixed
// arity tuples whose coordinates are either single scalars or intervals of
// one of the ten primitive numeric kinds.
//
// A Type fixes the shape for a whole database and carries every per-level
// operation the tree needs: ordering at a level, pivot derivation, the
// coordinate codec, and bounding-box overlap.  All encodings are fixed-width
// little-endian.
package point
