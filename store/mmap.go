package store

import (
	"io"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/grailbio/base/errors"
	pkgerrors "github.com/pkg/errors"
)

// NewMMap returns a read-only Opener over files previously written under
// dir.  Suited to query-only opens of an existing database; WriteAt on a
// mapped file fails with a NotSupported error.  A name with no file, or with
// an empty file, opens as an empty in-memory stream that accepts writes but
// never writes them to disk.
func NewMMap(dir string) Opener {
	return func(name string) (Store, error) {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				// The core probes names lazily; an absent file is an
				// empty stream, same as a fresh disk open.
				return &memStore{name: path}, nil
			}
			return nil, pkgerrors.Wrapf(err, "store: open %s", path)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close() // nolint: errcheck
			return nil, pkgerrors.Wrapf(err, "store: stat %s", path)
		}
		if st.Size() == 0 {
			f.Close() // nolint: errcheck
			return &memStore{name: path}, nil
		}
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close() // nolint: errcheck
			return nil, pkgerrors.Wrapf(err, "store: mmap %s", path)
		}
		return &mmapStore{f: f, path: path, m: m}, nil
	}
}

type mmapStore struct {
	f    *os.File
	path string
	m    mmap.MMap
}

func (s *mmapStore) ReadAt(off uint64, n int) ([]byte, error) {
	if off+uint64(n) > uint64(len(s.m)) {
		return nil, pkgerrors.Wrapf(io.ErrUnexpectedEOF, "store: read %s @%d+%d of %d", s.path, off, n, len(s.m))
	}
	out := make([]byte, n)
	copy(out, s.m[off:])
	return out, nil
}

func (s *mmapStore) WriteAt(off uint64, p []byte) error {
	return errors.E(errors.NotSupported, "store: "+s.path+" is mapped read-only")
}

func (s *mmapStore) Len() (uint64, error) {
	return uint64(len(s.m)), nil
}

func (s *mmapStore) Sync() error { return nil }

func (s *mmapStore) Close() error {
	if err := s.m.Unmap(); err != nil {
		s.f.Close() // nolint: errcheck
		return pkgerrors.Wrapf(err, "store: unmap %s", s.path)
	}
	return pkgerrors.Wrapf(s.f.Close(), "store: close %s", s.path)
}
