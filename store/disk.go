package store

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// NewDisk returns an Opener that backs each name with a plain file under
// dir, creating the directory if needed.
func NewDisk(dir string) Opener {
	return func(name string) (Store, error) {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, errors.Wrapf(err, "store: mkdir %s", dir)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			return nil, errors.Wrapf(err, "store: open %s", path)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close() // nolint: errcheck
			return nil, errors.Wrapf(err, "store: stat %s", path)
		}
		return &diskStore{f: f, path: path, size: uint64(st.Size())}, nil
	}
}

type diskStore struct {
	f    *os.File
	path string

	mu   sync.Mutex // guards size
	size uint64
}

func (d *diskStore) ReadAt(off uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := d.f.ReadAt(buf, int64(off)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "store: read %s @%d+%d", d.path, off, n)
	}
	return buf, nil
}

func (d *diskStore) WriteAt(off uint64, p []byte) error {
	if _, err := d.f.WriteAt(p, int64(off)); err != nil {
		return errors.Wrapf(err, "store: write %s @%d+%d", d.path, off, len(p))
	}
	d.mu.Lock()
	if end := off + uint64(len(p)); end > d.size {
		d.size = end
	}
	d.mu.Unlock()
	return nil
}

func (d *diskStore) Len() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size, nil
}

func (d *diskStore) Sync() error {
	return errors.Wrapf(d.f.Sync(), "store: sync %s", d.path)
}

func (d *diskStore) Close() error {
	return errors.Wrapf(d.f.Close(), "store: close %s", d.path)
}
