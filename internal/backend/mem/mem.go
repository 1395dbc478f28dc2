// Package mem implements an in-memory Backend, adapted from restic's
// internal/backend/mem. It backs fast repository/archiver unit tests
// without touching disk.
package mem

import (
	"context"
	"io"
	"sync"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/errors"
)

type entry struct {
	data []byte
}

// Backend is a goroutine-safe in-memory implementation of backend.Backend.
type Backend struct {
	mu      sync.RWMutex
	files   map[backend.Handle]entry
	created bool
}

var _ backend.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{files: make(map[backend.Handle]entry)}
}

// Create marks the backend as initialized.
func (b *Backend) Create(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.created {
		return errors.WithKind(errors.ErrPolicy, errors.New("repository already initialized"))
	}
	b.created = true
	return nil
}

// Save stores the contents read from rd under h, replacing any prior
// contents atomically from the point of view of concurrent readers.
func (b *Backend) Save(_ context.Context, h backend.Handle, size int64, rd io.Reader, _ bool) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return errors.WithKind(errors.ErrIO, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return errors.WithKind(errors.ErrIO, errors.Errorf("wrote %d bytes, expected %d", len(data), size))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[h] = entry{data: data}
	return nil
}

// Load reads the full contents stored under h.
func (b *Backend) Load(_ context.Context, h backend.Handle) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.files[h]
	if !ok {
		return nil, errors.WithKind(errors.ErrIO, os_ErrNotExist{h})
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// LoadAt reads length bytes at offset from the file stored under h.
func (b *Backend) LoadAt(_ context.Context, h backend.Handle, offset int64, length int, _ bool) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.files[h]
	if !ok {
		return nil, errors.WithKind(errors.ErrIO, os_ErrNotExist{h})
	}
	if offset < 0 || offset+int64(length) > int64(len(e.data)) {
		return nil, errors.WithKind(errors.ErrIO, errors.Errorf("read out of range for %v", h))
	}
	out := make([]byte, length)
	copy(out, e.data[offset:offset+int64(length)])
	return out, nil
}

// Remove deletes the file stored under h.
func (b *Backend) Remove(_ context.Context, h backend.Handle, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[h]; !ok {
		return errors.WithKind(errors.ErrIO, os_ErrNotExist{h})
	}
	delete(b.files, h)
	return nil
}

// List invokes fn once per stored file of type t.
func (b *Backend) List(ctx context.Context, t backend.FileType, fn func(backend.FileInfo) error) error {
	b.mu.RLock()
	var infos []struct {
		h backend.Handle
		n int
	}
	for h, e := range b.files {
		if h.Type == t {
			infos = append(infos, struct {
				h backend.Handle
				n int
			}{h, len(e.data)})
		}
	}
	b.mu.RUnlock()

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(backend.FileInfo{Name: info.h.Name, Size: int64(info.n)}); err != nil {
			return err
		}
	}
	return nil
}

// IsNotExist reports whether err was produced by a missing-file condition
// in this backend.
func (b *Backend) IsNotExist(err error) bool {
	var e os_ErrNotExist
	return errors.As(err, &e)
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// os_ErrNotExist is a local not-exist marker so mem can report missing
// files without depending on the os package's sentinel, which only makes
// sense for real filesystem errors.
type os_ErrNotExist struct{ h backend.Handle }

func (e os_ErrNotExist) Error() string {
	return "no such file: " + string(e.h.Type) + "/" + e.h.Name
}
