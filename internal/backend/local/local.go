// Package local implements a Backend backed by a local filesystem
// directory tree, laid out as described in spec §6, adapted from restic's
// internal/backend/local.
package local

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/debug"
	"github.com/snapbox/snapbox/internal/errors"
)

// Local is a Backend rooted at a directory on the local filesystem.
type Local struct {
	root string
}

var _ backend.Backend = (*Local)(nil)

// New returns a Local backend rooted at root. The directory need not exist
// yet; call Create to initialize it.
func New(root string) *Local {
	return &Local{root: root}
}

func (l *Local) dirname(t backend.FileType, name string) string {
	switch t {
	case backend.ConfigFile:
		return l.root
	case backend.PackFile:
		base := filepath.Join(l.root, "data")
		if len(name) >= 2 {
			return filepath.Join(base, name[:2])
		}
		return base
	default:
		return filepath.Join(l.root, string(t))
	}
}

// Filename returns the on-disk path for h, following the layout rule from
// spec §4.2: config -> <root>/config; pack H -> <root>/data/H[0:2]/H;
// everything else -> <root>/<type>/H (the type's literal name, not its
// plural: <root>/index/H, <root>/key/H, <root>/snapshot/H).
func (l *Local) Filename(h backend.Handle) string {
	if h.Type == backend.ConfigFile {
		return filepath.Join(l.root, "config")
	}
	return filepath.Join(l.dirname(h.Type, h.Name), h.Name)
}

func (l *Local) paths() []string {
	dirs := []string{
		filepath.Join(l.root, string(backend.IndexFile)),
		filepath.Join(l.root, string(backend.KeyFile)),
		filepath.Join(l.root, string(backend.SnapshotFile)),
		filepath.Join(l.root, "data"),
	}
	for i := 0; i < 256; i++ {
		dirs = append(dirs, filepath.Join(l.root, "data", hex.EncodeToString([]byte{byte(i)})))
	}
	return dirs
}

// Create precreates the repository directory tree, including all 256 pack
// prefix subdirectories under data/ (spec §4.2).
func (l *Local) Create(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(l.root, "config")); err == nil {
		return errors.WithKind(errors.ErrPolicy, errors.New("repository already initialized"))
	}

	for _, dir := range l.paths() {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.WithKind(errors.ErrIO, errors.WithStack(err))
		}
	}
	return ctx.Err()
}

// Save atomically creates or replaces the file named by h: write to a
// temporary file in the same directory, fsync it, then rename over the
// final name, and fsync the containing directory. This is the same
// write-then-rename protocol as restic's local backend and satisfies the
// "no partial packs visible" invariant from spec §4.11.
func (l *Local) Save(_ context.Context, h backend.Handle, size int64, rd io.Reader, _ bool) (err error) {
	finalname := l.Filename(h)
	dir := filepath.Dir(finalname)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(finalname)+"-tmp-*")
	if err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, rd)
	if err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	if size >= 0 && written != size {
		return errors.WithKind(errors.ErrIO, errors.Errorf("wrote %d bytes, expected %d", written, size))
	}

	if err = tmp.Sync(); err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	if err = tmp.Close(); err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	if err = os.Rename(tmp.Name(), finalname); err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}

	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// best-effort: make the file read-only to guard against accidental
	// mutation after publication
	_ = os.Chmod(finalname, 0400)

	debug.Log("saved %v (%d bytes)", h, written)
	return nil
}

// Load reads the full contents of h.
func (l *Local) Load(_ context.Context, h backend.Handle) ([]byte, error) {
	data, err := os.ReadFile(l.Filename(h))
	if err != nil {
		return nil, errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	return data, nil
}

// LoadAt reads length bytes at offset from h. cacheable is advisory and
// unused by this implementation; a caching decorator can sit in front of
// Local to honor it.
func (l *Local) LoadAt(_ context.Context, h backend.Handle, offset int64, length int, _ bool) ([]byte, error) {
	f, err := os.Open(l.Filename(h))
	if err != nil {
		return nil, errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	return buf, nil
}

// Remove deletes the file named by h.
func (l *Local) Remove(_ context.Context, h backend.Handle, _ bool) error {
	fn := l.Filename(h)
	_ = os.Chmod(fn, 0600)
	if err := os.Remove(fn); err != nil {
		return errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	return nil
}

// List invokes fn once per stored file of type t.
func (l *Local) List(ctx context.Context, t backend.FileType, fn func(backend.FileInfo) error) error {
	if t == backend.ConfigFile {
		fi, err := os.Stat(filepath.Join(l.root, "config"))
		if err != nil {
			if l.IsNotExist(err) {
				return nil
			}
			return errors.WithKind(errors.ErrIO, errors.WithStack(err))
		}
		return fn(backend.FileInfo{Name: "", Size: fi.Size()})
	}

	if t == backend.PackFile {
		base := filepath.Join(l.root, "data")
		entries, err := os.ReadDir(base)
		if err != nil {
			if l.IsNotExist(err) {
				return nil
			}
			return errors.WithKind(errors.ErrIO, errors.WithStack(err))
		}
		for _, prefix := range entries {
			if !prefix.IsDir() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.visitFiles(filepath.Join(base, prefix.Name()), fn); err != nil {
				return err
			}
		}
		return nil
	}

	dir := l.dirname(t, "")
	if err := l.visitFiles(dir, fn); err != nil {
		if l.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func (l *Local) visitFiles(dir string, fn func(backend.FileInfo) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return errors.WithKind(errors.ErrIO, errors.WithStack(err))
		}
		if err := fn(backend.FileInfo{Name: e.Name(), Size: info.Size()}); err != nil {
			return err
		}
	}
	return nil
}

// IsNotExist reports whether err indicates a missing file.
func (l *Local) IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// Close is a no-op for the local backend: every file handle is already
// closed within the operation that opened it.
func (l *Local) Close() error { return nil }
