// Package backend defines the storage abstraction the core talks to (spec
// §4.2, §6). Concrete implementations — local, mem, and a retrying
// decorator — live in subpackages.
package backend

import (
	"context"
	"io"

	"github.com/snapbox/snapbox/internal/ids"
)

// FileType is the closed set of file kinds a Backend stores.
type FileType string

// The five file types named in spec §3/§6.
const (
	ConfigFile   FileType = "config"
	PackFile     FileType = "pack"
	IndexFile    FileType = "index"
	KeyFile      FileType = "key"
	SnapshotFile FileType = "snapshot"
)

// Handle names one file in the backend: its type plus, for every type but
// Config, its content ID. There is exactly one path per (Type, Name).
type Handle struct {
	Type FileType
	Name string // hex-encoded ID; empty for ConfigFile
}

// FileInfo describes a file discovered by List.
type FileInfo struct {
	Name string
	Size int64
}

// Backend is the storage abstraction consumed by the repository layer. Spec
// §4.2 names it list / list_with_size / read_full / read_partial /
// write_bytes / remove / create; this interface is the Go-idiomatic
// rendering of that same small surface.
type Backend interface {
	// Create prepares the backend for first use (e.g. precreating the 256
	// pack-prefix subdirectories). It is an error to Create a backend that
	// already holds a config file.
	Create(ctx context.Context) error

	// List invokes fn once for every file of type t currently stored. For
	// FileType ConfigFile, it invokes fn at most once, with Name == "" (the
	// null ID per spec §4.2).
	List(ctx context.Context, t FileType, fn func(FileInfo) error) error

	// Load reads the full contents of the file named by h.
	Load(ctx context.Context, h Handle) ([]byte, error)

	// LoadAt reads length bytes starting at offset from the file named by
	// h. cacheable is advisory: implementations may cache small,
	// frequently-read file types (e.g. Index, Tree packs) when true.
	LoadAt(ctx context.Context, h Handle, offset int64, length int, cacheable bool) ([]byte, error)

	// Save creates or atomically replaces the file named by h with the
	// contents read from rd. Implementations must fsync before returning
	// and must never leave a partially-written file visible under h's
	// final name (spec §4.2, §4.11).
	Save(ctx context.Context, h Handle, size int64, rd io.Reader, cacheable bool) error

	// Remove deletes the file named by h.
	Remove(ctx context.Context, h Handle, cacheable bool) error

	// IsNotExist reports whether err indicates h does not exist.
	IsNotExist(err error) bool

	// Close releases any resources held by the backend.
	Close() error
}

// ParseHandle builds a Handle from a file type and a hex-encoded ID,
// validating the hex encoding.
func ParseHandle(t FileType, name string) (Handle, error) {
	if t == ConfigFile {
		return Handle{Type: t}, nil
	}
	if _, err := ids.ParseID(name); err != nil {
		return Handle{}, err
	}
	return Handle{Type: t, Name: name}, nil
}
