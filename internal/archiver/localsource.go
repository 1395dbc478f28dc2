//go:build !windows

package archiver

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/pkg/xattr"

	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/debug"
	"github.com/snapbox/snapbox/internal/errors"
)

// LocalSource walks a local filesystem path and implements Source over
// it. It is the one concrete collaborator supplementing the core's
// Source interface (spec §6 leaves Source's implementation out of
// scope, but a complete backup tool needs at least one).
type LocalSource struct {
	root    string
	stack   []*localDir
	pending []Event
}

type localDir struct {
	path    string
	entries []os.DirEntry
	pos     int
}

// NewLocalSource returns a Source that walks root, a single file or
// directory, depth-first in lexicographic order.
func NewLocalSource(root string) (*LocalSource, error) {
	root = filepath.Clean(root)
	fi, err := os.Lstat(root)
	if err != nil {
		return nil, errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}

	s := &LocalSource{root: root}

	node, err := nodeFromFileInfo(root, fi)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		s.pending = append(s.pending, Event{Kind: EventEnterDir, Path: root, Name: filepath.Base(root), Node: node})
		if err := s.pushDir(root); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(root)
		if err != nil {
			return nil, errors.WithKind(errors.ErrIO, errors.WithStack(err))
		}
		s.pending = append(s.pending, Event{Kind: EventLeaf, Path: root, Name: filepath.Base(root), Node: node, Open: f})
	}

	return s, nil
}

func (s *LocalSource) pushDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		// Unreadable directory: warn and skip its children (spec §4.12
		// treats source read errors as warn-and-skip, not fatal). The
		// caller must not emit an EventEnterDir for path when this
		// returns an error, since nothing was pushed onto s.stack to
		// match a later EventLeaveDir.
		debug.Log("skipping unreadable directory %q: %v", path, err)
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	s.stack = append(s.stack, &localDir{path: path, entries: entries})
	return nil
}

// Next implements Source.
func (s *LocalSource) Next() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		if len(s.stack) == 0 {
			return Event{}, io.EOF
		}

		top := s.stack[len(s.stack)-1]
		if top.pos >= len(top.entries) {
			s.stack = s.stack[:len(s.stack)-1]
			return Event{Kind: EventLeaveDir, Path: top.path, Name: filepath.Base(top.path)}, nil
		}

		entry := top.entries[top.pos]
		top.pos++
		path := filepath.Join(top.path, entry.Name())

		fi, err := os.Lstat(path)
		if err != nil {
			// spec §4.12: per-entry read errors are warned and skipped,
			// never abort the backup.
			debug.Log("skipping %q: lstat failed: %v", path, err)
			continue
		}

		node, err := nodeFromFileInfo(path, fi)
		if err != nil {
			debug.Log("skipping %q: %v", path, err)
			continue
		}

		if fi.IsDir() {
			if err := s.pushDir(path); err != nil {
				continue
			}
			return Event{Kind: EventEnterDir, Path: path, Name: entry.Name(), Node: node}, nil
		}

		var open Open
		if fi.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				debug.Log("skipping %q: open failed: %v", path, err)
				continue
			}
			open = f
		}
		return Event{Kind: EventLeaf, Path: path, Name: entry.Name(), Node: node, Open: open}, nil
	}
}

// Close releases any directory handles still open on the stack; since
// LocalSource reads whole directory listings eagerly there is nothing to
// release beyond letting the stack be garbage collected.
func (s *LocalSource) Close() error {
	s.stack = nil
	return nil
}

// nodeFromFileInfo builds a data.Node from a path and its Lstat result,
// following the metadata set spec §3 lists for Node: mode, times, owner,
// and (for symlinks) link target. Device and extended-attribute
// population mirror the same set.
func nodeFromFileInfo(path string, fi os.FileInfo) (data.Node, error) {
	node := data.Node{
		Name:    filepath.Base(path),
		Mode:    fi.Mode() & os.ModePerm,
		ModTime: fi.ModTime(),
		Size:    uint64(fi.Size()),
	}

	switch {
	case fi.IsDir():
		node.Type = data.NodeTypeDir
	case fi.Mode()&os.ModeSymlink != 0:
		node.Type = data.NodeTypeSymlink
		target, err := os.Readlink(path)
		if err != nil {
			// A broken symlink still has a valid target string; only a
			// readlink syscall failure (not ENOENT of the target) lands
			// here, and that is source-read-error territory (spec §4.12).
			return data.Node{}, errors.WithKind(errors.ErrIO, errors.WithStack(err))
		}
		node.LinkTarget = target
	case fi.Mode()&os.ModeNamedPipe != 0:
		node.Type = data.NodeTypeFifo
	case fi.Mode()&os.ModeSocket != 0:
		node.Type = data.NodeTypeSocket
	case fi.Mode()&os.ModeCharDevice != 0:
		node.Type = data.NodeTypeCharDev
	case fi.Mode()&os.ModeDevice != 0:
		node.Type = data.NodeTypeDev
	default:
		node.Type = data.NodeTypeFile
	}

	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		node.UID = stat.Uid
		node.GID = stat.Gid
		node.Inode = stat.Ino
		node.DeviceID = uint64(stat.Dev)
		node.AccessTime = statAtime(stat)
		node.ChangeTime = statCtime(stat)
		if node.Type == data.NodeTypeDev || node.Type == data.NodeTypeCharDev {
			node.Device = uint64(stat.Rdev)
		}
	}

	if node.Type == data.NodeTypeFile || node.Type == data.NodeTypeDir {
		if names, err := xattr.List(path); err == nil {
			for _, name := range names {
				value, err := xattr.Get(path, name)
				if err != nil {
					continue
				}
				node.ExtendedAttributes = append(node.ExtendedAttributes, data.ExtendedAttribute{Name: name, Value: value})
			}
		}
	}

	return node, nil
}
