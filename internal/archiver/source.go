package archiver

import (
	"io"

	"github.com/snapbox/snapbox/internal/data"
)

// Open is a readable byte stream for one File-type entry, returned
// alongside its Node by a Source (spec §6).
type Open interface {
	io.ReaderAt
	io.Closer
}

// EventKind distinguishes the three things a Source can yield: entering
// a directory (so Parent/TreeArchiver can push a frame), a leaf entry
// (file or special node, fully formed), and leaving a directory (so
// TreeArchiver can serialize the frame it has been accumulating).
type EventKind int

const (
	EventEnterDir EventKind = iota
	EventLeaf
	EventLeaveDir
)

// Event is one step of a Source's depth-first, lexicographically ordered
// walk (spec §6: "yields (path, Node, Option<Open>) in lexicographic
// order"; spec §4.9 describes the matching "entering"/"leaving" directory
// boundaries the TreeArchiver reacts to).
type Event struct {
	Kind EventKind

	// Path is the entry's path as the Source reports it (LocalSource: the
	// backup root joined with the entry's path below it, and the root path
	// itself for the root's events); Name is its final path component.
	// Both are set for every event kind.
	Path string
	Name string

	// Node is the entry's metadata for EventEnterDir and EventLeaf. For
	// EventEnterDir its Subtree field is not yet known; the TreeArchiver
	// fills it in once the matching EventLeaveDir is processed.
	Node data.Node

	// Open is non-nil only for EventLeaf entries of type NodeTypeFile.
	Open Open
}

// Source yields a depth-first walk of a filesystem tree as a sequence of
// Events, in lexicographic order within each directory.
type Source interface {
	// Next returns the next Event, or io.EOF once the walk is complete.
	Next() (Event, error)

	// Close releases any resources held by the walk.
	Close() error
}
