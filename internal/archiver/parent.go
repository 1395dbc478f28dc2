package archiver

import (
	"context"
	"sort"

	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
)

// Result is what the Parent walker reports for one incoming entry (spec
// §4.7).
type Result int

const (
	// ResultNew means the parent snapshot has no corresponding entry.
	ResultNew Result = iota
	// Changed means an entry exists but its type or metadata differs.
	Changed
	// Matched means an entry exists whose type and compared metadata are
	// equal; its content may be reused verbatim.
	Matched
)

// treeLoader is the subset of Repository the Parent walker needs,
// satisfied by *repository.Repository.
type treeLoader interface {
	LoadBlob(ctx context.Context, t data.BlobType, id ids.ID) ([]byte, error)
}

// frame holds one directory level of the parent tree: its Nodes sorted
// by Name plus a cursor into them, so Process can advance in lock-step
// with the source iterator instead of re-scanning from the top each call
// (spec §4.7: "assumes the input is sorted by path within each directory
// and advances in lock-step", modeled on the teacher's DualTreeIterator
// lockstep merge-join over two tree iterators).
type frame struct {
	nodes []data.Node
	pos   int
}

// Parent answers, for each incoming (path, node), whether a parent
// snapshot's tree already has a matching, unmatched, or absent entry.
// Constructed with a parent tree Id (nil for "no parent", e.g. the first
// backup of a path), and the comparison policy flags from spec §4.7.
type Parent struct {
	repo        treeLoader
	ignoreCtime bool
	ignoreInode bool

	stack []*frame
}

// NewParent constructs a Parent. rootTree may be nil, meaning there is no
// parent snapshot (or it does not cover this path): every entry then
// reports New.
func NewParent(ctx context.Context, repo treeLoader, rootTree *ids.ID, ignoreCtime, ignoreInode bool) (*Parent, error) {
	p := &Parent{repo: repo, ignoreCtime: ignoreCtime, ignoreInode: ignoreInode}

	root, err := p.loadFrame(ctx, rootTree)
	if err != nil {
		return nil, err
	}
	p.stack = []*frame{root}
	return p, nil
}

func (p *Parent) loadFrame(ctx context.Context, treeID *ids.ID) (*frame, error) {
	if treeID == nil || treeID.IsNull() {
		return &frame{}, nil
	}
	plaintext, err := p.repo.LoadBlob(ctx, data.TreeBlob, *treeID)
	if err != nil {
		// A missing or unreadable parent tree degrades to "no parent
		// entries here", per spec §4.12 ("Parent lookup errors: warn,
		// treat as New, continue") rather than failing the backup.
		return &frame{}, nil
	}
	tree, err := data.ParseTree(plaintext)
	if err != nil {
		return &frame{}, nil
	}
	nodes := append(data.Nodes(nil), tree.Nodes...)
	sort.Sort(nodes)
	return &frame{nodes: nodes}, nil
}

// current returns the active (innermost) frame.
func (p *Parent) current() *frame {
	return p.stack[len(p.stack)-1]
}

// advanceTo moves the current frame's cursor forward past any entries
// whose Name sorts before name, since the source iterator never
// revisits a name (both sequences are strictly increasing).
func (p *Parent) advanceTo(name string) {
	f := p.current()
	for f.pos < len(f.nodes) && f.nodes[f.pos].Name < name {
		f.pos++
	}
}

// Process reports the Result for one entry named name at the current
// directory depth, plus the matching parent Node when one exists
// (Matched or Changed).
func (p *Parent) Process(name string, node data.Node) (Result, *data.Node) {
	p.advanceTo(name)
	f := p.current()

	if f.pos >= len(f.nodes) || f.nodes[f.pos].Name != name {
		return ResultNew, nil
	}

	old := f.nodes[f.pos]
	if !p.equal(old, node) {
		return Changed, &old
	}
	return Matched, &old
}

// equal implements the Matched comparison from spec §4.7: same type, and
// size/mtime equal, plus ctime/inode equal unless the corresponding
// ignore flag is set.
func (p *Parent) equal(old, node data.Node) bool {
	if old.Type != node.Type {
		return false
	}
	if old.Size != node.Size {
		return false
	}
	if !old.ModTime.Equal(node.ModTime) {
		return false
	}
	if !p.ignoreCtime && !old.ChangeTime.Equal(node.ChangeTime) {
		return false
	}
	if !p.ignoreInode && old.Inode != node.Inode {
		return false
	}
	return true
}

// EnterDir descends into the parent entry named name, if one exists and
// is a directory; otherwise it pushes an empty frame, so every entry
// nested under a nonexistent or divergent subtree reports New (spec
// §4.7: "A divergence... simply yields New for all nested entries").
func (p *Parent) EnterDir(ctx context.Context, name string) error {
	p.advanceTo(name)
	f := p.current()

	if f.pos >= len(f.nodes) || f.nodes[f.pos].Name != name || f.nodes[f.pos].Type != data.NodeTypeDir {
		p.stack = append(p.stack, &frame{})
		return nil
	}

	sub, err := p.loadFrame(ctx, f.nodes[f.pos].Subtree)
	if err != nil {
		return errors.WithStack(err)
	}
	p.stack = append(p.stack, sub)
	return nil
}

// LeaveDir pops the frame pushed by the matching EnterDir.
func (p *Parent) LeaveDir() {
	p.stack = p.stack[:len(p.stack)-1]
}

// Nil reports whether p is a nil *Parent.
func (p *Parent) Nil() bool { return p == nil }
