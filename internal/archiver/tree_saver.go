package archiver

import (
	"context"
	"sort"
	"sync"

	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/ids"
	"github.com/snapbox/snapbox/internal/repository"
)

// treeFrame accumulates the Nodes of one directory level, matching
// TreeArchiver's "stack of partially-built directories" (spec §4.9). own
// is the directory's own (not-yet-Subtree-stamped) Node, set when the
// frame is pushed and returned to the caller on Leave so it can be
// stamped and added to the enclosing frame.
type treeFrame struct {
	mu    sync.Mutex
	nodes data.Nodes
	own   data.Node
}

// AddNode appends a finished child Node to this frame. Safe for
// concurrent use by multiple FileArchiver workers, since files within
// one directory may be archived in parallel (spec §5).
func (f *treeFrame) AddNode(node data.Node) {
	f.mu.Lock()
	f.nodes = append(f.nodes, node)
	f.mu.Unlock()
}

// TreeArchiver assembles the Node lists FileArchiver/the orchestrator
// produce for one directory into a canonical Tree blob, submits it to
// the repository, and stamps the resulting blob Id onto the parent
// directory's Node as Subtree (spec §4.9).
type TreeArchiver struct {
	repo *repository.Repository

	stack []*treeFrame
}

// NewTreeArchiver returns a TreeArchiver writing through repo.
func NewTreeArchiver(repo *repository.Repository) *TreeArchiver {
	return &TreeArchiver{repo: repo}
}

// Enter pushes a new, empty directory frame for dirNode (spec §4.9: "On
// entering a directory, push an empty Node list").
func (t *TreeArchiver) Enter(dirNode data.Node) {
	t.stack = append(t.stack, &treeFrame{own: dirNode})
}

// Current returns the innermost open frame, to be captured by the
// orchestrator before dispatching a file to a worker goroutine, so the
// goroutine appends to the directory it was read from even if deeper
// directories are pushed and popped in the meantime.
func (t *TreeArchiver) Current() *treeFrame {
	return t.stack[len(t.stack)-1]
}

// Leave serializes the innermost frame into a canonical Tree blob, pops
// it, submits the blob to the repository, and returns the directory's
// own Node with Subtree stamped to the new blob Id (spec §4.9: "record
// the returned blob Id as the parent's subtree").
func (t *TreeArchiver) Leave(ctx context.Context) (data.Node, error) {
	f := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]

	sort.Sort(f.nodes)

	builder := data.NewTreeBuilder()
	for i := range f.nodes {
		if err := builder.AddNode(&f.nodes[i]); err != nil {
			return data.Node{}, err
		}
	}
	plaintext := builder.Finalize()

	id, _, _, err := t.repo.SaveBlob(ctx, data.TreeBlob, plaintext, ids.ID{}, false)
	if err != nil {
		return data.Node{}, err
	}

	own := f.own
	own.Subtree = &id
	return own, nil
}

// Depth reports how many directory frames are currently open.
func (t *TreeArchiver) Depth() int { return len(t.stack) }
