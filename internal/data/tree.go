package data

import (
	"bytes"
	"encoding/json"

	"github.com/snapbox/snapbox/internal/errors"
)

// ErrTreeNotOrdered is returned by TreeBuilder.AddNode when nodes are
// inserted out of lexicographic order or duplicated (spec §3 Tree: "an
// ordered list of Nodes").
var ErrTreeNotOrdered = errors.WithKind(errors.ErrFormat, errors.New("nodes are not ordered or duplicate"))

// Tree is an ordered list of Nodes representing one directory, exactly as
// it is serialized into a Tree blob (spec §3).
type Tree struct {
	Nodes Nodes `json:"nodes"`
}

// TreeBuilder accumulates Nodes for one directory into the canonical,
// deterministic JSON encoding a Tree blob is hashed from — keys in a fixed
// order, nodes in strictly increasing Name order — without holding a
// parsed Tree value in memory, mirroring restic's TreeJSONBuilder.
type TreeBuilder struct {
	buf      bytes.Buffer
	lastName string
	count    int
}

// NewTreeBuilder returns an empty TreeBuilder.
func NewTreeBuilder() *TreeBuilder {
	b := &TreeBuilder{}
	b.buf.WriteString(`{"nodes":[`)
	return b
}

// AddNode appends node to the tree being built. Nodes must be added in
// strictly increasing Name order.
func (b *TreeBuilder) AddNode(node *Node) error {
	if node.Name <= b.lastName {
		return errors.Wrapf(ErrTreeNotOrdered, "node %q, last %q", node.Name, b.lastName)
	}
	if b.lastName != "" {
		b.buf.WriteByte(',')
	}
	b.lastName = node.Name

	val, err := json.Marshal(node)
	if err != nil {
		return errors.WithStack(err)
	}
	b.buf.Write(val)
	b.count++
	return nil
}

// Count returns the number of nodes added so far.
func (b *TreeBuilder) Count() int { return b.count }

// Finalize returns the canonical serialized tree blob plaintext. The
// builder must not be reused afterwards.
func (b *TreeBuilder) Finalize() []byte {
	b.buf.WriteString("]}\n")
	out := b.buf.Bytes()
	b.buf = bytes.Buffer{}
	return out
}

// ParseTree decodes a Tree blob's plaintext back into a Tree value.
func ParseTree(plaintext []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(plaintext, &t); err != nil {
		return nil, errors.WithKind(errors.ErrFormat, errors.Wrap(err, "parse tree"))
	}
	return &t, nil
}

// EncodeTree serializes a Tree value using the same canonical encoding a
// TreeBuilder would, assuming t.Nodes is already sorted by Name. Used by
// tests and by code paths that already hold an assembled Tree.
func EncodeTree(t *Tree) ([]byte, error) {
	b := NewTreeBuilder()
	for i := range t.Nodes {
		if err := b.AddNode(&t.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return b.Finalize(), nil
}
