package data

import (
	"sort"
	"testing"
	"time"

	"github.com/snapbox/snapbox/internal/ids"
)

func TestNodeEqualsIgnoresPath(t *testing.T) {
	now := time.Now()
	a := Node{Name: "f", Type: NodeTypeFile, Size: 4, ModTime: now, Path: "/a/f"}
	b := Node{Name: "f", Type: NodeTypeFile, Size: 4, ModTime: now, Path: "/b/f"}
	if !a.Equals(b) {
		t.Fatal("nodes differing only in Path should be Equals")
	}
}

func TestNodeEqualsDetectsContentDiff(t *testing.T) {
	now := time.Now()
	a := Node{Name: "f", Type: NodeTypeFile, Size: 4, ModTime: now, Content: ids.IDs{ids.Hash([]byte("x"))}}
	b := Node{Name: "f", Type: NodeTypeFile, Size: 4, ModTime: now, Content: ids.IDs{ids.Hash([]byte("y"))}}
	if a.Equals(b) {
		t.Fatal("nodes with different content blobs should not be Equals")
	}
}

func TestNodeEqualsSubtree(t *testing.T) {
	id1 := ids.Hash([]byte("tree1"))
	id2 := ids.Hash([]byte("tree2"))

	a := Node{Name: "d", Type: NodeTypeDir, Subtree: &id1}
	b := Node{Name: "d", Type: NodeTypeDir, Subtree: &id1}
	if !a.Equals(b) {
		t.Fatal("nodes with the same Subtree id should be Equals")
	}

	c := Node{Name: "d", Type: NodeTypeDir, Subtree: &id2}
	if a.Equals(c) {
		t.Fatal("nodes with different Subtree ids should not be Equals")
	}

	d := Node{Name: "d", Type: NodeTypeDir}
	if a.Equals(d) {
		t.Fatal("a node with a Subtree should not equal one without")
	}
}

func TestNodesSortByName(t *testing.T) {
	nodes := Nodes{
		{Name: "c"},
		{Name: "a"},
		{Name: "b"},
	}
	sort.Sort(nodes)
	if nodes[0].Name != "a" || nodes[1].Name != "b" || nodes[2].Name != "c" {
		t.Fatalf("nodes not sorted by name: %v", nodes)
	}
}
