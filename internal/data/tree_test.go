package data

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTreeBuilderRoundtrip(t *testing.T) {
	nodes := []Node{
		{Name: "a.txt", Type: NodeTypeFile, Size: 3},
		{Name: "b.txt", Type: NodeTypeFile, Size: 5},
		{Name: "sub", Type: NodeTypeDir},
	}

	b := NewTreeBuilder()
	for i := range nodes {
		if err := b.AddNode(&nodes[i]); err != nil {
			t.Fatal(err)
		}
	}
	plaintext := b.Finalize()

	tree, err := ParseTree(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Nodes(nodes), tree.Nodes); diff != "" {
		t.Fatalf("tree round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeBuilderRejectsOutOfOrder(t *testing.T) {
	b := NewTreeBuilder()
	first := Node{Name: "b.txt", Type: NodeTypeFile}
	second := Node{Name: "a.txt", Type: NodeTypeFile}

	if err := b.AddNode(&first); err != nil {
		t.Fatal(err)
	}
	if err := b.AddNode(&second); err == nil {
		t.Fatal("expected ErrTreeNotOrdered for out-of-order insertion")
	}
}

func TestTreeBuilderRejectsDuplicateName(t *testing.T) {
	b := NewTreeBuilder()
	n1 := Node{Name: "a.txt", Type: NodeTypeFile}
	n2 := Node{Name: "a.txt", Type: NodeTypeFile}

	if err := b.AddNode(&n1); err != nil {
		t.Fatal(err)
	}
	if err := b.AddNode(&n2); err == nil {
		t.Fatal("expected ErrTreeNotOrdered for duplicate name")
	}
}

func TestTreeBuilderEmpty(t *testing.T) {
	b := NewTreeBuilder()
	plaintext := b.Finalize()

	tree, err := ParseTree(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Nodes) != 0 {
		t.Fatalf("expected empty tree, got %d nodes", len(tree.Nodes))
	}
}

func TestEncodeTreeMatchesBuilder(t *testing.T) {
	nodes := Nodes{
		{Name: "a", Type: NodeTypeFile},
		{Name: "b", Type: NodeTypeFile},
	}

	viaBuilder := NewTreeBuilder()
	for i := range nodes {
		if err := viaBuilder.AddNode(&nodes[i]); err != nil {
			t.Fatal(err)
		}
	}
	want := viaBuilder.Finalize()

	got, err := EncodeTree(&Tree{Nodes: nodes})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("EncodeTree() = %q, want %q", got, want)
	}
}
