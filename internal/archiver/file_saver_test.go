package archiver

import (
	"bytes"
	"context"
	"testing"
	"time"

	restchunker "github.com/restic/chunker"

	"github.com/snapbox/snapbox/internal/backend/mem"
	"github.com/snapbox/snapbox/internal/chunker"
	"github.com/snapbox/snapbox/internal/crypto"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
	"github.com/snapbox/snapbox/internal/repository"
)

// fakeOpen wraps an in-memory byte slice to satisfy the Open interface.
type fakeOpen struct {
	*bytes.Reader
}

func (fakeOpen) Close() error { return nil }

func newFakeOpen(content []byte) fakeOpen {
	return fakeOpen{bytes.NewReader(content)}
}

func newTestRepoForArchiver(t *testing.T) *repository.Repository {
	t.Helper()
	ctx := context.Background()
	be := mem.New()
	if err := be.Create(ctx); err != nil {
		t.Fatal(err)
	}
	key, err := crypto.NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg := data.Config{Version: 2, ChunkerPolynomial: "3DA3358B4DC173"}
	repo, err := repository.New(be, key, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

func testPolynomial(t *testing.T) restchunker.Pol {
	t.Helper()
	pol, err := chunker.ParsePolynomial("3DA3358B4DC173")
	if err != nil {
		t.Fatal(err)
	}
	return pol
}

func TestFileArchiverChunksAndDedups(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepoForArchiver(t)
	fa := NewFileArchiver(repo, testPolynomial(t))

	content := bytes.Repeat([]byte("x"), 1<<20)
	ev := Event{
		Kind: EventLeaf,
		Path: "/a/f",
		Name: "f",
		Node: data.Node{Name: "f", Type: data.NodeTypeFile, Size: uint64(len(content)), ModTime: time.Now()},
		Open: newFakeOpen(content),
	}

	node, stats, err := fa.Archive(ctx, ev, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if node.Size != uint64(len(content)) {
		t.Fatalf("node.Size = %d, want %d", node.Size, len(content))
	}
	if len(node.Content) == 0 {
		t.Fatal("node.Content is empty for non-empty file")
	}
	if stats.DataBlobs == 0 {
		t.Fatal("stats.DataBlobs = 0 for newly written content")
	}

	// Archiving the identical content again must fully dedup: zero new
	// data blobs written.
	ev2 := ev
	ev2.Open = newFakeOpen(content)
	_, stats2, err := fa.Archive(ctx, ev2, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats2.DataBlobs != 0 {
		t.Fatalf("stats2.DataBlobs = %d, want 0 (fully deduped)", stats2.DataBlobs)
	}
}

func TestFileArchiverEmptyFile(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepoForArchiver(t)
	fa := NewFileArchiver(repo, testPolynomial(t))

	ev := Event{
		Kind: EventLeaf,
		Path: "/a/empty",
		Name: "empty",
		Node: data.Node{Name: "empty", Type: data.NodeTypeFile, Size: 0, ModTime: time.Now()},
		Open: newFakeOpen(nil),
	}

	node, stats, err := fa.Archive(ctx, ev, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if node.Size != 0 {
		t.Fatalf("node.Size = %d, want 0", node.Size)
	}
	if node.Content == nil {
		t.Fatal("node.Content is nil for an empty file, want a non-nil empty list")
	}
	if len(node.Content) != 0 {
		t.Fatalf("node.Content has %d entries for an empty file, want 0", len(node.Content))
	}
	if stats.DataBlobs != 0 {
		t.Fatalf("stats.DataBlobs = %d for an empty file, want 0", stats.DataBlobs)
	}
}

func TestFileArchiverMatchedReusesContentWithoutOpening(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepoForArchiver(t)
	fa := NewFileArchiver(repo, testPolynomial(t))

	oldContent := ids.IDs{ids.Hash([]byte("previously archived"))}
	old := &data.Node{Name: "f", Type: data.NodeTypeFile, Size: 42, Content: oldContent}

	ev := Event{
		Kind: EventLeaf,
		Path: "/a/f",
		Name: "f",
		Node: data.Node{Name: "f", Type: data.NodeTypeFile, Size: 42, ModTime: time.Now()},
		Open: panicOpen{t},
	}

	node, stats, err := fa.Archive(ctx, ev, true, old)
	if err != nil {
		t.Fatal(err)
	}
	if len(node.Content) != 1 || node.Content[0] != oldContent[0] {
		t.Fatalf("node.Content = %v, want reused %v", node.Content, oldContent)
	}
	if stats.DataBlobs != 0 {
		t.Fatalf("stats.DataBlobs = %d for a matched file, want 0", stats.DataBlobs)
	}
}

// panicOpen fails the test if it is ever read from — used to assert that
// a Matched file's content is never opened.
type panicOpen struct{ t *testing.T }

func (p panicOpen) ReadAt(buf []byte, off int64) (int, error) {
	p.t.Fatal("matched file content was opened and read")
	return 0, nil
}
func (panicOpen) Close() error { return nil }

// failingOpen always returns an I/O error from ReadAt, simulating a file
// that disappears or becomes unreadable mid-backup.
type failingOpen struct{}

func (failingOpen) ReadAt(buf []byte, off int64) (int, error) {
	return 0, errors.New("simulated read failure")
}
func (failingOpen) Close() error { return nil }

func TestFileArchiverReadErrorIsNonFatal(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepoForArchiver(t)
	fa := NewFileArchiver(repo, testPolynomial(t))

	ev := Event{
		Kind: EventLeaf,
		Path: "/a/unreadable",
		Name: "unreadable",
		Node: data.Node{Name: "unreadable", Type: data.NodeTypeFile, Size: 1 << 20, ModTime: time.Now()},
		Open: failingOpen{},
	}

	_, _, err := fa.Archive(ctx, ev, false, nil)
	if err == nil {
		t.Fatal("Archive() with a failing reader returned no error")
	}
	if errors.IsFatal(err) {
		t.Fatalf("Archive() read error classified fatal, want non-fatal: %v", err)
	}
	if !errors.Is(err, errors.ErrIO) {
		t.Fatalf("Archive() read error is not ErrIO: %v", err)
	}
}

func TestFileArchiverSpecialNodePassesThrough(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepoForArchiver(t)
	fa := NewFileArchiver(repo, testPolynomial(t))

	ev := Event{
		Kind: EventLeaf,
		Path: "/a/sock",
		Name: "sock",
		Node: data.Node{Name: "sock", Type: data.NodeTypeSocket},
	}

	node, stats, err := fa.Archive(ctx, ev, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if node.Type != data.NodeTypeSocket {
		t.Fatalf("node.Type = %v, want NodeTypeSocket", node.Type)
	}
	if stats.DataBlobs != 0 {
		t.Fatalf("stats.DataBlobs = %d for a special node, want 0", stats.DataBlobs)
	}
}
