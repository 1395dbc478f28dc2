package index

import (
	"context"
	"testing"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/backend/mem"
	"github.com/snapbox/snapbox/internal/crypto"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/ids"
)

func newTestKey(t *testing.T) *crypto.Key {
	t.Helper()
	key, err := crypto.NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func samplePack(seed string) data.IndexPack {
	id := ids.Hash([]byte(seed))
	blobID := ids.Hash([]byte(seed + "-blob"))
	return data.IndexPack{
		ID: id,
		Blobs: []data.IndexBlob{
			{Blob: data.Blob{
				BlobHandle: data.BlobHandle{Type: data.DataBlob, ID: blobID},
				Offset:     0,
				Length:     10,
			}},
		},
	}
}

func TestAddPackLookupAndHas(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	_ = be.Create(ctx)
	idx := New(be, newTestKey(t), 0)

	p := samplePack("one")
	idx.AddPack(p)

	blobID := p.Blobs[0].ID
	if !idx.Has(data.DataBlob, blobID) {
		t.Fatal("Has() = false for just-added blob")
	}
	packID, offset, length, _, ok := idx.Lookup(data.DataBlob, blobID)
	if !ok {
		t.Fatal("Lookup() ok = false for just-added blob")
	}
	if packID != p.ID || offset != 0 || length != 10 {
		t.Fatalf("Lookup() = (%s, %d, %d), want (%s, 0, 10)", packID, offset, length, p.ID)
	}
}

func TestShouldFlushThreshold(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	_ = be.Create(ctx)
	idx := New(be, newTestKey(t), 2)

	idx.AddPack(samplePack("a"))
	if idx.ShouldFlush() {
		t.Fatal("ShouldFlush() = true before threshold reached")
	}
	idx.AddPack(samplePack("b"))
	if !idx.ShouldFlush() {
		t.Fatal("ShouldFlush() = false at threshold")
	}
}

func TestFlushPublishesIndexFile(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	_ = be.Create(ctx)
	idx := New(be, newTestKey(t), 0)

	idx.AddPack(samplePack("x"))
	idx.AddPack(samplePack("y"))

	if err := idx.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(idx.Published()) != 1 {
		t.Fatalf("Published() has %d entries, want 1", len(idx.Published()))
	}

	var count int
	err := be.List(ctx, backend.IndexFile, func(fi backend.FileInfo) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("backend has %d IndexFiles, want 1", count)
	}

	// Flushing again with nothing pending is a no-op.
	if err := idx.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(idx.Published()) != 1 {
		t.Fatalf("Published() after empty Flush has %d entries, want 1", len(idx.Published()))
	}
}

func TestLoadRehydratesFromPublishedIndexFiles(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	_ = be.Create(ctx)
	key := newTestKey(t)

	writer := New(be, key, 0)
	p := samplePack("persisted")
	writer.AddPack(p)
	if err := writer.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	reader := New(be, key, 0)
	if err := reader.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if !reader.Has(data.DataBlob, p.Blobs[0].ID) {
		t.Fatal("Has() = false after Load(), want true")
	}
	if len(reader.Published()) != 1 {
		t.Fatalf("Published() after Load() has %d entries, want 1", len(reader.Published()))
	}
}
