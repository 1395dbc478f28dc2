package local

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/snapbox/snapbox/internal/backend"
)

func TestCreateRejectsInitializedRepository(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := New(root)

	if err := l.Create(ctx); err != nil {
		t.Fatal(err)
	}
	h := backend.Handle{Type: backend.ConfigFile}
	if err := l.Save(ctx, h, 1, bytes.NewReader([]byte("x")), false); err != nil {
		t.Fatal(err)
	}
	if err := l.Create(ctx); err == nil {
		t.Fatal("expected error creating an already-initialized repository")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := New(root)
	if err := l.Create(ctx); err != nil {
		t.Fatal(err)
	}

	h := backend.Handle{Type: backend.PackFile, Name: "ab" + "cdef0123456789"}
	content := []byte("pack file contents")
	if err := l.Save(ctx, h, int64(len(content)), bytes.NewReader(content), false); err != nil {
		t.Fatal(err)
	}

	got, err := l.Load(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Load() = %q, want %q", got, content)
	}

	wantPath := filepath.Join(root, "data", "ab", h.Name)
	if l.Filename(h) != wantPath {
		t.Fatalf("Filename() = %q, want %q", l.Filename(h), wantPath)
	}
}

func TestFilenameUsesSingularTypeDirectories(t *testing.T) {
	root := "/repo"
	l := New(root)

	cases := []struct {
		h    backend.Handle
		want string
	}{
		{backend.Handle{Type: backend.IndexFile, Name: "idx1"}, filepath.Join(root, "index", "idx1")},
		{backend.Handle{Type: backend.KeyFile, Name: "key1"}, filepath.Join(root, "key", "key1")},
		{backend.Handle{Type: backend.SnapshotFile, Name: "snap1"}, filepath.Join(root, "snapshot", "snap1")},
	}
	for _, c := range cases {
		if got := l.Filename(c.h); got != c.want {
			t.Fatalf("Filename(%+v) = %q, want %q", c.h, got, c.want)
		}
	}
}

func TestLoadAt(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := New(root)
	_ = l.Create(ctx)

	h := backend.Handle{Type: backend.IndexFile, Name: "indexname"}
	content := []byte("0123456789")
	if err := l.Save(ctx, h, int64(len(content)), bytes.NewReader(content), false); err != nil {
		t.Fatal(err)
	}

	got, err := l.LoadAt(ctx, h, 2, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "23456" {
		t.Fatalf("LoadAt() = %q, want %q", got, "23456")
	}
}

func TestConfigFileSingleton(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := New(root)
	_ = l.Create(ctx)

	h := backend.Handle{Type: backend.ConfigFile}
	content := []byte("config contents")
	if err := l.Save(ctx, h, int64(len(content)), bytes.NewReader(content), false); err != nil {
		t.Fatal(err)
	}

	var seen int
	err := l.List(ctx, backend.ConfigFile, func(fi backend.FileInfo) error {
		seen++
		if fi.Name != "" {
			t.Fatalf("config FileInfo.Name = %q, want empty", fi.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Fatalf("List(ConfigFile) invoked fn %d times, want 1", seen)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := New(root)
	_ = l.Create(ctx)

	h := backend.Handle{Type: backend.IndexFile, Name: "removeme"}
	_ = l.Save(ctx, h, 1, bytes.NewReader([]byte("x")), false)

	if err := l.Remove(ctx, h, false); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(ctx, h); err == nil {
		t.Fatal("expected error loading removed file")
	} else if !l.IsNotExist(err) {
		t.Fatalf("IsNotExist(%v) = false, want true", err)
	}
}

func TestListPackFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := New(root)
	_ = l.Create(ctx)

	names := []string{"aabbcc", "ddeeff", "aa1122"}
	for _, n := range names {
		h := backend.Handle{Type: backend.PackFile, Name: n}
		_ = l.Save(ctx, h, 1, bytes.NewReader([]byte("x")), false)
	}

	var found []string
	err := l.List(ctx, backend.PackFile, func(fi backend.FileInfo) error {
		found = append(found, fi.Name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != len(names) {
		t.Fatalf("List(PackFile) found %d files, want %d", len(found), len(names))
	}
}
