// Package repository wires the Backend, the cipher, the compressor, one
// Packer per BlobType, and a shared Indexer into the single facade the
// archiver pipeline talks to (spec §4.5, §4.6, §4.10). There is no
// surviving non-test source for restic's repository package in this
// retrieval; the method surface below (SaveBlob/LoadBlob/Flush/
// SaveConfig/LoadConfig/SaveSnapshot/LoadSnapshot) follows the shapes implied by spec §2 and §4.10 and
// the teacher's general pattern of a Repository as "the single owner of
// configuration and handles" (spec §9).
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/compress"
	"github.com/snapbox/snapbox/internal/crypto"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
	"github.com/snapbox/snapbox/internal/index"
	"github.com/snapbox/snapbox/internal/pack"
)

// treeCacheSize bounds the LRU cache of decoded tree blobs. Tree blobs are
// small and frequently re-read (the Parent walker, TreeArchiver dedup),
// so caching them avoids repeated pack loads and decryption (spec §3:
// "Tree blobs are cacheable and typically small").
const treeCacheSize = 512

// Repository is the facade the archiver pipeline uses to read and write
// blobs, independent of pack/index/crypto mechanics.
type Repository struct {
	be   backend.Backend
	key  *crypto.Key
	comp *compress.Compressor // nil if compression is disabled (version 1)

	idx *index.Index

	packers map[data.BlobType]*Packer

	cfg data.Config

	totalBytes atomic.Int64

	treeCache *lru.Cache[ids.ID, []byte]
}

// New constructs a Repository over an already-created Backend, using cfg
// for pack sizing/compression policy and key for all encryption.
func New(be backend.Backend, key *crypto.Key, cfg data.Config) (*Repository, error) {
	var comp *compress.Compressor
	if cfg.Version >= 2 {
		level := compress.LevelDefault
		if cfg.CompressionLevel != nil {
			level = compress.Level(*cfg.CompressionLevel)
		}
		comp = compress.New(level)
	}

	cache, err := lru.New[ids.ID, []byte](treeCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	r := &Repository{
		be:        be,
		key:       key,
		comp:      comp,
		idx:       index.New(be, key, 0),
		packers:   make(map[data.BlobType]*Packer),
		cfg:       cfg,
		treeCache: cache,
	}

	for _, bt := range []data.BlobType{data.DataBlob, data.TreeBlob} {
		sizeCfg := cfg.PackSizeFor(bt)
		r.packers[bt] = NewPacker(bt, key, be, r.idx, r, sizeCfg, cfg.MinPackSizePercent, cfg.MaxPackSizePercent, comp)
	}

	return r, nil
}

// totalSize implements sizeTracker for the effective-target formula (spec
// §4.5). It sums the pending (unfinalized) bytes of every Packer plus
// whatever has already been published, giving a live estimate without a
// Backend round trip.
func (r *Repository) totalSize() int64 {
	total := r.totalBytes.Load()
	for _, p := range r.packers {
		total += p.pendingSize()
	}
	return total
}

// Key exposes the repository's cipher, e.g. for sealing SnapshotFile and
// IndexFile payloads outside the blob path.
func (r *Repository) Key() *crypto.Key { return r.key }

// Backend exposes the underlying storage backend.
func (r *Repository) Backend() backend.Backend { return r.be }

// Index exposes the shared Indexer, e.g. so the orchestrator can call
// Finalize once archiving completes.
func (r *Repository) Index() *index.Index { return r.idx }

// LoadIndex populates the in-memory dedup map from every IndexFile
// already present in the backend (spec §4.6 "refreshed from the
// Backend").
func (r *Repository) LoadIndex(ctx context.Context) error {
	return r.idx.Load(ctx)
}

// SaveBlob implements the Packer add-blob protocol (spec §4.5) for one
// logical blob: if storeDuplicate is false and the blob is already known,
// it returns the existing id with known=true and writes nothing.
func (r *Repository) SaveBlob(ctx context.Context, t data.BlobType, plaintext []byte, id ids.ID, storeDuplicate bool) (ids.ID, bool, int, error) {
	if id.IsNull() {
		id = ids.Hash(plaintext)
	}

	if !storeDuplicate && r.idx.Has(t, id) {
		return id, true, 0, nil
	}

	p, ok := r.packers[t]
	if !ok {
		return ids.ID{}, false, 0, errors.WithKind(errors.ErrInput, errors.Errorf("unknown blob type %d", t))
	}

	known, size, err := p.AddBlob(ctx, id, plaintext)
	if err != nil {
		return ids.ID{}, false, 0, err
	}
	if !known {
		r.totalBytes.Add(int64(size))
		if t == data.TreeBlob {
			r.treeCache.Add(id, append([]byte(nil), plaintext...))
		}
	}
	return id, known, size, nil
}

// LoadBlob reads and decrypts (and decompresses, if recorded) one blob by
// its type and content id, consulting the tree cache first for TreeBlob
// reads.
func (r *Repository) LoadBlob(ctx context.Context, t data.BlobType, id ids.ID) ([]byte, error) {
	if t == data.TreeBlob {
		if cached, ok := r.treeCache.Get(id); ok {
			return cached, nil
		}
	}

	packID, offset, length, uncompressedLength, ok := r.idx.Lookup(t, id)
	if !ok {
		return nil, errors.WithKind(errors.ErrConsistency, errors.Errorf("blob %s not present in any index", id))
	}

	h := backend.Handle{Type: backend.PackFile, Name: packID.String()}
	raw, err := r.be.LoadAt(ctx, h, int64(offset), int(length), t == data.TreeBlob)
	if err != nil {
		return nil, errors.WithKind(errors.ErrIO, err)
	}

	ib := data.IndexBlob{Blob: data.Blob{
		BlobHandle:         data.BlobHandle{Type: t, ID: id},
		Offset:             0,
		Length:             uint(len(raw)),
		UncompressedLength: uncompressedLength,
	}}

	plaintext, err := pack.ReadBlob(r.key, raw, ib, r.decompress)
	if err != nil {
		return nil, err
	}

	got := ids.Hash(plaintext)
	if got != id {
		return nil, errors.WithKind(errors.ErrConsistency, errors.Errorf("blob %s: hash mismatch on read, got %s", id, got))
	}

	if t == data.TreeBlob {
		r.treeCache.Add(id, plaintext)
	}
	return plaintext, nil
}

func (r *Repository) decompress(plaintext []byte, uncompressedLength int) ([]byte, error) {
	if r.comp == nil {
		return plaintext, nil
	}
	return r.comp.Decompress(nil, plaintext, uncompressedLength)
}

// Flush finalizes every Packer's open pack and then the Indexer, so that
// every blob submitted so far is durably published (spec §4.10, §4.11
// snapshot lifecycle: "index flushed" precedes "snapshot file written").
func (r *Repository) Flush(ctx context.Context) error {
	for _, bt := range []data.BlobType{data.DataBlob, data.TreeBlob} {
		if err := r.packers[bt].Flush(ctx); err != nil {
			return err
		}
	}
	return r.idx.Finalize(ctx)
}

// SaveConfig encrypts and writes cfg as the repository's single ConfigFile.
func (r *Repository) SaveConfig(ctx context.Context, cfg data.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return errors.WithStack(err)
	}
	ciphertext, err := r.key.Seal(nil, plaintext, nil)
	if err != nil {
		return errors.WithKind(errors.ErrCrypto, err)
	}
	h := backend.Handle{Type: backend.ConfigFile}
	return r.be.Save(ctx, h, int64(len(ciphertext)), bytes.NewReader(ciphertext), false)
}

// LoadConfig reads and decrypts the repository's ConfigFile.
func (r *Repository) LoadConfig(ctx context.Context) (data.Config, error) {
	h := backend.Handle{Type: backend.ConfigFile}
	ciphertext, err := r.be.Load(ctx, h)
	if err != nil {
		return data.Config{}, errors.WithKind(errors.ErrIO, err)
	}
	plaintext, err := r.key.Open(nil, ciphertext, nil)
	if err != nil {
		return data.Config{}, errors.WithKind(errors.ErrCrypto, err)
	}
	var cfg data.Config
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return data.Config{}, errors.WithKind(errors.ErrFormat, errors.WithStack(err))
	}
	return cfg, nil
}

// SaveSnapshot encrypts and publishes snap under its content-derived Id.
func (r *Repository) SaveSnapshot(ctx context.Context, snap *data.Snapshot) (ids.ID, error) {
	plaintext, err := json.Marshal(snap)
	if err != nil {
		return ids.ID{}, errors.WithStack(err)
	}
	ciphertext, err := r.key.Seal(nil, plaintext, nil)
	if err != nil {
		return ids.ID{}, errors.WithKind(errors.ErrCrypto, err)
	}
	id := ids.Hash(plaintext)
	h := backend.Handle{Type: backend.SnapshotFile, Name: id.String()}
	if err := r.be.Save(ctx, h, int64(len(ciphertext)), bytes.NewReader(ciphertext), false); err != nil {
		return ids.ID{}, errors.WithKind(errors.ErrIO, err)
	}
	snap.SetID(id)
	return id, nil
}

// LoadSnapshot reads and decrypts one snapshot by Id.
func (r *Repository) LoadSnapshot(ctx context.Context, id ids.ID) (*data.Snapshot, error) {
	h := backend.Handle{Type: backend.SnapshotFile, Name: id.String()}
	ciphertext, err := r.be.Load(ctx, h)
	if err != nil {
		return nil, errors.WithKind(errors.ErrIO, err)
	}
	plaintext, err := r.key.Open(nil, ciphertext, nil)
	if err != nil {
		return nil, errors.WithKind(errors.ErrCrypto, err)
	}
	var snap data.Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, errors.WithKind(errors.ErrFormat, errors.WithStack(err))
	}
	snap.SetID(id)
	return &snap, nil
}
