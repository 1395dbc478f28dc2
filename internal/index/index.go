// Package index implements the in-memory deduplication oracle and the
// IndexFile persistence it accumulates into (spec §4.6). There is no
// surviving non-test source for restic's index package in this retrieval,
// so the structure below follows the method shapes implied by spec §4.6
// and the general shared-mutable-handle pattern restic's Packer/Repository
// code uses elsewhere (a small struct wrapping a mutex-guarded map).
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/crypto"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
)

// location is where one blob lives: which pack, at what offset/length.
type location struct {
	packID             ids.ID
	offset             uint
	length             uint
	uncompressedLength uint
}

// Index is the shared, concurrency-safe deduplication map plus the
// pending IndexPack accumulator that gets flushed into IndexFiles. One
// Index is shared by every Packer in a Repository.
type Index struct {
	be  backend.Backend
	key *crypto.Key

	// flushThreshold is the pending IndexPack count at which ShouldFlush
	// reports true (Packer.finalize then calls Flush).
	flushThreshold int

	mu        sync.Mutex
	locations map[data.BlobHandle]location
	pending   []data.IndexPack
	published []ids.ID
}

// New returns an Index backed by be, encrypting published IndexFiles with
// key. flushThreshold is the number of accumulated IndexPacks that
// triggers an automatic flush (spec §4.6: "whenever its size crosses a
// threshold"); 0 selects a sensible default.
func New(be backend.Backend, key *crypto.Key, flushThreshold int) *Index {
	if flushThreshold <= 0 {
		flushThreshold = 200
	}
	return &Index{
		be:             be,
		key:            key,
		flushThreshold: flushThreshold,
		locations:      make(map[data.BlobHandle]location),
	}
}

// Has reports whether id/t is already known to this Index, including
// blobs recorded by AddPack but not yet flushed to the Backend (spec §4.6:
// "contains(id) must reflect every blob ever added during this process").
func (idx *Index) Has(t data.BlobType, id ids.ID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.locations[data.BlobHandle{Type: t, ID: id}]
	return ok
}

// Lookup returns the recorded pack/offset/length for a known blob.
func (idx *Index) Lookup(t data.BlobType, id ids.ID) (packID ids.ID, offset, length, uncompressedLength uint, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	loc, found := idx.locations[data.BlobHandle{Type: t, ID: id}]
	if !found {
		return ids.ID{}, 0, 0, 0, false
	}
	return loc.packID, loc.offset, loc.length, loc.uncompressedLength, true
}

// AddPack records every blob in p against p's pack Id for future Has/
// Lookup queries, and queues p for the next flush. Called by a Packer
// immediately after finalizing a pack (spec §4.5 step 4, §4.6).
func (idx *Index) AddPack(p data.IndexPack) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, b := range p.Blobs {
		idx.locations[b.BlobHandle] = location{
			packID:             p.ID,
			offset:             b.Offset,
			length:             b.Length,
			uncompressedLength: b.UncompressedLength,
		}
	}
	idx.pending = append(idx.pending, p)
}

// ShouldFlush reports whether the pending IndexPack count has crossed the
// configured threshold.
func (idx *Index) ShouldFlush() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.pending) >= idx.flushThreshold
}

// Flush publishes any pending IndexPacks as a new, content-addressed
// IndexFile. It is a no-op if nothing is pending. Safe to call
// concurrently with Add/AddPack/Has from other goroutines; only the
// snapshot of currently-pending packs is drained under the lock, so
// newly-added packs during the Backend write land in the next flush.
func (idx *Index) Flush(ctx context.Context) error {
	idx.mu.Lock()
	if len(idx.pending) == 0 {
		idx.mu.Unlock()
		return nil
	}
	packs := idx.pending
	idx.pending = nil
	idx.mu.Unlock()

	return idx.publish(ctx, data.IndexFile{Packs: packs})
}

// Finalize flushes any remaining pending packs. It is equivalent to Flush
// but named to match the orchestrator's terminal lifecycle step (spec
// §4.10, §4.11).
func (idx *Index) Finalize(ctx context.Context) error {
	return idx.Flush(ctx)
}

func (idx *Index) publish(ctx context.Context, f data.IndexFile) error {
	plaintext, err := json.Marshal(f)
	if err != nil {
		return errors.WithKind(errors.ErrFormat, errors.WithStack(err))
	}

	ciphertext, err := idx.key.Seal(nil, plaintext, nil)
	if err != nil {
		return errors.WithKind(errors.ErrCrypto, err)
	}

	id := ids.Hash(plaintext)
	h := backend.Handle{Type: backend.IndexFile, Name: id.String()}

	if err := idx.be.Save(ctx, h, int64(len(ciphertext)), bytes.NewReader(ciphertext), false); err != nil {
		return errors.WithKind(errors.ErrIO, err)
	}

	idx.mu.Lock()
	idx.published = append(idx.published, id)
	idx.mu.Unlock()

	return nil
}

// Published returns the Ids of every IndexFile this Index has flushed so
// far, oldest first.
func (idx *Index) Published() []ids.ID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]ids.ID, len(idx.published))
	copy(out, idx.published)
	return out
}

// Load reads and decrypts every IndexFile in the backend, populating this
// Index's in-memory lookup map so that Has/Lookup reflect blobs written
// by prior processes (spec §4.6: "best-effort... unless the caller has
// explicitly refreshed from the Backend").
func (idx *Index) Load(ctx context.Context) error {
	var loadErr error
	err := idx.be.List(ctx, backend.IndexFile, func(fi backend.FileInfo) error {
		id, perr := ids.ParseID(fi.Name)
		if perr != nil {
			return perr
		}
		h := backend.Handle{Type: backend.IndexFile, Name: fi.Name}
		ciphertext, lerr := idx.be.Load(ctx, h)
		if lerr != nil {
			loadErr = lerr
			return nil
		}
		plaintext, oerr := idx.key.Open(nil, ciphertext, nil)
		if oerr != nil {
			return errors.WithKind(errors.ErrCrypto, oerr)
		}
		var f data.IndexFile
		if jerr := json.Unmarshal(plaintext, &f); jerr != nil {
			return errors.WithKind(errors.ErrFormat, errors.WithStack(jerr))
		}

		idx.mu.Lock()
		for _, p := range f.Packs {
			for _, b := range p.Blobs {
				idx.locations[b.BlobHandle] = location{
					packID:             p.ID,
					offset:             b.Offset,
					length:             b.Length,
					uncompressedLength: b.UncompressedLength,
				}
			}
		}
		idx.published = append(idx.published, id)
		idx.mu.Unlock()
		return nil
	})
	if err != nil {
		return errors.WithKind(errors.ErrIO, err)
	}
	return loadErr
}
