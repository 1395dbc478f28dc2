package repository

import (
	"bytes"
	"context"
	"math"
	"sync"
	"time"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/compress"
	"github.com/snapbox/snapbox/internal/crypto"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/debug"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
	"github.com/snapbox/snapbox/internal/index"
	"github.com/snapbox/snapbox/internal/pack"
)

// sizeTracker reports the repository's current total stored size, used to
// compute the effective per-pack target (spec §4.5: "grow_factor ·
// √(total_repo_size_in_bytes)"). The Repository implements it.
type sizeTracker interface {
	totalSize() int64
}

// Packer accumulates encrypted+compressed blobs of one BlobType into pack
// files, flushing on size thresholds. One Packer exists per BlobType in a
// Repository and is shared by every FileArchiver/TreeArchiver worker (spec
// §4.5).
type Packer struct {
	blobType data.BlobType
	key      *crypto.Key
	be       backend.Backend
	idx      *index.Index
	repo     sizeTracker
	cfg      data.PackSizeConfig
	minPct   uint
	maxPct   uint

	compress func(dst, src []byte) ([]byte, error)

	mu    sync.Mutex
	buf   *bytes.Buffer
	blobs []data.IndexBlob
	ids   map[ids.ID]struct{}
}

// NewPacker constructs a Packer for blobType. compress may be nil to
// disable compression (ConfigFile version 1, per spec §3).
func NewPacker(blobType data.BlobType, key *crypto.Key, be backend.Backend, idx *index.Index, repo sizeTracker, cfg data.PackSizeConfig, minPct, maxPct uint, compressor *compress.Compressor) *Packer {
	var compressFn func(dst, src []byte) ([]byte, error)
	if compressor != nil {
		compressFn = compressor.Compress
	}
	return &Packer{
		blobType: blobType,
		key:      key,
		be:       be,
		idx:      idx,
		repo:     repo,
		cfg:      cfg,
		minPct:   minPct,
		maxPct:   maxPct,
		compress: compressFn,
		buf:      &bytes.Buffer{},
		blobs:    nil,
		ids:      make(map[ids.ID]struct{}),
	}
}

// effectiveTarget computes min(limit, max(target, grow_factor *
// sqrt(total_repo_size))) per spec §4.5.
func (p *Packer) effectiveTarget() uint64 {
	target := p.cfg.Target
	if p.cfg.GrowFactor > 0 && p.repo != nil {
		grown := uint64(float64(p.cfg.GrowFactor) * math.Sqrt(float64(p.repo.totalSize())))
		if grown > target {
			target = grown
		}
	}
	if p.cfg.Limit > 0 && target > p.cfg.Limit {
		target = p.cfg.Limit
	}
	return target
}

// AddBlob implements the add-blob protocol from spec §4.5: dedup against
// the Indexer, then compress+encrypt+append, returning whether the blob
// was newly written and (if so) its length within the pack.
func (p *Packer) AddBlob(ctx context.Context, id ids.ID, plaintext []byte) (known bool, sizeInRepo int, err error) {
	if p.idx.Has(p.blobType, id) {
		return true, 0, nil
	}

	p.mu.Lock()
	// Re-check under the lock: another goroutine may have added this
	// exact blob into the currently-open (not yet indexed) buffer.
	if _, already := p.ids[id]; already {
		p.mu.Unlock()
		return true, 0, nil
	}

	ib, err := pack.AppendBlob(p.buf, p.key, p.compress, p.blobType, id, plaintext)
	if err != nil {
		p.mu.Unlock()
		return false, 0, err
	}
	p.blobs = append(p.blobs, ib)
	p.ids[id] = struct{}{}
	size := int(ib.Length)
	bufLen := uint64(p.buf.Len())
	p.mu.Unlock()

	// effectiveTarget must run outside the lock: it calls
	// p.repo.totalSize(), which sums pendingSize() across every packer
	// including this one, and pendingSize() re-locks p.mu. Holding the
	// lock here would self-deadlock.
	shouldFinalize := bufLen >= p.effectiveTarget()

	if shouldFinalize {
		if ferr := p.finalize(ctx); ferr != nil {
			return false, 0, ferr
		}
	}

	return false, size, nil
}

// finalize swaps out the current buffer/blob list under the lock (so a
// concurrent AddBlob on another goroutine can start filling a fresh
// buffer immediately, per spec §4.5 "finalization of one pack must not
// block admission of the next blob on a different pack"), then uploads
// the swapped-out pack synchronously on the calling goroutine.
func (p *Packer) finalize(ctx context.Context) error {
	p.mu.Lock()
	if len(p.blobs) == 0 {
		p.mu.Unlock()
		return nil
	}
	buf := p.buf
	blobs := p.blobs
	p.buf = &bytes.Buffer{}
	p.blobs = nil
	p.ids = make(map[ids.ID]struct{})
	p.mu.Unlock()

	assembled, err := pack.Finalize(p.key, buf.Bytes(), blobs)
	if err != nil {
		return err
	}
	assembled.Pack.Time = time.Now()

	p.checkSize(assembled)

	h := backend.Handle{Type: backend.PackFile, Name: assembled.ID.String()}
	if err := p.be.Save(ctx, h, int64(len(assembled.Bytes)), bytes.NewReader(assembled.Bytes), assembled.Pack.BlobType() == data.TreeBlob); err != nil {
		return errors.WithKind(errors.ErrIO, err)
	}

	debug.Log("packer: published pack %s (%d blobs, %d bytes)", assembled.ID.Str(), len(assembled.Pack.Blobs), len(assembled.Bytes))

	p.idx.AddPack(assembled.Pack)

	if p.idx.ShouldFlush() {
		// Publish an IndexFile now rather than waiting for the run's
		// final Flush (spec §4.6: "flushes an IndexFile to the Backend
		// ... whenever its size crosses a threshold"), so a crash
		// mid-backup only loses the packs written since the last
		// publish instead of every pack written so far.
		if err := p.idx.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// checkSize logs (does not fail) a small/oversized pack per the tolerance
// policy in spec §4.5: an undersized pack is acceptable (e.g. the last
// pack of a backup), an oversized one indicates a packer bug.
func (p *Packer) checkSize(a pack.Assembled) {
	target := p.effectiveTarget()
	if target == 0 {
		return
	}
	size := uint64(len(a.Bytes))
	if p.minPct > 0 && size*100 < target*uint64(p.minPct) {
		debug.Log("packer: pack %s is undersized (%d bytes, target %d)", a.ID.Str(), size, target)
	}
	if p.maxPct > 0 && size*100 > target*uint64(p.maxPct) {
		debug.Log("packer: BUG pack %s exceeds max tolerance (%d bytes, target %d, max%% %d)", a.ID.Str(), size, target, p.maxPct)
	}
}

// Flush finalizes any partially filled pack, e.g. at the end of a backup
// run (spec §4.10 orchestrator finalization).
func (p *Packer) Flush(ctx context.Context) error {
	return p.finalize(ctx)
}

// pendingSize returns the size in bytes of the currently open, unfinalized
// pack buffer — used by the Repository to compute total size estimates.
func (p *Packer) pendingSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.buf.Len())
}
