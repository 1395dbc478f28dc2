package archiver

import (
	"context"
	"io"

	restchunker "github.com/restic/chunker"

	"github.com/snapbox/snapbox/internal/chunker"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
	"github.com/snapbox/snapbox/internal/repository"
)

// ItemStats accumulates the per-file counters the orchestrator folds
// into the snapshot summary (spec §4.9: "counts... bytes processed, data
// added raw vs packed").
type ItemStats struct {
	DataBlobs      int
	DataSize       uint64
	DataSizeInRepo uint64
}

// chunkBuffer is a reusable byte slice handed out by a chunkBufferPool.
// Call release once done with it so the backing array can be reused.
type chunkBuffer struct {
	data []byte
	pool *chunkBufferPool
}

// release returns the buffer to its pool, unless it has grown beyond the
// pool's default size (in which case it is left for the GC).
func (b *chunkBuffer) release() {
	pool := b.pool
	if pool == nil || cap(b.data) > pool.defaultSize {
		return
	}
	select {
	case pool.ch <- b:
	default:
	}
}

// chunkBufferPool is a bounded pool of reusable chunkBuffers, sized to
// this repository's chunker.MaxSize so concurrent FileArchiver workers
// don't allocate a fresh buffer per chunk (spec §5: chunking is "blocking
// but cheap per chunk" CPU work, not worth paying an allocation for each
// call). The pool depth of 32 caps idle memory at 32*chunker.MaxSize
// regardless of FileWorkers, since workers release buffers back as soon
// as chunker.Next hands back a (possibly larger) replacement.
type chunkBufferPool struct {
	ch          chan *chunkBuffer
	defaultSize int
}

// newChunkBufferPool returns a pool holding at most max idle buffers,
// each defaultSize bytes when freshly allocated.
func newChunkBufferPool(max int, defaultSize int) *chunkBufferPool {
	return &chunkBufferPool{
		ch:          make(chan *chunkBuffer, max),
		defaultSize: defaultSize,
	}
}

// get returns a buffer from the pool, or allocates a new one if the pool
// is empty.
func (pool *chunkBufferPool) get() *chunkBuffer {
	select {
	case buf := <-pool.ch:
		return buf
	default:
	}
	return &chunkBuffer{
		data: make([]byte, pool.defaultSize),
		pool: pool,
	}
}

// FileArchiver reads file content, chunks it, dedups each chunk against
// the repository, and produces the finished Node (spec §4.8).
type FileArchiver struct {
	repo *repository.Repository
	pol  restchunker.Pol
	pool *chunkBufferPool
}

// NewFileArchiver returns a FileArchiver that chunks under polynomial
// pol and writes through repo.
func NewFileArchiver(repo *repository.Repository, pol restchunker.Pol) *FileArchiver {
	return &FileArchiver{
		repo: repo,
		pol:  pol,
		pool: newChunkBufferPool(32, chunker.MaxSize),
	}
}

// Archive produces the final Node for one EventLeaf. If matched is true,
// old's content is reused verbatim and the file is never opened (spec
// §4.8: "File, Matched by Parent → emit Node unchanged"). Otherwise, for
// NodeTypeFile, ev.Open is chunked and deduped; for special node types
// the node is emitted without content.
func (a *FileArchiver) Archive(ctx context.Context, ev Event, matched bool, old *data.Node) (data.Node, ItemStats, error) {
	node := ev.Node
	node.Path = ev.Path

	if node.Type != data.NodeTypeFile {
		if ev.Open != nil {
			_ = ev.Open.Close()
		}
		return node, ItemStats{}, nil
	}

	if matched && old != nil {
		if ev.Open != nil {
			_ = ev.Open.Close()
		}
		node.Content = old.Content
		return node, ItemStats{}, nil
	}

	if ev.Open == nil {
		return node, ItemStats{}, nil
	}
	defer ev.Open.Close()

	var stats ItemStats
	content := make(ids.IDs, 0, 1)

	c := chunker.New(io.NewSectionReader(ev.Open, 0, int64(node.Size)), a.pol)
	buf := a.pool.get()
	// A closure, not defer buf.release(): buf is reassigned on every
	// iteration below, and a plain defer would capture the first
	// buffer's value once and release only that one (potentially twice,
	// since the loop already releases it before moving on), leaking
	// whichever buffer was current when the loop actually exits.
	defer func() { buf.release() }()

	var size uint64
	for {
		chunk, err := c.Next(buf.data)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A read error on the file's own content: non-fatal per spec
			// §4.12 ("Read errors on a source file: warn, skip the file,
			// continue"). The orchestrator checks errors.IsFatal to decide
			// whether to abort the run or warn-and-skip this one file.
			return data.Node{}, ItemStats{}, errors.WithKind(errors.ErrIO, err)
		}
		buf.data = chunk.Data

		id, known, sizeInRepo, err := a.repo.SaveBlob(ctx, data.DataBlob, chunk.Data, ids.ID{}, false)
		if err != nil {
			// A backend/index/crypto write failure: fatal per spec §4.12
			// ("Backend write errors: abort the backup").
			return data.Node{}, ItemStats{}, errors.WrapFatal(err, "save chunk for "+ev.Path)
		}
		content = append(content, id)
		size += uint64(chunk.Length)

		if !known {
			stats.DataBlobs++
			stats.DataSize += uint64(chunk.Length)
			stats.DataSizeInRepo += uint64(sizeInRepo)
		}

		// Next may have handed back a buffer larger than what we passed
		// in; re-fetch a correctly sized one for the next iteration.
		buf.release()
		buf = a.pool.get()
	}

	node.Content = content
	node.Size = size
	return node, stats, nil
}
