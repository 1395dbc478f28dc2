// Package data holds the repository's data model: blobs, packs, trees,
// nodes, config and snapshot records (spec §3).
package data

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
)

// BlobType is the closed set of blob kinds. A pack holds blobs of exactly
// one BlobType (spec §3 Pack invariant).
type BlobType uint8

const (
	// DataBlob is a content-defined chunk of file data. Not cached, not
	// typically small.
	DataBlob BlobType = iota
	// TreeBlob is a serialized directory listing. Cacheable, typically
	// small.
	TreeBlob
)

func (t BlobType) String() string {
	switch t {
	case DataBlob:
		return "data"
	case TreeBlob:
		return "tree"
	default:
		return "invalid"
	}
}

// MarshalJSON encodes BlobType as its lowercase name, so index and pack
// trailer JSON stays human-readable.
func (t BlobType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a BlobType from its lowercase name.
func (t *BlobType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "data":
		*t = DataBlob
	case "tree":
		*t = TreeBlob
	default:
		return errors.WithKind(errors.ErrFormat, errors.Errorf("unknown blob type %q", s))
	}
	return nil
}

// BlobHandle identifies a blob by its type and content ID.
type BlobHandle struct {
	Type BlobType `json:"type"`
	ID   ids.ID   `json:"id"`
}

// Blob is a logical (type, id, plaintext) unit. It is never individually
// addressable on the backend — only ever stored within a Pack.
type Blob struct {
	BlobHandle
	Length             uint `json:"length"`
	Offset             uint `json:"offset"`
	UncompressedLength uint `json:"uncompressed_length,omitempty"`
}

// IndexBlob records where one blob lives within a pack.
type IndexBlob struct {
	Blob
}

// IndexPack describes one pack file and the blobs it holds. Blobs are
// ordered by offset (spec §3 IndexPack).
type IndexPack struct {
	ID    ids.ID      `json:"id"`
	Time  time.Time   `json:"time,omitempty"`
	Size  int64       `json:"size,omitempty"`
	Blobs []IndexBlob `json:"blobs"`
}

// BlobType returns the type of the blobs in p, or DataBlob if p is empty
// (spec §3 "blob_type()").
func (p IndexPack) BlobType() BlobType {
	if len(p.Blobs) == 0 {
		return DataBlob
	}
	return p.Blobs[0].Type
}

// SortBlobsByOffset orders p.Blobs by ascending offset, as required of a
// pack trailer (spec §3, §5).
func (p *IndexPack) SortBlobsByOffset() {
	sort.Slice(p.Blobs, func(i, j int) bool { return p.Blobs[i].Offset < p.Blobs[j].Offset })
}

// IndexFile is the on-disk (encrypted) representation of a batch of
// IndexPack records, published atomically under a content-derived ID (spec
// §3, §4.6).
type IndexFile struct {
	Supersedes []ids.ID    `json:"supersedes,omitempty"`
	Packs      []IndexPack `json:"packs"`
	// PacksToDelete lists packs that maintenance should remove once this
	// index supersedes an older one; the core backup path never populates
	// this (it is a prune/maintenance concern, out of scope per spec §1),
	// but the field round-trips so index files produced by maintenance
	// tooling remain loadable.
	PacksToDelete []IndexPack `json:"packs_to_delete,omitempty"`
}
