// Package ids implements the content digest used to address every blob,
// pack, index, snapshot and config file in the repository.
package ids

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"

	"github.com/minio/sha256-simd"

	"github.com/snapbox/snapbox/internal/errors"
)

// Size is the length of an ID in bytes (SHA-256).
const Size = 32

// ID is a 32 byte SHA-256 digest identifying a blob, pack, index, snapshot
// or config file. The zero value is the null ID, meaning "absent".
type ID [Size]byte

// Hash computes the ID for the given data.
func Hash(data []byte) ID {
	return ID(sha256.Sum256(data))
}

// NewHasher returns a fresh SHA-256 hasher compatible with Hash, for
// streaming use (e.g. hashing a pack trailer incrementally).
func NewHasher() hash.Hash { return sha256.New() }

// ParseID parses s, which must be exactly 64 hex characters (either case),
// into an ID. It returns an ErrInput-kind error on malformed input.
func ParseID(s string) (ID, error) {
	var id ID

	if len(s) != hex.EncodedLen(Size) {
		return ID{}, errors.WithKind(errors.ErrInput, errors.Errorf("invalid length for id %q, expected %d hex characters", s, hex.EncodedLen(Size)))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, errors.WithKind(errors.ErrInput, errors.Wrap(err, "ParseID"))
	}

	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex encoding of id, or "null" for the null
// ID.
func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return hex.EncodeToString(id[:])
}

// Str returns an abbreviated, human-friendly form of id for log messages.
func (id ID) Str() string {
	if id.IsNull() {
		return "null"
	}
	return hex.EncodeToString(id[:8])
}

// IsNull reports whether id is the all-zero ID, meaning "absent".
func (id ID) IsNull() bool {
	return id == ID{}
}

// Equal reports whether id and other reference the same content.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Compare returns -1, 0 or 1 depending on the bytewise ordering of id and other.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalJSON encodes id as its hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes id from its hex string representation.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "UnmarshalJSON")
	}
	if s == "null" || s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IDs is a slice of ID, sortable in bytewise order.
type IDs []ID

func (ids IDs) Len() int           { return len(ids) }
func (ids IDs) Less(i, j int) bool { return ids[i].Compare(ids[j]) < 0 }
func (ids IDs) Swap(i, j int)      { ids[i], ids[j] = ids[j], ids[i] }

// Contains reports whether id appears in ids.
func (ids IDs) Contains(id ID) bool {
	for _, other := range ids {
		if other.Equal(id) {
			return true
		}
	}
	return false
}

// BlobMatchesReader reads exactly length bytes from rd and reports whether
// their hash equals id. It is used to re-verify a blob read back from a
// pack (spec §8 round-trip property).
func BlobMatchesReader(id ID, length int, rd io.Reader) (bool, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return false, errors.WithKind(errors.ErrIO, err)
	}
	return Hash(buf) == id, nil
}

// NewRandomID returns an ID filled from randRead (e.g. crypto/rand.Read).
// Pack, index and snapshot file names are content-derived and do not use
// it.
func NewRandomID(randRead func([]byte) (int, error)) (ID, error) {
	var id ID
	n, err := randRead(id[:])
	if err != nil {
		return ID{}, err
	}
	if n != Size {
		return ID{}, errors.New("short read while generating random id")
	}
	return id, nil
}
