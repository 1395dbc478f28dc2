// Package pack implements the on-disk framing of a Pack file: a
// concatenation of encrypted(compressed(blob)) records followed by an
// encrypted trailer and a 4-byte little-endian trailer length (spec §3,
// §6). There is no surviving non-test source for this format in the
// teacher repo's retrieved snapshot, so the binary layout below is built
// directly from spec §6's byte-level description, in the teacher's style
// of small value types plus explicit (de)serialization methods seen
// throughout internal/crypto and internal/data.
package pack

import (
	"bytes"
	"encoding/binary"

	"github.com/snapbox/snapbox/internal/crypto"
	"github.com/snapbox/snapbox/internal/data"
	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
)

// headerLengthSize is the width of the trailer-length suffix.
const headerLengthSize = 4

// trailerRecord is the fixed-layout, per-blob entry inside a pack's
// plaintext trailer: {tpe:u8, offset:u32 LE, length:u32 LE, id:[u8;32],
// uncompressed_length?:u32 LE (0 = absent)}.
type trailerRecord struct {
	Type               data.BlobType
	Offset             uint32
	Length             uint32
	ID                 ids.ID
	UncompressedLength uint32
}

const trailerRecordSize = 1 + 4 + 4 + ids.Size + 4

func encodeTrailerRecord(r trailerRecord) []byte {
	buf := make([]byte, trailerRecordSize)
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[1:5], r.Offset)
	binary.LittleEndian.PutUint32(buf[5:9], r.Length)
	copy(buf[9:9+ids.Size], r.ID[:])
	binary.LittleEndian.PutUint32(buf[9+ids.Size:], r.UncompressedLength)
	return buf
}

func decodeTrailerRecord(buf []byte) (trailerRecord, error) {
	if len(buf) != trailerRecordSize {
		return trailerRecord{}, errors.WithKind(errors.ErrFormat, errors.New("truncated pack trailer record"))
	}
	var r trailerRecord
	switch data.BlobType(buf[0]) {
	case data.DataBlob:
		r.Type = data.DataBlob
	case data.TreeBlob:
		r.Type = data.TreeBlob
	default:
		return trailerRecord{}, errors.WithKind(errors.ErrFormat, errors.Errorf("unknown blob type %d in pack trailer", buf[0]))
	}
	r.Offset = binary.LittleEndian.Uint32(buf[1:5])
	r.Length = binary.LittleEndian.Uint32(buf[5:9])
	copy(r.ID[:], buf[9:9+ids.Size])
	r.UncompressedLength = binary.LittleEndian.Uint32(buf[9+ids.Size:])
	return r, nil
}

// encodeTrailer serializes blobs (already offset-ordered) into the
// canonical plaintext trailer bytes that are hashed to derive the pack Id
// and then encrypted for storage (spec §3: "Pack Id = SHA-256 of the
// pack's plaintext trailer").
func encodeTrailer(blobs []data.IndexBlob) []byte {
	buf := make([]byte, 0, len(blobs)*trailerRecordSize)
	for _, b := range blobs {
		buf = append(buf, encodeTrailerRecord(trailerRecord{
			Type:               b.Type,
			Offset:             uint32(b.Offset),
			Length:             uint32(b.Length),
			ID:                 b.ID,
			UncompressedLength: uint32(b.UncompressedLength),
		})...)
	}
	return buf
}

func decodeTrailer(buf []byte) ([]data.IndexBlob, error) {
	if len(buf)%trailerRecordSize != 0 {
		return nil, errors.WithKind(errors.ErrFormat, errors.New("pack trailer length is not a multiple of the record size"))
	}
	n := len(buf) / trailerRecordSize
	blobs := make([]data.IndexBlob, 0, n)
	for i := 0; i < n; i++ {
		rec, err := decodeTrailerRecord(buf[i*trailerRecordSize : (i+1)*trailerRecordSize])
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, data.IndexBlob{Blob: data.Blob{
			BlobHandle:         data.BlobHandle{Type: rec.Type, ID: rec.ID},
			Offset:             uint(rec.Offset),
			Length:             uint(rec.Length),
			UncompressedLength: uint(rec.UncompressedLength),
		}})
	}
	return blobs, nil
}

// Assembled is a finalized, ready-to-upload pack: its full byte content
// (blob records + encrypted trailer + length suffix), its Id, and the
// IndexPack record to hand to the Indexer.
type Assembled struct {
	ID    ids.ID
	Bytes []byte
	Pack  data.IndexPack
}

// Finalize builds the trailer for blobs (whose Offset/Length/ID fields
// must already be populated and which must be sorted by offset), encrypts
// it with key, appends it and its little-endian length suffix to buf, and
// returns the finished pack alongside its IndexPack record.
//
// The pack Id is the hash of the plaintext trailer, not of the encrypted
// bytes (spec §9 open question, resolved this way so that two encryptions
// of an identical blob set — which necessarily differ by nonce — still
// produce the same content address).
func Finalize(key *crypto.Key, buf []byte, blobs []data.IndexBlob) (Assembled, error) {
	plaintextTrailer := encodeTrailer(blobs)
	id := ids.Hash(plaintextTrailer)

	ciphertext, err := key.Seal(nil, plaintextTrailer, nil)
	if err != nil {
		return Assembled{}, errors.WithKind(errors.ErrCrypto, err)
	}

	out := make([]byte, 0, len(buf)+len(ciphertext)+headerLengthSize)
	out = append(out, buf...)
	out = append(out, ciphertext...)

	var lenSuffix [headerLengthSize]byte
	binary.LittleEndian.PutUint32(lenSuffix[:], uint32(len(ciphertext)))
	out = append(out, lenSuffix[:]...)

	ip := data.IndexPack{ID: id, Size: int64(len(out)), Blobs: append([]data.IndexBlob(nil), blobs...)}
	ip.SortBlobsByOffset()

	return Assembled{ID: id, Bytes: out, Pack: ip}, nil
}

// ReadTrailer locates and decrypts the trailer at the tail of a full pack
// file's bytes, returning the decoded IndexBlob records it lists.
func ReadTrailer(key *crypto.Key, packBytes []byte) ([]data.IndexBlob, error) {
	if len(packBytes) < headerLengthSize {
		return nil, errors.WithKind(errors.ErrFormat, errors.New("pack file too small to contain a trailer length"))
	}
	lenOffset := len(packBytes) - headerLengthSize
	trailerLen := int(binary.LittleEndian.Uint32(packBytes[lenOffset:]))
	if trailerLen < 0 || trailerLen > lenOffset {
		return nil, errors.WithKind(errors.ErrFormat, errors.New("invalid pack trailer length"))
	}

	ciphertext := packBytes[lenOffset-trailerLen : lenOffset]
	plaintext, err := key.Open(nil, ciphertext, nil)
	if err != nil {
		return nil, errors.WithKind(errors.ErrCrypto, err)
	}

	return decodeTrailer(plaintext)
}

// VerifyBlob re-derives a blob's hash from its stored bytes within a pack
// and confirms it matches b.ID, implementing the per-blob invariant from
// spec §8: "hash(decompress(decrypt(P[offset..offset+length]))) == id".
// decompress is supplied by the caller (nil if the blob is not
// compressed) so this function stays independent of the compress package.
func VerifyBlob(key *crypto.Key, b data.IndexBlob, ciphertext []byte, decompress func(plaintext []byte, uncompressedLength int) ([]byte, error)) error {
	plaintext, err := key.Open(nil, ciphertext, nil)
	if err != nil {
		return errors.WithKind(errors.ErrCrypto, err)
	}

	if decompress != nil && b.UncompressedLength > 0 {
		plaintext, err = decompress(plaintext, int(b.UncompressedLength))
		if err != nil {
			return errors.WithKind(errors.ErrCrypto, err)
		}
	}

	got := ids.Hash(plaintext)
	if got != b.ID {
		return errors.WithKind(errors.ErrConsistency, errors.Errorf("blob %s: hash mismatch, got %s", b.ID, got))
	}
	expectedLen := b.UncompressedLength
	if expectedLen == 0 && b.Length >= crypto.Extension {
		// Length is the sealed size: plaintext plus nonce and MAC.
		expectedLen = b.Length - crypto.Extension
	}
	if uint(len(plaintext)) != expectedLen {
		return errors.WithKind(errors.ErrConsistency, errors.Errorf("blob %s: length mismatch, got %d want %d", b.ID, len(plaintext), expectedLen))
	}
	return nil
}

// VerifyPack re-derives every blob's hash from a pack's own trailer and
// byte content, the "check-lite" property from spec §8 (round-trip hash
// verification without consulting an external index).
func VerifyPack(key *crypto.Key, packBytes []byte, decompress func(plaintext []byte, uncompressedLength int) ([]byte, error)) error {
	blobs, err := ReadTrailer(key, packBytes)
	if err != nil {
		return err
	}

	var prevEnd uint
	for _, b := range blobs {
		if b.Offset != prevEnd {
			return errors.WithKind(errors.ErrConsistency, errors.Errorf("pack blobs do not tile offsets: expected %d, got %d", prevEnd, b.Offset))
		}
		if uint64(b.Offset)+uint64(b.Length) > uint64(len(packBytes)) {
			return errors.WithKind(errors.ErrFormat, errors.New("blob range extends past pack file"))
		}
		ciphertext := packBytes[b.Offset : b.Offset+b.Length]
		if err := VerifyBlob(key, b, ciphertext, decompress); err != nil {
			return err
		}
		prevEnd = b.Offset + b.Length
	}
	return nil
}

// appendSealedBlob compresses (if compress is non-nil) and encrypts
// plaintext, appending the result to dst and returning the new slice
// along with the byte length written and, when the compressed form was
// kept, the original uncompressed length.
func appendSealedBlob(dst []byte, key *crypto.Key, compress func(dst, src []byte) ([]byte, error), plaintext []byte) (out []byte, length uint, uncompressedLength uint, err error) {
	start := len(dst)
	payload := plaintext
	uncompressedLength = 0

	if compress != nil {
		compressed, cerr := compress(nil, plaintext)
		if cerr != nil {
			return nil, 0, 0, errors.WithKind(errors.ErrCrypto, cerr)
		}
		// Only keep the compressed form if it actually shrinks the blob
		// (spec §4.3's compression policy); otherwise store the plaintext
		// verbatim and leave uncompressedLength at 0, signaling "not
		// compressed" to the reader.
		if len(compressed) < len(plaintext) {
			payload = compressed
			uncompressedLength = uint(len(plaintext))
		}
	}

	sealed, serr := key.Seal(dst, payload, nil)
	if serr != nil {
		return nil, 0, 0, errors.WithKind(errors.ErrCrypto, serr)
	}

	return sealed, uint(len(sealed) - start), uncompressedLength, nil
}

// AppendBlob is the primitive the Packer uses to add one compressed+
// encrypted blob to its in-progress buffer: it returns the updated
// buffer and the IndexBlob record to keep for this pack's eventual
// trailer.
func AppendBlob(buf *bytes.Buffer, key *crypto.Key, compress func(dst, src []byte) ([]byte, error), bt data.BlobType, id ids.ID, plaintext []byte) (data.IndexBlob, error) {
	offset := uint(buf.Len())

	sealed, length, uncompressedLength, err := appendSealedBlob(nil, key, compress, plaintext)
	if err != nil {
		return data.IndexBlob{}, err
	}
	if _, err := buf.Write(sealed); err != nil {
		return data.IndexBlob{}, errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}

	return data.IndexBlob{Blob: data.Blob{
		BlobHandle:         data.BlobHandle{Type: bt, ID: id},
		Offset:             offset,
		Length:             length,
		UncompressedLength: uncompressedLength,
	}}, nil
}

// ReadBlob extracts and decrypts (and decompresses, if
// uncompressed_length is set) one blob from a full pack file's bytes at
// the location recorded by b.
func ReadBlob(key *crypto.Key, packBytes []byte, b data.IndexBlob, decompress func(plaintext []byte, uncompressedLength int) ([]byte, error)) ([]byte, error) {
	if uint64(b.Offset)+uint64(b.Length) > uint64(len(packBytes)) {
		return nil, errors.WithKind(errors.ErrFormat, errors.New("blob range extends past pack file"))
	}
	ciphertext := packBytes[b.Offset : b.Offset+b.Length]
	plaintext, err := key.Open(nil, ciphertext, nil)
	if err != nil {
		return nil, errors.WithKind(errors.ErrCrypto, err)
	}
	if decompress != nil && b.UncompressedLength > 0 {
		plaintext, err = decompress(plaintext, int(b.UncompressedLength))
		if err != nil {
			return nil, errors.WithKind(errors.ErrCrypto, err)
		}
	}
	return plaintext, nil
}
