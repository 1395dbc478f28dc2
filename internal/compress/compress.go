// Package compress wraps zstd compression for blobs, applied before
// encryption as described in spec §4.3. A config version 1 repository
// disables compression entirely; version 2 defaults to the zstd library
// default level unless the repository config overrides it.
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/snapbox/snapbox/internal/errors"
)

// Level selects a zstd encoder level. Level 0 means "library default"
// (zstd.SpeedDefault), mirroring restic's zstd accessor.
type Level int

const (
	// LevelDefault lets the zstd library pick its default speed/ratio
	// tradeoff.
	LevelDefault Level = 0
)

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch {
	case l <= 0:
		return zstd.SpeedDefault
	case l <= 3:
		return zstd.SpeedFastest
	case l <= 7:
		return zstd.SpeedDefault
	case l <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compressor compresses and decompresses blob plaintexts. A single
// Compressor is safe for concurrent use; it pools its own encoder/decoder
// pairs internally because zstd encoders/decoders are not safe for
// concurrent Encode/Decode calls.
type Compressor struct {
	level Level

	encoders sync.Pool
	decoders sync.Pool
}

// New returns a Compressor using the given level (see Level).
func New(level Level) *Compressor {
	return &Compressor{level: level}
}

func (c *Compressor) getEncoder() (*zstd.Encoder, error) {
	if v := c.encoders.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil,
		zstd.WithEncoderLevel(c.level.encoderLevel()),
		// Disable the zstd frame CRC: the repository already authenticates
		// every blob with Poly1305 after compression, so a second checksum
		// is redundant and only costs four bytes per blob.
		zstd.WithEncoderCRC(false),
		zstd.WithWindowSize(512*1024),
	)
}

func (c *Compressor) putEncoder(enc *zstd.Encoder) { c.encoders.Put(enc) }

func (c *Compressor) getDecoder() (*zstd.Decoder, error) {
	if v := c.decoders.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

func (c *Compressor) putDecoder(dec *zstd.Decoder) { c.decoders.Put(dec) }

// Compress appends the zstd-compressed form of src to dst and returns the
// extended slice.
func (c *Compressor) Compress(dst, src []byte) ([]byte, error) {
	enc, err := c.getEncoder()
	if err != nil {
		return nil, errors.WithKind(errors.ErrFormat, errors.Wrap(err, "compress"))
	}
	defer c.putEncoder(enc)

	return enc.EncodeAll(src, dst), nil
}

// Decompress appends the decompressed form of src to dst, given the
// uncompressed length hint for pre-allocation (0 if unknown).
func (c *Compressor) Decompress(dst, src []byte, uncompressedLength int) ([]byte, error) {
	dec, err := c.getDecoder()
	if err != nil {
		return nil, errors.WithKind(errors.ErrFormat, errors.Wrap(err, "decompress"))
	}
	defer c.putDecoder(dec)

	if uncompressedLength > 0 && cap(dst)-len(dst) < uncompressedLength {
		grown := make([]byte, len(dst), len(dst)+uncompressedLength)
		copy(grown, dst)
		dst = grown
	}

	out, err := dec.DecodeAll(src, dst)
	if err != nil {
		return nil, errors.WithKind(errors.ErrFormat, errors.Wrap(err, "decompress"))
	}
	return out, nil
}
