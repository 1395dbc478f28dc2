// Package chunker adapts github.com/restic/chunker's content-defined
// chunking to the repository's polynomial configuration (spec §4.4). It is a thin wrapper: the rolling-hash implementation
// itself is the real upstream library, used directly rather than
// reimplemented.
package chunker

import (
	"encoding/hex"
	"io"
	"strconv"

	restchunker "github.com/restic/chunker"

	"github.com/snapbox/snapbox/internal/errors"
)

// Chunk is one content-defined chunk: its byte offset and length within
// the source stream, and its content.
type Chunk struct {
	Start  uint
	Length uint
	Data   []byte
}

// Chunker streams a file into boundary-aligned chunks using the
// repository's configured polynomial (spec §4.4).
type Chunker struct {
	inner *restchunker.Chunker
}

// ParsePolynomial decodes a ConfigFile chunker_polynomial hex string into
// the irreducible polynomial the upstream chunker expects.
func ParsePolynomial(hexPoly string) (restchunker.Pol, error) {
	if _, err := hex.DecodeString(hexPoly); err != nil {
		return 0, errors.WithKind(errors.ErrInput, errors.Wrap(err, "invalid chunker polynomial"))
	}
	n, err := strconv.ParseUint(hexPoly, 16, 64)
	if err != nil {
		return 0, errors.WithKind(errors.ErrInput, errors.Wrap(err, "invalid chunker polynomial"))
	}
	return restchunker.Pol(n), nil
}

// NewRandomPolynomial picks a fresh irreducible polynomial for a new
// repository's ConfigFile, as restic does at `init` time.
func NewRandomPolynomial() (restchunker.Pol, error) {
	pol, err := restchunker.RandomPolynomial()
	if err != nil {
		return 0, errors.WithKind(errors.ErrCrypto, errors.WithStack(err))
	}
	return pol, nil
}

// PolynomialHex renders a polynomial back into the hex form stored in
// ConfigFile.chunker_polynomial.
func PolynomialHex(p restchunker.Pol) string {
	return strconv.FormatUint(uint64(p), 16)
}

// MaxSize is the largest chunk the underlying library will ever produce;
// callers size reusable buffers to it.
const MaxSize = restchunker.MaxSize

// New returns a Chunker reading rd, splitting at boundaries chosen by the
// rolling hash under polynomial pol.
func New(rd io.Reader, pol restchunker.Pol) *Chunker {
	return &Chunker{inner: restchunker.New(rd, pol)}
}

// Reset rebinds c to a new reader and polynomial, so a worker can reuse
// one Chunker (and its internal buffers) across many files instead of
// allocating a fresh one per file.
func (c *Chunker) Reset(rd io.Reader, pol restchunker.Pol) {
	c.inner.Reset(rd, pol)
}

// Next returns the next chunk, or io.EOF once rd is exhausted. A file
// shorter than restchunker.MinSize yields exactly one chunk (spec §4.4).
func (c *Chunker) Next(buf []byte) (Chunk, error) {
	chunk, err := c.inner.Next(buf)
	if err != nil {
		if err == io.EOF {
			return Chunk{}, io.EOF
		}
		return Chunk{}, errors.WithKind(errors.ErrIO, errors.WithStack(err))
	}
	return Chunk{Start: chunk.Start, Length: chunk.Length, Data: chunk.Data}, nil
}
