package chunker

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func testData(size int) []byte {
	buf := make([]byte, size)
	rnd := rand.New(rand.NewSource(42))
	rnd.Read(buf)
	return buf
}

func TestChunkerDeterministic(t *testing.T) {
	pol, err := ParsePolynomial("3DA3358B4DC173")
	if err != nil {
		t.Fatal(err)
	}
	data := testData(4 << 20)

	chunk := func() [][]byte {
		c := New(bytes.NewReader(data), pol)
		buf := make([]byte, MaxSize)
		var chunks [][]byte
		for {
			ch, err := c.Next(buf)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			chunks = append(chunks, append([]byte(nil), ch.Data...))
		}
		return chunks
	}

	first := chunk()
	second := chunk()

	if len(first) != len(second) {
		t.Fatalf("chunk count differs across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !bytes.Equal(first[i], second[i]) {
			t.Fatalf("chunk %d differs across runs", i)
		}
	}

	var reassembled []byte
	for _, c := range first {
		reassembled = append(reassembled, c...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled chunks do not reproduce the original data")
	}
}

func TestChunkerSmallInput(t *testing.T) {
	pol, err := ParsePolynomial("3DA3358B4DC173")
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("tiny file, smaller than any minimum chunk size")

	c := New(bytes.NewReader(data), pol)
	buf := make([]byte, MaxSize)

	chunk, err := c.Next(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(chunk.Data, data) {
		t.Fatal("small input should be returned as a single chunk")
	}

	if _, err := c.Next(buf); err != io.EOF {
		t.Fatalf("expected io.EOF after the only chunk, got %v", err)
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	pol, err := ParsePolynomial("3DA3358B4DC173")
	if err != nil {
		t.Fatal(err)
	}
	c := New(bytes.NewReader(nil), pol)
	buf := make([]byte, MaxSize)

	if _, err := c.Next(buf); err != io.EOF {
		t.Fatalf("expected io.EOF for empty input, got %v", err)
	}
}

func TestParsePolynomialRoundtrip(t *testing.T) {
	pol, err := NewRandomPolynomial()
	if err != nil {
		t.Fatal(err)
	}
	hexPol := PolynomialHex(pol)
	parsed, err := ParsePolynomial(hexPol)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != pol {
		t.Fatalf("polynomial round trip mismatch: %v != %v", parsed, pol)
	}
}

func TestParsePolynomialInvalid(t *testing.T) {
	if _, err := ParsePolynomial("not-hex"); err == nil {
		t.Fatal("expected error for non-hex polynomial")
	}
}
