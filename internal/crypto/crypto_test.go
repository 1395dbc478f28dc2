package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundtrip(t *testing.T) {
	key, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("tree blob plaintext goes here")
	ciphertext, err := key.Seal(nil, plaintext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ciphertext) != len(plaintext)+Extension {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+Extension)
	}

	opened, err := key.Open(nil, ciphertext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	key, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := key.Seal(nil, []byte("authentic data"), nil)
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := key.Open(nil, tampered, nil); err != ErrUnauthenticated {
		t.Fatalf("Open(tampered) err = %v, want ErrUnauthenticated", err)
	}
}

func TestOpenRejectsDifferentKey(t *testing.T) {
	key1, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	key2, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := key1.Seal(nil, []byte("secret"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := key2.Open(nil, ciphertext, nil); err != ErrUnauthenticated {
		t.Fatalf("Open with wrong key err = %v, want ErrUnauthenticated", err)
	}
}

func TestSealDistinctNonces(t *testing.T) {
	key, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("identical plaintext")

	a, err := key.Seal(nil, plaintext, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := key.Seal(nil, plaintext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two Seal calls on identical plaintext produced identical ciphertext (nonce reuse)")
	}
}

func TestOpenTooShort(t *testing.T) {
	key, err := NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := key.Open(nil, []byte("short"), nil); err == nil {
		t.Fatal("expected error opening too-short ciphertext")
	}
}
