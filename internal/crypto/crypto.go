// Package crypto implements the authenticated encryption used to seal every
// blob, pack trailer, index file, snapshot file and config file before it
// reaches the Backend: AES-256-CTR for confidentiality with a
// Poly1305-AES128 message authentication code, following the scheme used by
// restic's internal/crypto package.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"

	"golang.org/x/crypto/poly1305"

	"github.com/snapbox/snapbox/internal/errors"
)

const (
	aesKeySize  = 32
	macKeySizeK = 16
	macKeySizeR = 16
	macKeySize  = macKeySizeK + macKeySizeR

	// NonceSize is the size of the random value prepended to every
	// ciphertext; it also serves as the Poly1305-AES nonce.
	NonceSize = aes.BlockSize

	macSize = poly1305.TagSize

	// Extension is the number of bytes a plaintext grows by when sealed:
	// one nonce plus one MAC.
	Extension = NonceSize + macSize
)

// ErrUnauthenticated is returned by Open when the MAC does not verify.
var ErrUnauthenticated = errors.WithKind(errors.ErrCrypto, errors.New("ciphertext verification failed"))

// Key holds the encryption and authentication keys for a repository. This
// package does not encrypt the Key itself and has no password-based key
// derivation; cmd/snapbox stores it as plain JSON in a key file.
type Key struct {
	MACKey        `json:"mac"`
	EncryptionKey `json:"encrypt"`
}

// EncryptionKey is the AES-256 key used for confidentiality.
type EncryptionKey [32]byte

// MACKey is the Poly1305-AES128 key used for authentication.
type MACKey struct {
	K [16]byte
	R [16]byte

	masked bool
}

var poly1305KeyMask = [16]byte{
	0xff, 0xff, 0xff, 0x0f,
	0xfc, 0xff, 0xff, 0x0f,
	0xfc, 0xff, 0xff, 0x0f,
	0xfc, 0xff, 0xff, 0x0f,
}

func maskKey(k *MACKey) {
	if k == nil || k.masked {
		return
	}
	for i := 0; i < poly1305.TagSize; i++ {
		k.R[i] &= poly1305KeyMask[i]
	}
	k.masked = true
}

// poly1305PrepareKey derives the r||n key poly1305.Sum expects from the
// repository MAC key and a per-message nonce, as in the original
// Poly1305-AES construction.
func poly1305PrepareKey(nonce []byte, key *MACKey) [32]byte {
	var k [32]byte

	maskKey(key)

	c, err := aes.NewCipher(key.K[:])
	if err != nil {
		panic(err)
	}
	c.Encrypt(k[16:], nonce)
	copy(k[:16], key.R[:])

	return k
}

func poly1305MAC(msg, nonce []byte, key *MACKey) []byte {
	k := poly1305PrepareKey(nonce, key)
	var out [16]byte
	poly1305.Sum(&out, msg, &k)
	return out[:]
}

func poly1305Verify(msg, nonce []byte, key *MACKey, mac []byte) bool {
	k := poly1305PrepareKey(nonce, key)
	var m [16]byte
	copy(m[:], mac)
	return poly1305.Verify(&m, msg, &k)
}

// NewRandomKey generates a fresh, random encryption+MAC key pair.
func NewRandomKey() (*Key, error) {
	k := &Key{}

	if _, err := rand.Read(k.EncryptionKey[:]); err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := rand.Read(k.MACKey.K[:]); err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := rand.Read(k.MACKey.R[:]); err != nil {
		return nil, errors.WithStack(err)
	}

	maskKey(&k.MACKey)
	return k, nil
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.WithStack(err)
	}
	return nonce, nil
}

type jsonMACKey struct {
	K []byte `json:"k"`
	R []byte `json:"r"`
}

func (m *MACKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMACKey{K: m.K[:], R: m.R[:]})
}

func (m *MACKey) UnmarshalJSON(data []byte) error {
	var j jsonMACKey
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "unmarshal MACKey")
	}
	copy(m.K[:], j.K)
	copy(m.R[:], j.R)

	// Mask now, not lazily on first Seal/Open: those run concurrently
	// from multiple FileArchiver workers sharing this *Key, and
	// maskKey's read-check-mutate of k.masked is not safe for that.
	maskKey(m)
	return nil
}

// Valid reports whether the MAC key is non-zero.
func (m *MACKey) Valid() bool {
	var nonzeroK, nonzeroR bool
	for _, b := range m.K {
		if b != 0 {
			nonzeroK = true
		}
	}
	for _, b := range m.R {
		if b != 0 {
			nonzeroR = true
		}
	}
	return nonzeroK && nonzeroR
}

func (k *EncryptionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k[:])
}

func (k *EncryptionKey) UnmarshalJSON(data []byte) error {
	d := make([]byte, aesKeySize)
	if err := json.Unmarshal(data, &d); err != nil {
		return errors.Wrap(err, "unmarshal EncryptionKey")
	}
	copy(k[:], d)
	return nil
}

// Valid reports whether the encryption key is non-zero.
func (k *EncryptionKey) Valid() bool {
	for _, b := range k {
		if b != 0 {
			return true
		}
	}
	return false
}

// Valid reports whether both the encryption and MAC keys are set.
func (k *Key) Valid() bool {
	return k.EncryptionKey.Valid() && k.MACKey.Valid()
}

// Seal encrypts and authenticates plaintext, appending the result (nonce ||
// ciphertext || mac) to dst and returning the extended slice. It matches
// the shape of the standard library's cipher.AEAD.Seal so callers can treat
// a Key like any other AEAD, even though additionalData is not
// cryptographically bound in this AES-CTR+Poly1305 construction.
func (k *Key) Seal(dst, plaintext, additionalData []byte) ([]byte, error) {
	if !k.Valid() {
		return nil, errors.WithKind(errors.ErrCrypto, errors.New("invalid key"))
	}
	_ = additionalData // reserved; this construction authenticates ciphertext only

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	start := len(dst)
	dst = append(dst, nonce...)
	dst = append(dst, make([]byte, len(plaintext))...)

	c, err := aes.NewCipher(k.EncryptionKey[:])
	if err != nil {
		return nil, errors.WithKind(errors.ErrCrypto, err)
	}
	stream := cipher.NewCTR(c, nonce)
	stream.XORKeyStream(dst[start+NonceSize:], plaintext)

	mac := poly1305MAC(dst[start+NonceSize:], nonce, &k.MACKey)
	dst = append(dst, mac...)

	return dst, nil
}

// Open verifies and decrypts ciphertext (nonce || ciphertext || mac),
// appending the plaintext to dst. It returns ErrUnauthenticated if the MAC
// does not match.
func (k *Key) Open(dst, ciphertext, additionalData []byte) ([]byte, error) {
	if !k.Valid() {
		return nil, errors.WithKind(errors.ErrCrypto, errors.New("invalid key"))
	}
	_ = additionalData

	if len(ciphertext) < Extension {
		return nil, errors.WithKind(errors.ErrFormat, errors.New("ciphertext too short"))
	}

	nonce := ciphertext[:NonceSize]
	macStart := len(ciphertext) - macSize
	body, mac := ciphertext[NonceSize:macStart], ciphertext[macStart:]

	if !poly1305Verify(body, nonce, &k.MACKey, mac) {
		return nil, ErrUnauthenticated
	}

	c, err := aes.NewCipher(k.EncryptionKey[:])
	if err != nil {
		return nil, errors.WithKind(errors.ErrCrypto, err)
	}

	start := len(dst)
	dst = append(dst, make([]byte, len(body))...)
	stream := cipher.NewCTR(c, nonce)
	stream.XORKeyStream(dst[start:], body)

	return dst, nil
}
