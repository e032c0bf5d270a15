package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion  byte = 1
	sealInfo          = "wwwallet/private-data/v1"
	minKeyLength      = 32
)

// ErrUnsealFailed is returned when a blob cannot be decrypted with this key.
var ErrUnsealFailed = errors.New("unseal private data")

// Sealer encrypts serialized containers with XChaCha20-Poly1305. The AEAD key
// is derived from the holder's main key with HKDF-SHA256, bound to the
// wallet id so blobs cannot be swapped between wallets.
//
// Sealed layout: version(1) || nonce(24) || ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the container key for walletID from mainKey.
func NewSealer(mainKey []byte, walletID string) (*Sealer, error) {
	if len(mainKey) < minKeyLength {
		return nil, fmt.Errorf("main key must be at least %d bytes", minKeyLength)
	}
	if walletID == "" {
		return nil, fmt.Errorf("wallet id is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, mainKey, nil, []byte(sealInfo+":"+walletID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive container key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// sealHeader is authenticated as additional data. It is its own slice so it
// never aliases the output buffer.
func sealHeader() []byte {
	return []byte{sealVersion}
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, sealHeader()), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	headerLen := 1 + s.aead.NonceSize()
	if len(blob) < headerLen+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", ErrUnsealFailed)
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrUnsealFailed, blob[0])
	}
	plaintext, err := s.aead.Open(nil, blob[1:headerLen], blob[headerLen:], sealHeader())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return plaintext, nil
}
