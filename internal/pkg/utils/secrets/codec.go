package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
)

// KeySize is the codec key length in bytes.
const KeySize = chacha20poly1305.KeySize

// blobVersion is prepended to every ciphertext and authenticated as AAD.
const blobVersion byte = 0x01

var ErrInvalidKey = errors.New("secret key must be 32 bytes, base64 encoded")

// Codec seals credential strings with one process-wide XChaCha20-Poly1305
// key. Ciphertexts are base64url(version | nonce | sealed).
type Codec struct {
	aead cipher.AEAD
}

// NewCodec parses a base64 (std or url, padded or raw) 32 byte key.
func NewCodec(encodedKey string) (*Codec, error) {
	key, err := decodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// GenerateKey returns a fresh base64url encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, blobVersion)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, []byte(plaintext), []byte{blobVersion})

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt fails with an apperr.KindDecryption error when ciphertext was not
// produced under the current key or has been tampered with.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperr.Decryption(fmt.Errorf("decode ciphertext: %w", err))
	}
	if len(raw) < 1+chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return "", apperr.Decryption(errors.New("ciphertext too short"))
	}
	if raw[0] != blobVersion {
		return "", apperr.Decryption(fmt.Errorf("unsupported ciphertext version %d", raw[0]))
	}

	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	sealed := raw[1+chacha20poly1305.NonceSizeX:]
	plain, err := c.aead.Open(nil, nonce, sealed, raw[:1])
	if err != nil {
		return "", apperr.Decryption(err)
	}
	return string(plain), nil
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidKey
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding, base64.RawStdEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, ErrInvalidKey
}
