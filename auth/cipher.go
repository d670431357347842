package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Digest names accepted by DeriveKey.
const (
	DigestSHA256  = "SHA-256"
	DigestSHA1    = "SHA-1"
	DigestSHA512  = "SHA-512"
	DigestMD5     = "MD5"
	DigestSHA3    = "SHA3-256"
	DigestBLAKE2b = "BLAKE2b-256"
)

const (
	cipherKeySize = 16
	gcmNonceSize  = 12
	gcmTagSize    = 16
)

var (
	ErrCipherUnavailable = errors.New("auth: cipher context not initialised")
	ErrUnknownDigest     = errors.New("auth: unknown key digest")
	ErrEmptySecret       = errors.New("auth: empty secret")
	ErrEnvelopeMalformed = errors.New("auth: malformed cookie envelope")
	ErrEnvelopeOpen      = errors.New("auth: cookie envelope failed authentication")
)

func newDigest(name string) (hash.Hash, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", DigestSHA256, "SHA256":
		return sha256.New(), nil
	case DigestSHA1, "SHA1":
		return sha1.New(), nil
	case DigestSHA512, "SHA512":
		return sha512.New(), nil
	case DigestMD5:
		return md5.New(), nil
	case strings.ToUpper(DigestSHA3), "SHA3":
		return sha3.New256(), nil
	case strings.ToUpper(DigestBLAKE2b), "BLAKE2B":
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDigest, name)
	}
}

// DeriveKey hashes secret with the named digest and keeps the first 16 bytes
// as an AES-128 key. An empty digest name selects SHA-256.
func DeriveKey(secret []byte, digest string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	h, err := newDigest(digest)
	if err != nil {
		return nil, err
	}
	h.Write(secret)
	sum := h.Sum(nil)
	return sum[:cipherKeySize], nil
}

// CipherContext seals token strings into cookie-safe envelopes. The envelope
// is base64(nonce || ciphertext || tag) using AES-128-GCM.
//
// A nil or zero CipherContext is usable: Encrypt and Decrypt return "" and
// Seal and Open return ErrCipherUnavailable.
type CipherContext struct {
	aead   cipher.AEAD
	random io.Reader
	logger *slog.Logger
}

// CipherOption configures a CipherContext.
type CipherOption func(*CipherContext)

// WithCipherLogger sets the logger used for fail-soft diagnostics.
func WithCipherLogger(l *slog.Logger) CipherOption {
	return func(c *CipherContext) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCipherRandom overrides the nonce source.
func WithCipherRandom(r io.Reader) CipherOption {
	return func(c *CipherContext) {
		if r != nil {
			c.random = r
		}
	}
}

// NewCipherContext derives the key from secret and prepares the AEAD.
func NewCipherContext(secret []byte, digest string, opts ...CipherOption) (*CipherContext, error) {
	key, err := DeriveKey(secret, digest)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("auth: aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("auth: gcm: %w", err)
	}
	c := &CipherContext{aead: aead, random: rand.Reader, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ready reports whether the context holds a key.
func (c *CipherContext) Ready() bool {
	return c != nil && c.aead != nil
}

// Seal encrypts plaintext with a fresh nonce.
func (c *CipherContext) Seal(plaintext string) (string, error) {
	if !c.Ready() {
		return "", ErrCipherUnavailable
	}
	buf := make([]byte, gcmNonceSize, gcmNonceSize+len(plaintext)+gcmTagSize)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", fmt.Errorf("auth: nonce: %w", err)
	}
	buf = c.aead.Seal(buf, buf[:gcmNonceSize], []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Open reverses Seal.
func (c *CipherContext) Open(envelope string) (string, error) {
	if !c.Ready() {
		return "", ErrCipherUnavailable
	}
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnvelopeMalformed, err)
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return "", fmt.Errorf("%w: %d bytes", ErrEnvelopeMalformed, len(raw))
	}
	plain, err := c.aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", ErrEnvelopeOpen
	}
	return string(plain), nil
}

// Encrypt is the fail-soft form of Seal. An empty input or any failure
// yields "".
func (c *CipherContext) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	out, err := c.Seal(plaintext)
	if err != nil {
		c.log().Debug("cookie envelope encrypt failed", slog.Any("err", err))
		return ""
	}
	return out
}

// Decrypt is the fail-soft form of Open. An empty input or any failure
// yields "".
func (c *CipherContext) Decrypt(envelope string) string {
	if envelope == "" {
		return ""
	}
	out, err := c.Open(envelope)
	if err != nil {
		c.log().Debug("cookie envelope decrypt failed", slog.Any("err", err))
		return ""
	}
	return out
}

func (c *CipherContext) log() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
