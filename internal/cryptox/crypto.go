package cryptox

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize  = 32
	NonceSize = 12
	TagSize   = 16
	KeySize   = 32

	// DefaultIterations is the PBKDF2 work factor for every envelope.
	DefaultIterations = 100_000
	// MinIterations is the floor accepted by WithIterations.
	MinIterations = 1_000

	MinPasswordLength = 8
)

var (
	ErrDecryption   = errors.New("decryption failed")
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	ErrNoIdentifier = errors.New("no user identifier available")
)

// MinEnvelopeLength is the length of the shortest possible envelope string:
// salt, nonce and tag around a single byte of ciphertext.
var MinEnvelopeLength = base64.StdEncoding.EncodedLen(SaltSize + NonceSize + TagSize + 1)

// IdentifierSource supplies the secret used to derive keys for data at rest.
type IdentifierSource interface {
	Identifier(ctx context.Context) (string, error)
}

// IdentifierFunc adapts a plain function to IdentifierSource.
type IdentifierFunc func(ctx context.Context) (string, error)

func (f IdentifierFunc) Identifier(ctx context.Context) (string, error) { return f(ctx) }

// StaticIdentifier always returns the same identifier.
type StaticIdentifier string

func (s StaticIdentifier) Identifier(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoIdentifier
	}
	return string(s), nil
}

// Cipher encrypts and decrypts envelopes keyed by the ambient identifier.
type Cipher struct {
	ids        IdentifierSource
	iterations int
	random     io.Reader
}

type Option func(*Cipher)

// WithIterations overrides the PBKDF2 work factor. Data encrypted under one
// value is only readable under the same value; values below MinIterations
// are raised to it.
func WithIterations(n int) Option {
	return func(c *Cipher) {
		if n < MinIterations {
			n = MinIterations
		}
		c.iterations = n
	}
}

// WithRandom replaces the salt/nonce source.
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) { c.random = r }
}

func NewCipher(ids IdentifierSource, opts ...Option) *Cipher {
	c := &Cipher{ids: ids, iterations: DefaultIterations, random: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cipher) identifier(ctx context.Context) ([]byte, error) {
	if c.ids == nil {
		return nil, ErrNoIdentifier
	}
	id, err := c.ids.Identifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve identifier: %w", err)
	}
	if id == "" {
		return nil, ErrNoIdentifier
	}
	return []byte(id), nil
}

// Encrypt seals plaintext under a key derived from the current identifier.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	secret, err := c.identifier(ctx)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(secret)
	return seal(secret, []byte(plaintext), c.iterations, c.random)
}

// Decrypt opens an envelope produced by Encrypt under the same identifier.
func (c *Cipher) Decrypt(ctx context.Context, envelope string) (string, error) {
	secret, err := c.identifier(ctx)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(secret)
	plaintext, err := open(secret, envelope, c.iterations)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptValue JSON-encodes v and encrypts the result.
func (c *Cipher) EncryptValue(ctx context.Context, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return c.Encrypt(ctx, string(b))
}

// DecryptValue decrypts envelope and JSON-decodes it into v.
func (c *Cipher) DecryptValue(ctx context.Context, envelope string, v any) error {
	plaintext, err := c.Decrypt(ctx, envelope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON", ErrDecryption)
	}
	return nil
}

// SelfTest round-trips a probe value to verify that an identifier is
// available and the primitives work.
func (c *Cipher) SelfTest(ctx context.Context) error {
	env, err := c.Encrypt(ctx, "test")
	if err != nil {
		return fmt.Errorf("crypto self-test: %w", err)
	}
	got, err := c.Decrypt(ctx, env)
	if err != nil {
		return fmt.Errorf("crypto self-test: %w", err)
	}
	if got != "test" {
		return errors.New("crypto self-test: round trip mismatch")
	}
	return nil
}

// EncryptWithPassword seals plaintext under a password-derived key. Backup
// envelopes always use DefaultIterations so they stay portable.
func EncryptWithPassword(plaintext, password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	secret := []byte(password)
	defer common.WipeByteArray(secret)
	return seal(secret, []byte(plaintext), DefaultIterations, rand.Reader)
}

// DecryptWithPassword opens an envelope produced by EncryptWithPassword.
func DecryptWithPassword(envelope, password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	secret := []byte(password)
	defer common.WipeByteArray(secret)
	plaintext, err := open(secret, envelope, DefaultIterations)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DeriveKey runs PBKDF2-HMAC-SHA256 and returns a KeySize key.
func DeriveKey(secret, salt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(secret, plaintext []byte, iterations int, random io.Reader) (string, error) {
	buf := make([]byte, SaltSize+NonceSize, SaltSize+NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt, nonce := buf[:SaltSize], buf[SaltSize:SaltSize+NonceSize]

	key := DeriveKey(secret, salt, iterations)
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("init aes-gcm: %w", err)
	}

	out := aead.Seal(buf, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func open(secret []byte, envelope string, iterations int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}
	if len(raw) < SaltSize+NonceSize+TagSize {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryption)
	}
	salt := raw[:SaltSize]
	nonce := raw[SaltSize : SaltSize+NonceSize]
	sealed := raw[SaltSize+NonceSize:]

	key := DeriveKey(secret, salt, iterations)
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("init aes-gcm: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return plaintext, nil
}
