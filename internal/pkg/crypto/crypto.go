package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	"reflex-engine/internal/pkg/config"
	pkgErrors "reflex-engine/pkg/errors"
)

// Stored ciphertext frame: FramePrefix, a 3-character key id, then base64 of
// nonce||ciphertext. The PlainKeyID means the body is not encrypted.
const (
	FramePrefix = "__$"
	KeyIDLen    = 3
	PlainKeyID  = "___"
)

// Cipher seals and opens values under one symmetric key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds an AES-GCM cipher from base64 key material.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce and returns
// base64(nonce||ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64(nonce||ciphertext).
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, body := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Keyring holds every configured cipher by 3-character key id. New writes use
// the default key; reads select the key named in the stored frame.
type Keyring struct {
	ciphers    map[string]*Cipher
	defaultKey string
}

// NewKeyring validates and loads configured keys. With no keys configured the
// keyring passes values through under the plaintext key id. When keys exist,
// exactly one must be marked default.
func NewKeyring(cfg map[string]config.CryptoKey) (*Keyring, error) {
	kr := &Keyring{ciphers: make(map[string]*Cipher)}
	if len(cfg) == 0 {
		return kr, nil
	}

	defaults := 0
	for name, entry := range cfg {
		if len(name) != KeyIDLen {
			return nil, fmt.Errorf("crypto key names must be %d characters long: %q", KeyIDLen, name)
		}
		c, err := NewCipher(entry.Key)
		if err != nil {
			return nil, fmt.Errorf("crypto key %s: %w", name, err)
		}
		kr.ciphers[name] = c
		if entry.Default {
			defaults++
			kr.defaultKey = name
		}
	}
	if defaults > 1 {
		return nil, fmt.Errorf("only one default crypto key may be defined")
	}
	if defaults == 0 {
		return nil, fmt.Errorf("no default crypto key defined")
	}
	return kr, nil
}

// DefaultKey returns the id used for new writes, or empty with no keys.
func (k *Keyring) DefaultKey() string {
	return k.defaultKey
}

// EncryptField frames and encrypts a stored value with the default key.
func (k *Keyring) EncryptField(plaintext string) (string, error) {
	if k.defaultKey == "" {
		return FramePrefix + PlainKeyID + plaintext, nil
	}
	body, err := k.ciphers[k.defaultKey].Encrypt(plaintext)
	if err != nil {
		return "", pkgErrors.CipherError("encrypt failed", err)
	}
	return FramePrefix + k.defaultKey + body, nil
}

// DecryptField opens a framed value, selecting the key by frame id.
func (k *Keyring) DecryptField(framed string) (string, error) {
	if len(framed) < len(FramePrefix)+KeyIDLen || framed[:len(FramePrefix)] != FramePrefix {
		return "", pkgErrors.CipherError("value is not an encrypted frame", nil)
	}
	keyID := framed[len(FramePrefix) : len(FramePrefix)+KeyIDLen]
	body := framed[len(FramePrefix)+KeyIDLen:]

	if keyID == PlainKeyID {
		return body, nil
	}
	c, ok := k.ciphers[keyID]
	if !ok {
		return "", pkgErrors.CipherError(fmt.Sprintf("crypto key %s missing", keyID), nil)
	}
	plaintext, err := c.Decrypt(body)
	if err != nil {
		return "", pkgErrors.CipherError("decrypt failed", err)
	}
	return plaintext, nil
}

// IsFramed reports whether a stored value carries the ciphertext frame.
func IsFramed(value string) bool {
	return len(value) >= len(FramePrefix)+KeyIDLen && value[:len(FramePrefix)] == FramePrefix
}

// GenerateKey returns fresh base64 AES-256 key material.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// RandomSecret returns n random bytes, base64-encoded.
func RandomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// RandomBytes returns n random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// HashPassword hashes a plaintext password for password-type group members.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword verifies a plaintext password against a stored hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsHashedPassword recognizes an already-hashed group member entry.
func IsHashedPassword(value string) bool {
	return len(value) > 4 && value[0] == '$'
}
