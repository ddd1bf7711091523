package oauth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zalando/go-keyring"
)

// Cipher encrypts and decrypts the token cache at rest.
type Cipher interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, ciphertext []byte) ([]byte, error)
}

const (
	// DefaultKeyringService is the OS keyring service holding the cache key.
	DefaultKeyringService = "mcpauth"

	// DefaultKeyringUser is the keyring entry name of the cache key.
	DefaultKeyringUser = "token-cache-key"

	keySize = 32
)

// ErrKeyringNotAvailable is returned when no OS keyring backend can be used.
var ErrKeyringNotAvailable = errors.New("OS keyring is not available; token cache encryption requires a keyring service")

// KeyringCipher seals data with AES-256-GCM. The key is generated on first
// use and kept in the OS keyring, never on disk next to the cache.
type KeyringCipher struct {
	service string
	user    string

	mu  sync.Mutex
	key []byte
}

// NewKeyringCipher creates a cipher whose key lives under service/user in the
// OS keyring. Empty values select the defaults.
func NewKeyringCipher(service, user string) *KeyringCipher {
	if service == "" {
		service = DefaultKeyringService
	}
	if user == "" {
		user = DefaultKeyringUser
	}
	return &KeyringCipher{service: service, user: user}
}

// Seal encrypts plaintext; the random nonce is prepended to the output.
func (c *KeyringCipher) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	aead, err := c.aead(true)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (c *KeyringCipher) Open(_ context.Context, ciphertext []byte) ([]byte, error) {
	aead, err := c.aead(false)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token cache: %w", err)
	}
	return plaintext, nil
}

// Forget removes the key from the keyring. Existing ciphertext becomes unreadable.
func (c *KeyringCipher) Forget() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.key = nil
	if err := keyring.Delete(c.service, c.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete key from keyring: %w", err)
	}
	return nil
}

func (c *KeyringCipher) aead(create bool) (cipher.AEAD, error) {
	key, err := c.loadKey(create)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (c *KeyringCipher) loadKey(create bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return c.key, nil
	}

	encoded, err := keyring.Get(c.service, c.user)
	if err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil || len(key) != keySize {
			return nil, errors.New("token cache key in keyring is malformed")
		}
		c.key = key
		return key, nil
	}

	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeyringNotAvailable, err)
	}
	if !create {
		return nil, errors.New("no token cache key in keyring")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := keyring.Set(c.service, c.user, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store key in keyring: %w", err)
	}
	c.key = key
	return key, nil
}

var _ Cipher = (*KeyringCipher)(nil)
