package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	pkgoauth "mcpauth/pkg/oauth"
)

// lockTimeout is the maximum time to wait for the cache write lock.
const lockTimeout = 2 * time.Second

// TokenStore persists the token cache of a single resource.
//
// SECURITY: implementations handle live credentials. Token values are never
// logged; only the resource, issuer and expiry appear in audit events.
type TokenStore interface {
	// Load returns the cached entry for resourceURL. Missing, unreadable,
	// undecryptable or foreign entries are all reported as absent.
	Load(ctx context.Context, resourceURL string) (*pkgoauth.CachedTokenFile, bool)

	// Store replaces the cache with entry.
	Store(ctx context.Context, entry *pkgoauth.CachedTokenFile) error

	// Clear removes the cache. Clearing an empty cache is not an error.
	Clear(ctx context.Context) error
}

// DefaultTokenFilePath returns ~/.config/mcpauth/tokens.json.
func DefaultTokenFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, pkgoauth.DefaultTokenStorageDir, pkgoauth.DefaultTokenFileName), nil
}

// FileTokenStore keeps the cache in one JSON file.
//
// SECURITY:
//   - the file is created with 0600 permissions, its directory with 0700
//   - writes go to a temporary file that is renamed over the cache, so
//     readers never observe a partial file
//   - writers across processes are serialised with a lock file
//   - with a Cipher configured the file content is encrypted at rest
type FileTokenStore struct {
	path   string
	cipher Cipher
	logger *slog.Logger
}

// FileTokenStoreOption configures a FileTokenStore.
type FileTokenStoreOption func(*FileTokenStore)

// WithCipher encrypts the cache file content.
func WithCipher(cipher Cipher) FileTokenStoreOption {
	return func(s *FileTokenStore) {
		s.cipher = cipher
	}
}

// WithStoreLogger sets the logger used for audit events.
func WithStoreLogger(logger *slog.Logger) FileTokenStoreOption {
	return func(s *FileTokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileTokenStore creates a store at path, or at DefaultTokenFilePath when
// path is empty.
func NewFileTokenStore(path string, opts ...FileTokenStoreOption) (*FileTokenStore, error) {
	if path == "" {
		defaultPath, err := DefaultTokenFilePath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	s := &FileTokenStore{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the cache file location.
func (s *FileTokenStore) Path() string {
	return s.path
}

// Load reads the cache without locking; renames are atomic.
func (s *FileTokenStore) Load(ctx context.Context, resourceURL string) (*pkgoauth.CachedTokenFile, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("Token cache unreadable, treating as empty", "path", s.path, "error", err)
		}
		return nil, false
	}

	if s.cipher != nil {
		data, err = s.cipher.Open(ctx, data)
		if err != nil {
			s.logger.Debug("Token cache could not be decrypted, treating as empty", "path", s.path, "error", err)
			return nil, false
		}
	}

	var entry pkgoauth.CachedTokenFile
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Debug("Token cache is corrupt, treating as empty", "path", s.path, "error", err)
		return nil, false
	}
	if entry.Version != pkgoauth.CachedTokenFileVersion {
		s.logger.Debug("Token cache has unsupported version", "path", s.path, "version", entry.Version)
		return nil, false
	}
	if !entry.BoundTo(resourceURL) {
		s.logger.Debug("Token cache belongs to another resource",
			"path", s.path,
			"cached_resource", entry.Resource,
			"resource", resourceURL)
		return nil, false
	}

	return &entry, true
}

// Store writes entry atomically under the write lock.
func (s *FileTokenStore) Store(ctx context.Context, entry *pkgoauth.CachedTokenFile) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token cache: %w", err)
	}
	if s.cipher != nil {
		data, err = s.cipher.Seal(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to encrypt token cache: %w", err)
		}
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		// SECURITY AUDIT: Token storage failed
		s.logger.Warn("SECURITY_AUDIT: OAuth token storage failed",
			"event", "token_store_failed",
			"resource", entry.Resource,
			"issuer", entry.Issuer,
			"error", err.Error())
		return fmt.Errorf("failed to persist token: %w", err)
	}

	// SECURITY AUDIT: Token successfully stored
	s.logger.Info("SECURITY_AUDIT: OAuth token stored",
		"event", "token_stored",
		"resource", entry.Resource,
		"issuer", entry.Issuer,
		"expiry", entry.Token.ExpiresAt.Format(time.RFC3339),
		"has_refresh_token", entry.Token.HasRefreshToken(),
		"encrypted", s.cipher != nil)
	return nil
}

// Clear deletes the cache file.
func (s *FileTokenStore) Clear(ctx context.Context) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("SECURITY_AUDIT: OAuth token deletion failed",
			"event", "token_clear_failed",
			"path", s.path,
			"error", err.Error())
		return fmt.Errorf("failed to remove token cache: %w", err)
	}

	// SECURITY AUDIT: Token deleted
	s.logger.Info("SECURITY_AUDIT: OAuth token cleared",
		"event", "token_cleared",
		"path", s.path)
	return nil
}

// lock takes the cross-process writer lock next to the cache file.
func (s *FileTokenStore) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	fileLock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire token cache lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire token cache lock: timeout after %v", lockTimeout)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

// writeFileAtomic writes data to a 0600 temporary file in the target
// directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	committed = true
	return nil
}

// MemoryTokenStore keeps the cache in process memory only.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	entry *pkgoauth.CachedTokenFile
}

// NewMemoryTokenStore creates an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Load returns a copy of the entry when it is bound to resourceURL.
func (s *MemoryTokenStore) Load(_ context.Context, resourceURL string) (*pkgoauth.CachedTokenFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.entry.BoundTo(resourceURL) {
		return nil, false
	}
	entry := *s.entry
	return &entry, true
}

// Store replaces the entry with a copy of entry.
func (s *MemoryTokenStore) Store(_ context.Context, entry *pkgoauth.CachedTokenFile) error {
	if entry == nil {
		return errors.New("cannot store nil token cache entry")
	}
	copied := *entry

	s.mu.Lock()
	s.entry = &copied
	s.mu.Unlock()
	return nil
}

// Clear drops the entry.
func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()
	return nil
}

var (
	_ TokenStore = (*FileTokenStore)(nil)
	_ TokenStore = (*MemoryTokenStore)(nil)
)
