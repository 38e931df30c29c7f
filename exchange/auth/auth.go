// Package auth issues and verifies trader API keys. Raw keys are returned
// exactly once on account creation; only SHA-256 hashes are stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"sync"

	"github.com/openalpha/stockex/exchange/store"
	"github.com/openalpha/stockex/exchange/types"
)

// GenerateAPIKey returns a new opaque trader key ("sk_" + 43 url-safe chars).
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashAPIKey returns the hex SHA-256 digest stored at rest.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticator resolves API keys to account ids through a warm cache over
// the store's key-hash index, and checks the admin token.
type Authenticator struct {
	store      *store.Store
	adminToken string

	mu    sync.RWMutex
	cache map[string]string // key hash -> account id
}

// NewAuthenticator creates an authenticator with an empty cache.
func NewAuthenticator(st *store.Store, adminToken string) *Authenticator {
	return &Authenticator{
		store:      st,
		adminToken: adminToken,
		cache:      make(map[string]string),
	}
}

// Authenticate returns the account id owning the key, or ErrUnauthorized.
func (a *Authenticator) Authenticate(apiKey string) (string, error) {
	if apiKey == "" {
		return "", types.ErrUnauthorized.Wrap("missing API key")
	}
	hash := HashAPIKey(apiKey)

	a.mu.RLock()
	id, ok := a.cache[hash]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := a.store.AccountIDByKeyHash(hash)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", types.ErrUnauthorized.Wrap("invalid API key")
	}

	a.mu.Lock()
	a.cache[hash] = id
	a.mu.Unlock()
	return id, nil
}

// Warm preloads a hash -> account mapping (used right after account creation
// so the first trade does not miss the cache).
func (a *Authenticator) Warm(hash, accountID string) {
	a.mu.Lock()
	a.cache[hash] = accountID
	a.mu.Unlock()
}

// CheckAdmin verifies the admin token in constant time.
func (a *Authenticator) CheckAdmin(token string) error {
	if a.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
		return types.ErrUnauthorized.Wrap("invalid admin token")
	}
	return nil
}
