package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	defaultKeySetTTL = time.Hour
	defaultTokenTTL  = 5 * time.Minute

	// purgeEvery is how many Puts pass between sweeps of expired tokens.
	purgeEvery = 256
)

// KeySetCache holds the provider's public key set with an expiry. It is an
// explicit object owned by the verifier; nothing in this package keeps a
// package-level cache.
type KeySetCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	set       jwk.Set
	expiresAt time.Time
}

// NewKeySetCache returns an empty cache whose entries live for ttl.
// A non-positive ttl means one hour.
func NewKeySetCache(ttl time.Duration) *KeySetCache {
	if ttl <= 0 {
		ttl = defaultKeySetTTL
	}
	return &KeySetCache{ttl: ttl, now: time.Now}
}

// Get returns the cached set while it has not expired.
func (c *KeySetCache) Get() (jwk.Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil || !c.now().Before(c.expiresAt) {
		c.set = nil
		return nil, false
	}
	return c.set, true
}

// Put stores set until now + ttl.
func (c *KeySetCache) Put(set jwk.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = set
	c.expiresAt = c.now().Add(c.ttl)
}

// Invalidate drops the cached set so the next Get misses.
func (c *KeySetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = nil
	c.expiresAt = time.Time{}
}

type cachedUser struct {
	user      User
	expiresAt time.Time
}

// TokenCache remembers verified ID tokens so repeated requests with the same
// bearer token skip signature verification. Keys are SHA-256 digests; raw
// tokens are never stored.
type TokenCache struct {
	ttl   time.Duration
	now   func() time.Time
	cache sync.Map
	puts  atomic.Uint64
}

// NewTokenCache returns an empty cache. An entry lives for ttl or until the
// token's own expiry, whichever comes first. A non-positive ttl means five
// minutes.
func NewTokenCache(ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{ttl: ttl, now: time.Now}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the user verified for token, if still cached.
func (c *TokenCache) Get(token string) (User, bool) {
	key := tokenKey(token)
	val, ok := c.cache.Load(key)
	if !ok {
		return User{}, false
	}

	cached := val.(*cachedUser)
	if !c.now().Before(cached.expiresAt) {
		c.cache.Delete(key)
		return User{}, false
	}
	return cached.user, true
}

// Put caches user for token until min(tokenExpiry, now + ttl). A zero
// tokenExpiry means only the ttl applies. Every purgeEvery calls, expired
// entries are swept so superseded tokens do not accumulate.
func (c *TokenCache) Put(token string, user User, tokenExpiry time.Time) {
	expiresAt := c.now().Add(c.ttl)
	if !tokenExpiry.IsZero() && tokenExpiry.Before(expiresAt) {
		expiresAt = tokenExpiry
	}
	c.cache.Store(tokenKey(token), &cachedUser{user: user, expiresAt: expiresAt})
	if c.puts.Add(1)%purgeEvery == 0 {
		c.Purge()
	}
}

// Len counts cached entries, expired or not.
func (c *TokenCache) Len() int {
	n := 0
	c.cache.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Purge deletes every expired entry and returns how many were removed.
func (c *TokenCache) Purge() int {
	now := c.now()
	removed := 0
	c.cache.Range(func(key, val any) bool {
		if !now.Before(val.(*cachedUser).expiresAt) {
			c.cache.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
