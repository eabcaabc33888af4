package harness

import (
	"sync"
	"time"
)

// SessionCache stores validated operator sessions to avoid re-validating
// the same bearer token on every request
type SessionCache struct {
	mu    sync.RWMutex
	cache map[string]*CachedSession
}

// CachedSession is one cached validation result
type CachedSession struct {
	User      *User
	ExpiresAt time.Time
}

// getCachedSession retrieves a cached validation result
func (sc *SessionCache) getCachedSession(tokenHash string) (*CachedSession, bool) {
	sc.mu.RLock()

	cached, exists := sc.cache[tokenHash]
	if !exists {
		sc.mu.RUnlock()
		return nil, false
	}

	if time.Now().After(cached.ExpiresAt) {
		sc.mu.RUnlock()
		go sc.deleteExpiredSession(tokenHash)
		return nil, false
	}

	sc.mu.RUnlock()
	return cached, true
}

// deleteExpiredSession safely deletes an expired entry from the cache
func (sc *SessionCache) deleteExpiredSession(tokenHash string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if cached, exists := sc.cache[tokenHash]; exists && time.Now().After(cached.ExpiresAt) {
		delete(sc.cache, tokenHash)
	}
}

// setCachedSession stores a validation result
func (sc *SessionCache) setCachedSession(tokenHash string, user *User, expiresAt time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.cache[tokenHash] = &CachedSession{
		User:      user,
		ExpiresAt: expiresAt,
	}
}
