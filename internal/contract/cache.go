package contract

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a cached permission decision is trusted
// before the contract must be consulted again (spec §4.5).
const DefaultCacheTTL = 30 * time.Second

// cacheKey identifies a cached decision. contractVersion lets a contract
// bump its own version to invalidate every decision cached against it
// without touching anyone else's entries (spec §4.5 "versioned TTL cache").
type cacheKey struct {
	ContractID      string
	Target          string
	Action          Action
	Caller          string
	ContractVersion int64
}

type cacheEntry struct {
	result     Result
	expiration time.Time
}

// Cache memoizes permission decisions. It is intentionally small and
// single-purpose rather than the general-purpose key/value cache it's
// modeled on, because the kernel only ever caches one kind of value.
type Cache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	disabled bool
	entries  map[cacheKey]cacheEntry

	versionsMu sync.Mutex
	versions   map[string]int64
}

// NewCache creates a permission cache with the given entry TTL. A
// non-positive ttl disables caching entirely (SPEC_FULL.md §13: the
// kernel's default is no caching — every check consults the contract
// fresh — hosts opt into caching by configuring a positive TTL).
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:      ttl,
		entries:  make(map[cacheKey]cacheEntry),
		versions: make(map[string]int64),
	}
	if ttl <= 0 {
		c.disabled = true
	}
	return c
}

// versionOf returns the current version for a contract id, defaulting new
// contracts to version 0.
func (c *Cache) versionOf(contractID string) int64 {
	c.versionsMu.Lock()
	defer c.versionsMu.Unlock()
	return c.versions[contractID]
}

// BumpVersion invalidates every decision cached against contractID by
// advancing its version counter; old entries become unaddressable rather
// than being scanned and deleted (spec §4.5).
func (c *Cache) BumpVersion(contractID string) {
	c.versionsMu.Lock()
	c.versions[contractID]++
	c.versionsMu.Unlock()
}

// Get returns a cached decision for (contractID, target, action, caller) if
// present and unexpired under the contract's current version.
func (c *Cache) Get(contractID, target string, action Action, caller string) (Result, bool) {
	if c.disabled {
		return Result{}, false
	}
	key := cacheKey{ContractID: contractID, Target: target, Action: action, Caller: caller, ContractVersion: c.versionOf(contractID)}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expiration) {
		return Result{}, false
	}
	return entry.result, true
}

// Set stores a decision under the contract's current version.
func (c *Cache) Set(contractID, target string, action Action, caller string, result Result) {
	if c.disabled {
		return
	}
	key := cacheKey{ContractID: contractID, Target: target, Action: action, Caller: caller, ContractVersion: c.versionOf(contractID)}

	c.mu.Lock()
	c.entries[key] = cacheEntry{result: result, expiration: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Sweep drops expired entries. Safe to run periodically from a background
// ticker; correctness never depends on it running (expired entries are
// already rejected by Get).
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, k)
		}
	}
}

// Size reports the number of live entries, for observability.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
