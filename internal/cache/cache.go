package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"reflex-engine/internal/pkg/config"
)

// Recognized cache types. Policy entries are strictly swept by a janitor so
// the per-request policy sets stay bounded; every other ctype lazily expires
// on read.
const (
	TypePolicy      = "policy"
	TypePolicyMap   = "policymap"
	TypePolicyScope = "policyscope"
	TypePolicyMatch = "policymatch"
	TypeSession     = "session"
	TypeGroups      = "groups"
)

// Cache is a per-ctype TTL keyed store.
type Cache struct {
	types map[string]*gocache.Cache
	ttls  map[string]time.Duration
}

// New configures one store per ctype from the cache TTL settings.
func New(cfg *config.CacheConfig) *Cache {
	policyTTL := secondsOr(cfg.Policies, 300)
	sessionTTL := secondsOr(cfg.Sessions, 300)
	groupsTTL := secondsOr(cfg.Groups, 300)
	sweep := secondsOr(cfg.Housekeeper, 60)

	c := &Cache{
		types: make(map[string]*gocache.Cache),
		ttls:  make(map[string]time.Duration),
	}
	c.configure(TypePolicy, policyTTL, sweep)
	c.configure(TypePolicyMap, policyTTL, 0)
	c.configure(TypePolicyScope, policyTTL, 0)
	c.configure(TypePolicyMatch, policyTTL, 0)
	c.configure(TypeSession, sessionTTL, 0)
	c.configure(TypeGroups, groupsTTL, 0)
	return c
}

func secondsOr(value int, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func (c *Cache) configure(ctype string, ttl, sweep time.Duration) {
	c.types[ctype] = gocache.New(ttl, sweep)
	c.ttls[ctype] = ttl
}

// Get returns the cached value and whether it was present and unexpired.
func (c *Cache) Get(ctype, key string) (interface{}, bool) {
	store, ok := c.types[ctype]
	if !ok {
		return nil, false
	}
	return store.Get(key)
}

// Set stores a value under the ctype's TTL and returns its expiry time.
func (c *Cache) Set(ctype, key string, value interface{}) time.Time {
	return c.SetFrom(ctype, key, value, time.Now())
}

// SetFrom stores a value whose TTL counts from base, so a batch of entries
// loaded together shares one clock. Returns the expiry time.
func (c *Cache) SetFrom(ctype, key string, value interface{}, base time.Time) time.Time {
	store, ok := c.types[ctype]
	if !ok {
		return time.Time{}
	}
	expires := base.Add(c.ttls[ctype])
	remaining := time.Until(expires)
	if remaining <= 0 {
		return expires
	}
	store.Set(key, value, remaining)
	return expires
}

// Remove deletes one entry.
func (c *Cache) Remove(ctype, key string) {
	if store, ok := c.types[ctype]; ok {
		store.Delete(key)
	}
}

// ClearType drops every entry of one ctype.
func (c *Cache) ClearType(ctype string) {
	if store, ok := c.types[ctype]; ok {
		store.Flush()
	}
}

// TTL returns the configured lifetime for a ctype.
func (c *Cache) TTL(ctype string) time.Duration {
	return c.ttls[ctype]
}
