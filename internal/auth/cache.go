package auth

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// cacheEntry is one remembered authorization verdict.
type cacheEntry struct {
	Authorized bool      `json:"authorized"`
	Timestamp  time.Time `json:"timestamp"`
}

// cache is the 24h-TTL authorization cache. The hit path takes only a read
// lock. Disk persistence is best-effort: losing the file means a re-fetch,
// never a wrong answer.
type cache struct {
	mu      sync.RWMutex
	entries map[int64]cacheEntry

	path string
	ttl  time.Duration
	now  func() time.Time
	log  *slog.Logger
}

func newCache(path string, ttl time.Duration, now func() time.Time, log *slog.Logger) *cache {
	c := &cache{
		entries: make(map[int64]cacheEntry),
		path:    path,
		ttl:     ttl,
		now:     now,
		log:     log,
	}
	c.load()
	return c
}

// get returns (verdict, fresh). A missing or expired entry reports fresh=false.
func (c *cache) get(userID int64) (bool, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.Timestamp) >= c.ttl {
		return false, false
	}
	return e.Authorized, true
}

// put overwrites the entry and persists the cache best-effort.
func (c *cache) put(userID int64, authorized bool) {
	c.mu.Lock()
	c.entries[userID] = cacheEntry{Authorized: authorized, Timestamp: c.now()}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.persist(snapshot); err != nil {
		c.log.Warn("auth cache persist failed", slog.String("error", err.Error()))
	}
}

// snapshotLocked serializes entries in the on-disk shape; c.mu must be held.
func (c *cache) snapshotLocked() map[string]cacheEntry {
	out := make(map[string]cacheEntry, len(c.entries))
	for id, e := range c.entries {
		out[strconv.FormatInt(id, 10)] = e
	}
	return out
}

func (c *cache) persist(snapshot map[string]cacheEntry) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func (c *cache) load() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("auth cache unreadable, starting empty", slog.String("error", err.Error()))
		}
		return
	}
	var onDisk map[string]cacheEntry
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		c.log.Warn("auth cache corrupt, starting empty", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	for key, e := range onDisk {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		c.entries[id] = e
	}
	c.mu.Unlock()
}
