package curvecare

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "groupmsg:"

// CacheEntry is the persisted cache record for one group.
type CacheEntry struct {
	Messages  []Message `json:"messages"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Age returns how long ago the entry was fetched.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// MessageCache persists per-group message lists to a Storage substrate.
// Reads and writes are best-effort: a corrupt or unreadable entry is treated
// as a cache miss and a failed write is logged, never surfaced. Losing the
// cache only costs a refetch.
type MessageCache struct {
	storage Storage
	log     zerolog.Logger
	now     func() time.Time
}

// NewMessageCache creates a cache over the given storage.
func NewMessageCache(storage Storage, log zerolog.Logger) *MessageCache {
	return &MessageCache{
		storage: storage,
		log:     log,
		now:     time.Now,
	}
}

// Read returns the cache entry for a group. The second return value is false
// when the entry is absent or cannot be decoded.
func (c *MessageCache) Read(groupID string) (CacheEntry, bool) {
	raw, ok, err := c.storage.Get(cacheKeyPrefix + groupID)
	if err != nil {
		c.log.Debug().Err(err).Str("group", groupID).Msg("cache read failed")
		return CacheEntry{}, false
	}
	if !ok {
		return CacheEntry{}, false
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Debug().Err(err).Str("group", groupID).Msg("cache entry corrupt, treating as miss")
		return CacheEntry{}, false
	}
	return entry, true
}

// Write replaces the cache entry for a group with the given messages,
// stamped with the current time.
func (c *MessageCache) Write(groupID string, msgs []Message) {
	entry := CacheEntry{Messages: msgs, FetchedAt: c.now()}
	data, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn().Err(err).Str("group", groupID).Msg("cache encode failed")
		return
	}
	if err := c.storage.Set(cacheKeyPrefix+groupID, string(data)); err != nil {
		c.log.Warn().Err(err).Str("group", groupID).Msg("cache write failed")
	}
}

// Clear removes the cache entry for a group.
func (c *MessageCache) Clear(groupID string) {
	if err := c.storage.Remove(cacheKeyPrefix + groupID); err != nil {
		c.log.Warn().Err(err).Str("group", groupID).Msg("cache clear failed")
	}
}

// ClearAll removes every group cache entry, e.g. on logout.
func (c *MessageCache) ClearAll() {
	keys, err := c.storage.Keys(cacheKeyPrefix)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache enumerate failed")
		return
	}
	for _, k := range keys {
		if err := c.storage.Remove(k); err != nil {
			c.log.Warn().Err(err).Str("key", k).Msg("cache clear failed")
		}
	}
}
