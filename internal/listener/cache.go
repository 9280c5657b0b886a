package listener

import (
	"sync"
	"time"
)

type channelNameEntry struct {
	name    string
	expires time.Time
}

type channelNameCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	values map[string]channelNameEntry
}

func newChannelNameCache(ttl time.Duration) *channelNameCache {
	if ttl <= 0 {
		return nil
	}
	return &channelNameCache{
		ttl:    ttl,
		values: make(map[string]channelNameEntry),
	}
}

func (c *channelNameCache) Get(channelID string) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.RLock()
	entry, ok := c.values[channelID]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Now().After(entry.expires) {
		c.mu.Lock()
		delete(c.values, channelID)
		c.mu.Unlock()
		return "", false
	}

	return entry.name, true
}

func (c *channelNameCache) Set(channelID, name string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.values[channelID] = channelNameEntry{
		name:    name,
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}
