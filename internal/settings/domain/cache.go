package domain

import "sync"

// Cache holds settings read from the store until explicitly invalidated.
// Entries never expire on their own.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]RiskSettings
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]RiskSettings)}
}

func (c *Cache) Get(merchantID string) (RiskSettings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[merchantID]
	return s, ok
}

func (c *Cache) Put(settings RiskSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[settings.MerchantID] = settings
}

func (c *Cache) Invalidate(merchantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, merchantID)
}

// Reset drops every entry. Long-running sweepers call it once per tick so a
// write made by another process is seen on the next sweep.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]RiskSettings)
}
