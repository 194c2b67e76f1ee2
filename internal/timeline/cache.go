package timeline

import "sync"

// Cache is the shared montage cache keyed by montage ID. Playlists reference
// montages by ID only, so a montage body loaded once is reused by every
// playlist that names it.
//
// The cache also keeps an ambient order: the montage sequence played when no
// playlist is active ("default" mode, no playlist identity).
type Cache struct {
	mu       sync.RWMutex
	montages map[int64]*Montage
	ambient  []int64
}

// NewCache creates an empty montage cache.
func NewCache() *Cache {
	return &Cache{montages: make(map[int64]*Montage)}
}

// Put stores a montage body, replacing any previous body with the same ID.
func (c *Cache) Put(m *Montage) {
	if m == nil {
		return
	}
	c.mu.Lock()
	c.montages[m.ID] = m
	c.mu.Unlock()
}

// Get returns the montage body for id, or false when not loaded.
func (c *Cache) Get(id int64) (*Montage, bool) {
	c.mu.RLock()
	m, ok := c.montages[id]
	c.mu.RUnlock()
	return m, ok
}

// IDs returns the IDs of all cached montages.
func (c *Cache) IDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.montages))
	for id := range c.montages {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops a montage body from the cache.
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	delete(c.montages, id)
	c.mu.Unlock()
}

// SetAmbientOrder records the montage sequence used when no playlist is
// active.
func (c *Cache) SetAmbientOrder(ids []int64) {
	c.mu.Lock()
	c.ambient = append([]int64(nil), ids...)
	c.mu.Unlock()
}

// AmbientOrder returns the ambient montage sequence.
func (c *Cache) AmbientOrder() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]int64(nil), c.ambient...)
}

// MontageIDAt resolves the montage ID at index within the given playlist,
// or within the ambient order when playlist is nil. Returns false when the
// index is out of range.
func (c *Cache) MontageIDAt(playlist *Playlist, index int) (int64, bool) {
	var ids []int64
	if playlist != nil {
		ids = playlist.MontageIDs
	} else {
		c.mu.RLock()
		ids = c.ambient
		c.mu.RUnlock()
	}
	if index < 0 || index >= len(ids) {
		return 0, false
	}
	return ids[index], true
}

// SequenceLen returns the montage count of the playlist, or of the ambient
// order when playlist is nil.
func (c *Cache) SequenceLen(playlist *Playlist) int {
	if playlist != nil {
		return playlist.Len()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ambient)
}
