package fragmenter

import "time"

// SetClock replaces the clock of c.
func SetClock(c *Cache, now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
