package controller

import (
	"errors"
	"sync"

	"github.com/dokzlo13/motiond/internal/lifx"
)

// ErrCacheStale means the cached color can no longer be trusted and a fresh
// GetColor round-trip is needed before the next partial update.
var ErrCacheStale = errors.New("color cache stale")

// ColorCache remembers the last HSBK the controller itself sent, so partial
// updates can merge against it without a GetColor round-trip. It is valid
// only as long as nothing else mutates the bulb; a failed send marks it
// stale. It does NOT fetch from the network - callers do that.
type ColorCache struct {
	mu    sync.Mutex
	color lifx.HSBK
	valid bool
}

// Current returns the cached color, or ErrCacheStale when absent or
// invalidated.
func (c *ColorCache) Current() (lifx.HSBK, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return lifx.HSBK{}, ErrCacheStale
	}
	return c.color, nil
}

// Set records a color the controller just applied (or read back).
func (c *ColorCache) Set(color lifx.HSBK) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.color = color
	c.valid = true
}

// MarkStale invalidates the cache. The next Current call fails until a
// fresh color is Set.
func (c *ColorCache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
}
