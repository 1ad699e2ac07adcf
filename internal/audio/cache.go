/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"fmt"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/telemetry"
	"github.com/klangwerk/klangbrett/internal/wav"
)

// cacheEntry is one slot of the PCM cache. An entry with ready=false is
// reserved by the preload worker: its buffer exists but holds no usable
// data yet, and lookups and eviction skip it.
type cacheEntry struct {
	path    string
	data    []byte
	format  wav.Format
	refs    int
	ready   bool
	lastUse uint64
}

// cache is a fixed-slot, byte-budgeted PCM store with LRU eviction.
// Entries with outstanding readers (refs > 0) are never evicted. All
// methods must be called with the provider mutex held.
type cache struct {
	slots  []cacheEntry
	budget int
	used   int
	tick   uint64

	// alloc is replaceable so tests can simulate allocation failure.
	alloc func(int) ([]byte, error)
}

func newCache(slots, budget int) *cache {
	return &cache{
		slots:  make([]cacheEntry, slots),
		budget: budget,
		alloc:  func(n int) ([]byte, error) { return make([]byte, n), nil },
	}
}

// lookup returns the ready entry for path, or nil.
func (c *cache) lookup(path string) *cacheEntry {
	for i := range c.slots {
		if c.slots[i].ready && c.slots[i].path == path {
			return &c.slots[i]
		}
	}
	return nil
}

// touch marks the entry as most recently used.
func (c *cache) touch(e *cacheEntry) {
	c.tick++
	e.lastUse = c.tick
}

// reserve claims a slot and buffer for path. It evicts unreferenced entries
// until a slot, the byte budget, and the allocation all succeed, or nothing
// evictable remains. The returned entry is not ready: the caller fills its
// buffer and then commits it.
func (c *cache) reserve(path string, size int, format wav.Format) (*cacheEntry, error) {
	// Anything bigger than half the budget would churn the whole cache.
	if size > c.budget/2 {
		return nil, fmt.Errorf("%s: %d bytes exceeds half the cache budget: %w", path, size, apperr.ErrNoMemory)
	}

	for {
		if slot := c.freeSlot(); slot != nil && c.used+size <= c.budget {
			buf, err := c.alloc(size)
			if err == nil {
				*slot = cacheEntry{path: path, data: buf, format: format}
				c.used += size
				telemetry.CacheBytes.Set(float64(c.used))
				return slot, nil
			}
		}
		if !c.evictOne() {
			return nil, fmt.Errorf("cache cannot fit %s (%d bytes): %w", path, size, apperr.ErrNoMemory)
		}
	}
}

// commit publishes a reserved entry to lookups.
func (c *cache) commit(e *cacheEntry) {
	e.ready = true
	c.touch(e)
}

// free releases an entry (reserved or ready) and its bytes.
func (c *cache) free(e *cacheEntry) {
	c.used -= len(e.data)
	telemetry.CacheBytes.Set(float64(c.used))
	*e = cacheEntry{}
}

// freeSlot returns an unoccupied slot, or nil.
func (c *cache) freeSlot() *cacheEntry {
	for i := range c.slots {
		if c.slots[i].data == nil && !c.slots[i].ready {
			return &c.slots[i]
		}
	}
	return nil
}

// evictOne drops the least recently used unreferenced ready entry. Ties go
// to the lowest slot index. Returns false when nothing can be evicted.
func (c *cache) evictOne() bool {
	var victim *cacheEntry
	for i := range c.slots {
		e := &c.slots[i]
		if !e.ready || e.refs > 0 {
			continue
		}
		if victim == nil || e.lastUse < victim.lastUse {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	c.free(victim)
	telemetry.CacheEvictions.Inc()
	return true
}

// stats returns occupancy for the status surface.
func (c *cache) stats() (slotsUsed, bytesUsed int) {
	for i := range c.slots {
		if c.slots[i].data != nil {
			slotsUsed++
		}
	}
	return slotsUsed, c.used
}
