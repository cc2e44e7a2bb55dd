package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter はプロセス内のマップで数えるカウンター。テストと開発用。
type MemoryCounter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	current time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	windowStart time.Time
	count       int64
}

// NewMemoryCounter はメモリ上のカウンターを生成する。
func NewMemoryCounter(window time.Duration) *MemoryCounter {
	return &MemoryCounter{
		window:  window,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Incr はカウンターを加算する。ウィンドウが変わっていればリセットする。
func (c *MemoryCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now().Truncate(c.window)
	if !start.Equal(c.current) {
		// 前のウィンドウのエントリは二度と参照されない
		for k, e := range c.entries {
			if e.windowStart.Before(start) {
				delete(c.entries, k)
			}
		}
		c.current = start
	}

	e := c.entries[key]
	if !e.windowStart.Equal(start) {
		e = memoryEntry{windowStart: start}
	}
	e.count++
	c.entries[key] = e
	return e.count, nil
}
