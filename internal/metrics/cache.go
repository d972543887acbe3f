package metrics

import (
	"sync"
	"time"

	"github.com/nerrad567/litecore/internal/engine"
)

type statsCache struct {
	src    StatsSource
	minAge time.Duration

	mu    sync.Mutex
	at    time.Time
	stats engine.Stats
}

func (c *statsCache) get() engine.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at.IsZero() || time.Since(c.at) >= c.minAge {
		c.stats = c.src.Stats()
		c.at = time.Now()
	}
	return c.stats
}
