package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Coalescer rate-limits per-job progress updates so a chatty encoder cannot
// flood the store. The first update for a job and any update at or past 100
// percent always pass; within the window everything else is discarded, and a
// percent value running backwards is discarded regardless of timing.
type Coalescer struct {
	mu       sync.Mutex
	window   time.Duration
	limiters map[string]*rate.Limiter
	lastPct  map[string]float64
}

// NewCoalescer returns a coalescer admitting one update per job per window.
func NewCoalescer(window time.Duration) *Coalescer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &Coalescer{
		window:   window,
		limiters: make(map[string]*rate.Limiter),
		lastPct:  make(map[string]float64),
	}
}

// Admit reports whether a progress update for the job should reach the
// store. Admission never reorders: an admitted update is always newer than
// the previously admitted one for the same id.
func (c *Coalescer) Admit(id string, percent float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, tracked := c.limiters[id]
	if !tracked {
		limiter = rate.NewLimiter(rate.Every(c.window), 1)
		c.limiters[id] = limiter
		limiter.Allow()
		c.lastPct[id] = percent
		// First update for the id is a boundary transition.
		return true
	}
	if percent < c.lastPct[id] {
		return false
	}
	if percent >= 100 {
		c.lastPct[id] = percent
		return true
	}
	if !limiter.Allow() {
		return false
	}
	c.lastPct[id] = percent
	return true
}

// Drop removes the tracking entry for a job. Called on terminal events and
// on job removal; the store's transition rules keep any late update from
// resurrecting a finished job.
func (c *Coalescer) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, id)
	delete(c.lastPct, id)
}

// Reset clears all tracking state.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters = make(map[string]*rate.Limiter)
	c.lastPct = make(map[string]float64)
}
