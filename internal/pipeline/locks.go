package pipeline

import (
	"sync"
	"time"
)

// portfolioLocks keeps one short-TTL lock per portfolio so two overlapping
// ingestion cycles never process the same portfolio at once. Locks expire
// on their own so a crashed cycle cannot deadlock the next one.
type portfolioLocks struct {
	mu  sync.Mutex
	ttl time.Duration
	at  map[int]time.Time
}

func newPortfolioLocks(ttl time.Duration) *portfolioLocks {
	return &portfolioLocks{ttl: ttl, at: make(map[int]time.Time)}
}

// acquire takes the lock for a portfolio if it is free or expired.
func (l *portfolioLocks) acquire(portfolioID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.at[portfolioID]; ok && time.Since(held) < l.ttl {
		return false
	}
	l.at[portfolioID] = time.Now()
	return true
}

func (l *portfolioLocks) release(portfolioID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.at, portfolioID)
}
