package util

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// maxConcurrencyCeiling is the semaphore's fixed capacity. The limiter
// holds every permit above its current limit as a reserve.
const maxConcurrencyCeiling = 1 << 16

// ConcurrencyLimiter bounds how many tasks run at once across every caller
// sharing it. It is safe for concurrent use and can be resized while
// permits are held.
type ConcurrencyLimiter struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	limit int
	// debt counts reserve permits still owed after a shrink; holders pay
	// it back on Release instead of freeing their permit.
	debt     int
	inFlight atomic.Int64
}

func NewConcurrencyLimiter(limit int) *ConcurrencyLimiter {
	limit = clampLimit(limit)
	l := &ConcurrencyLimiter{
		sem:   semaphore.NewWeighted(maxConcurrencyCeiling),
		limit: limit,
	}
	l.sem.TryAcquire(int64(maxConcurrencyCeiling - limit))
	return l
}

func clampLimit(limit int) int {
	return max(1, min(limit, maxConcurrencyCeiling))
}

// TryAcquire takes a permit without blocking.
func (l *ConcurrencyLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Release returns a permit taken by TryAcquire.
func (l *ConcurrencyLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight.Add(-1)
	if l.debt > 0 {
		l.debt--
		return
	}
	l.sem.Release(1)
}

// SetLimit changes the bound. Permits already held stay valid; after a
// shrink no new permit is handed out until in-flight work drops below the
// new limit.
func (l *ConcurrencyLimiter) SetLimit(limit int) {
	limit = clampLimit(limit)
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case limit > l.limit:
		grow := limit - l.limit
		paid := min(grow, l.debt)
		l.debt -= paid
		if grow -= paid; grow > 0 {
			l.sem.Release(int64(grow))
		}
	case limit < l.limit:
		shrink := l.limit - limit
		for shrink > 0 && l.sem.TryAcquire(1) {
			shrink--
		}
		l.debt += shrink
	}
	l.limit = limit
}

func (l *ConcurrencyLimiter) InFlight() int {
	return int(l.inFlight.Load())
}

func (l *ConcurrencyLimiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}
