package cache

import (
	"context"
	"sync"
	"time"
)

// Deduper remembers keys for a bounded time. FirstSeen reports true only for
// the first caller that presents a key within the retention window.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// MemoryDeduper is the in-process Deduper used when Redis is not configured.
// Expired entries are swept at most once per sweepInterval.
type MemoryDeduper struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	seen      map[string]time.Time
	lastSweep time.Time
}

const sweepInterval = time.Minute

var _ Deduper = (*MemoryDeduper)(nil)

// DefaultTTL is used when a non-positive retention window is given.
const DefaultTTL = 24 * time.Hour

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryDeduper{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (d *MemoryDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= sweepInterval {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
