package bus

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter enforces a per-clientId token bucket (§4.1). Buckets whose
// client has been silent for idleGrace are garbage collected during the
// periodic sweep.
type rateLimiter struct {
	mu        sync.Mutex
	perSecond float64
	idleGrace time.Duration
	buckets   map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond float64, idleGrace time.Duration) *rateLimiter {
	return &rateLimiter{
		perSecond: perSecond,
		idleGrace: idleGrace,
		buckets:   make(map[string]*bucket),
	}
}

// allow reports whether clientID may send one more message right now,
// creating its bucket on first use.
func (r *rateLimiter) allow(clientID string) bool {
	if r.perSecond <= 0 {
		return true
	}

	r.mu.Lock()
	b, ok := r.buckets[clientID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(r.perSecond), int(r.perSecond))}
		r.buckets[clientID] = b
	}
	b.lastSeen = time.Now()
	r.mu.Unlock()

	return b.limiter.Allow()
}

// sweep decays (removes) buckets idle for longer than idleGrace.
func (r *rateLimiter) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.idleGrace)
	removed := 0
	for id, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, id)
			removed++
		}
	}
	return removed
}
