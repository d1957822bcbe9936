package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of tracked senders so rotating ids cannot
// grow the map without bound.
const maxTrackedKeys = 4096

// DefaultSenderRPM is the inbound budget per sender when none is configured.
const DefaultSenderRPM = 30

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// SenderLimiter is a per-key token bucket over inbound messages.
// Safe for concurrent use.
type SenderLimiter struct {
	mu      sync.Mutex
	perMin  int
	idle    time.Duration
	entries map[string]*limiterEntry
	now     func() time.Time
}

// NewSenderLimiter allows perMinute messages per key with a burst of the
// same size. perMinute <= 0 uses DefaultSenderRPM.
func NewSenderLimiter(perMinute int) *SenderLimiter {
	if perMinute <= 0 {
		perMinute = DefaultSenderRPM
	}
	return &SenderLimiter{
		perMin:  perMinute,
		idle:    time.Minute,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow reports whether key may send one more message now.
func (r *SenderLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.entries) >= maxTrackedKeys {
		r.prune(now)
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Limit(float64(r.perMin)/60), r.perMin)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// prune drops idle keys, then evicts arbitrary keys while still at the cap.
func (r *SenderLimiter) prune(now time.Time) {
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) >= r.idle {
			delete(r.entries, k)
		}
	}
	for len(r.entries) >= maxTrackedKeys {
		for k := range r.entries {
			delete(r.entries, k)
			break
		}
	}
}

// Len returns the number of tracked keys.
func (r *SenderLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
