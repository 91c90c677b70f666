package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedIPs bounds limiter memory; idle entries are swept first.
const maxTrackedIPs = 100_000

// ipLimiter is a per-IP sliding-window limiter for credential endpoints.
type ipLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow records an attempt from ip at now. When the window is full it
// reports how long until the oldest attempt leaves it.
func (l *ipLimiter) Allow(ip net.IP, now time.Time) (bool, time.Duration) {
	if l == nil || l.limit <= 0 || ip == nil {
		return true, 0
	}
	key := ip.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	kept := pruneBefore(l.events[key], cut)

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false, kept[0].Sub(cut)
	}

	if len(l.events) >= maxTrackedIPs {
		l.sweepLocked(cut)
	}
	l.events[key] = append(kept, now)
	return true, 0
}

func (l *ipLimiter) sweepLocked(cut time.Time) {
	for k, ev := range l.events {
		if kept := pruneBefore(ev, cut); len(kept) == 0 {
			delete(l.events, k)
		} else {
			l.events[k] = kept
		}
	}
}

func pruneBefore(events []time.Time, cut time.Time) []time.Time {
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, code, msg string) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, code, msg)
}
