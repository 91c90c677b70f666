package authapi

import (
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newIPLimiter(2, 5*time.Minute)
	ip := net.ParseIP("203.0.113.7")

	if ok, _ := l.Allow(ip, now); !ok {
		t.Fatalf("first attempt must pass")
	}
	if ok, _ := l.Allow(ip, now.Add(time.Minute)); !ok {
		t.Fatalf("second attempt must pass")
	}

	ok, retry := l.Allow(ip, now.Add(2*time.Minute))
	if ok {
		t.Fatalf("third attempt must be blocked")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	// Other addresses are independent.
	if ok, _ := l.Allow(net.ParseIP("203.0.113.8"), now.Add(2*time.Minute)); !ok {
		t.Fatalf("other ip must pass")
	}

	// The first attempt leaves the window.
	if ok, _ := l.Allow(ip, now.Add(5*time.Minute+time.Second)); !ok {
		t.Fatalf("attempt after window must pass")
	}
}

func TestIPLimiter_DisabledOrUnknownIP(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if ok, _ := newIPLimiter(0, time.Minute).Allow(net.ParseIP("203.0.113.7"), now); !ok {
		t.Fatalf("zero limit disables throttling")
	}
	l := newIPLimiter(1, time.Minute)
	for range 3 {
		if ok, _ := l.Allow(nil, now); !ok {
			t.Fatalf("requests without a client IP are not throttled")
		}
	}
	var nilLimiter *ipLimiter
	if ok, _ := nilLimiter.Allow(net.ParseIP("203.0.113.7"), now); !ok {
		t.Fatalf("nil limiter must allow")
	}
}

func TestWriteRateLimited_RoundsRetryAfterUp(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	writeRateLimited(rr, 7*time.Second+time.Millisecond, "used_too_frequently", "slow down")

	if rr.Code != 429 {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "8" {
		t.Fatalf("Retry-After=%q", got)
	}
}
