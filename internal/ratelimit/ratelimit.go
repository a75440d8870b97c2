// Package ratelimit throttles outbound log records to a configured
// burst/interval budget, matching spec.md §4.7 step 1 and §8 scenario
// S5: excess records are dropped, and a single suppression notice fires
// the moment a token becomes available again.
//
// Grounded on other_examples/597045dc_therealutkarshpriyadarshi-log's
// syslog input, which wraps golang.org/x/time/rate per source with
// rate.NewLimiter(rate.Limit(n), burst) — the same library, applied here
// to the single outbound stream a Manager drives.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates records against a token bucket sized burst tokens,
// refilling at burst/interval tokens per second.
type Limiter struct {
	mu         sync.Mutex
	rl         *rate.Limiter
	suppressed int
}

// New builds a Limiter allowing burst events per interval. A zero burst
// or non-positive interval disables limiting (Allow always succeeds).
func New(burst int, interval time.Duration) *Limiter {
	if burst <= 0 || interval <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	}
	perSecond := rate.Limit(float64(burst) / interval.Seconds())
	return &Limiter{rl: rate.NewLimiter(perSecond, burst)}
}

// Allow reports whether the caller may forward one record now. When it
// returns false, the caller must drop the record without advancing the
// cursor. When it returns true and a suppression happened since the last
// allowed record, notice carries a human-readable summary to log exactly
// once; otherwise notice is empty.
func (l *Limiter) Allow() (ok bool, notice string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.rl.Allow() {
		l.suppressed++
		return false, ""
	}

	if l.suppressed > 0 {
		notice = fmt.Sprintf("suppressed %d messages", l.suppressed)
		l.suppressed = 0
	}
	return true, notice
}

// AllowAt is Allow with an explicit reference time, used by tests to
// exercise refill behavior without sleeping.
func (l *Limiter) AllowAt(now time.Time) (ok bool, notice string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.rl.AllowN(now, 1) {
		l.suppressed++
		return false, ""
	}

	if l.suppressed > 0 {
		notice = fmt.Sprintf("suppressed %d messages", l.suppressed)
		l.suppressed = 0
	}
	return true, notice
}

// Suppressed reports the count of drops since the last emitted notice,
// for diagnostics.
func (l *Limiter) Suppressed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suppressed
}
