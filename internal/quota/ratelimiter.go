// Package quota enforces per-account request rate limits.
package quota

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/protocol"
)

// RateLimiter implements per-account token bucket rate limiting. The bucket
// holds rpm tokens and refills at rpm per minute.
type RateLimiter struct {
	mu      sync.Mutex
	rpm     int
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per
// account. rpm=0 means unlimited.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:     max(rpm, 0),
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) get(account string) *bucket {
	b, ok := rl.buckets[account]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(rl.rpm)/60), rl.rpm)}
		rl.buckets[account] = b
	}
	b.lastSeen = time.Now()
	return b
}

// Allow reports whether a request from account may proceed and takes a
// token if so.
func (rl *RateLimiter) Allow(account string) bool {
	if rl.rpm == 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.get(account).limiter.Allow()
}

// RetryAfter returns the number of seconds until the next token is available.
func (rl *RateLimiter) RetryAfter(account string) int {
	if rl.rpm == 0 {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[account]
	if !ok {
		return 0
	}
	tokens := b.limiter.Tokens()
	if tokens >= 1 {
		return 0
	}
	seconds := (1 - tokens) / float64(b.limiter.Limit())
	return int(math.Ceil(seconds))
}

// Cleanup removes buckets for accounts that haven't been seen recently.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for account, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, account)
		}
	}
}

// Middleware rejects requests over the account's rate with 429. It must run
// after authentication; requests without an account pass through.
func (rl *RateLimiter) Middleware(accountFrom func(ctx context.Context) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := accountFrom(r.Context())
			if account == "" || rl.Allow(account) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimitHit()
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(account)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      http.StatusTooManyRequests,
				RequestID: logging.GetRequestID(r.Context()),
			})
		})
	}
}
