package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ============================================================================
// Rate limiting
// ============================================================================
//
// One token bucket per client address. A bucket holds up to Burst tokens and
// refills at MaxRequests/WindowSeconds tokens per second; each request takes
// one token. An empty bucket answers 429 with Retry-After set to the time
// until the next token.
//
// Buckets live in process memory, so limits apply per server instance.
// ============================================================================

// tokenBucket is a single client's allowance
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastSeen   time.Time
}

// take refills the bucket for the time elapsed since the last request and
// consumes one token if available. It returns the tokens left, how long
// until the next token when refused, and when the bucket will be full again.
func (b *tokenBucket) take(now time.Time) (bool, int, time.Duration, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastSeen).Seconds() * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0, b.fullAt(now)
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	return false, 0, wait, b.fullAt(now)
}

func (b *tokenBucket) fullAt(now time.Time) time.Time {
	return now.Add(time.Duration((b.capacity - b.tokens) / b.refillRate * float64(time.Second)))
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastSeen)
}

// RateLimiter holds a bucket per client
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	config  RateLimitInfo
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the given policy
func NewRateLimiter(config RateLimitInfo) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  config,
		now:     time.Now,
	}
}

func (rl *RateLimiter) refillRate() float64 {
	window := rl.config.WindowSeconds
	if window <= 0 {
		window = 60
	}
	return float64(rl.config.MaxRequests) / float64(window)
}

// Allow reports whether client may make a request now
// Returns (allowed, remaining, retryIn, fullResetTime)
func (rl *RateLimiter) Allow(client string) (bool, int, time.Duration, time.Time) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[client]
	if !ok {
		b = &tokenBucket{
			tokens:     float64(rl.config.Burst),
			capacity:   float64(rl.config.Burst),
			refillRate: rl.refillRate(),
			lastSeen:   now,
		}
		rl.buckets[client] = b
	}
	rl.mu.Unlock()

	return b.take(now)
}

// Sweep drops buckets idle for longer than maxIdle and returns how many
// were removed
func (rl *RateLimiter) Sweep(maxIdle time.Duration) int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for client, b := range rl.buckets {
		if b.idleSince(now) > maxIdle {
			delete(rl.buckets, client)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if n := rl.Sweep(time.Hour); n > 0 {
			log.Debug().Int("removed", n).Msg("rate limit buckets swept")
		}
	}
}

// clientKey identifies the caller. RealIP has already rewritten RemoteAddr
// from X-Forwarded-For / X-Real-IP when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware enforces config per client address. Each call creates
// its own limiter.
func RateLimitMiddleware(config RateLimitInfo) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(config)
	go limiter.sweepLoop()
	return limiter.Middleware
}

// Middleware applies the limiter to next
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		allowed, remaining, wait, reset := rl.Allow(client)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.MaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.Header().Set("X-RateLimit-Burst", strconv.Itoa(rl.config.Burst))

		if !allowed {
			retryAfter := int(wait.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			log.Ctx(r.Context()).Warn().
				Str("client", client).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")

			writeError(w, r, http.StatusTooManyRequests,
				"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
