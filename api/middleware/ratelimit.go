package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openalpha/stockex/metrics"
)

// RateLimitConfig tunes the token buckets.
type RateLimitConfig struct {
	IPRequestsPerSecond      int
	IPBurst                  int
	AccountRequestsPerSecond int
	AccountBurst             int
	OrdersPerSecond          int
	OrderBurst               int

	CleanupInterval time.Duration
	BucketTTL       time.Duration
}

// DefaultRateLimitConfig returns the production defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		IPRequestsPerSecond:      100,
		IPBurst:                  200,
		AccountRequestsPerSecond: 50,
		AccountBurst:             100,
		OrdersPerSecond:          10,
		OrderBurst:               20,

		CleanupInterval: 5 * time.Minute,
		BucketTTL:       time.Hour,
	}
}

// bucket is a single token bucket.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastUpdate time.Time
}

// take refills by elapsed time and tries to consume one token, returning
// the retry-after seconds on refusal.
func (b *bucket) take() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastUpdate).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, int((1-b.tokens)/b.refillRate) + 1
}

// RateLimiter enforces per-IP, per-account and per-account order budgets.
type RateLimiter struct {
	config *RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter creates a limiter and starts its bucket janitor.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the janitor goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			threshold := time.Now().Add(-rl.config.BucketTTL)
			rl.mu.Lock()
			for key, b := range rl.buckets {
				b.mu.Lock()
				stale := b.lastUpdate.Before(threshold)
				b.mu.Unlock()
				if stale {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) getBucket(key string, burst, rate int) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	b := &bucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rate),
		lastUpdate: time.Now(),
	}
	rl.buckets[key] = b
	return b
}

// AllowIP checks the general per-IP budget.
func (rl *RateLimiter) AllowIP(ip string) (bool, int) {
	return rl.getBucket("ip:"+ip, rl.config.IPBurst, rl.config.IPRequestsPerSecond).take()
}

// AllowAccount checks the per-account budget.
func (rl *RateLimiter) AllowAccount(accountID string) (bool, int) {
	return rl.getBucket("acct:"+accountID, rl.config.AccountBurst, rl.config.AccountRequestsPerSecond).take()
}

// AllowOrder checks the stricter per-account order budget.
func (rl *RateLimiter) AllowOrder(accountID string) (bool, int) {
	return rl.getBucket("order:"+accountID, rl.config.OrderBurst, rl.config.OrdersPerSecond).take()
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	writeAuthError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
}

// RateLimit is the outermost middleware and enforces the per-IP budget.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	m := metrics.GetCollector()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, retry := rl.AllowIP(clientIP(r)); !ok {
				m.RateLimitHits.WithLabelValues("ip").Inc()
				writeRateLimited(w, retry)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountRateLimit runs after Auth: the per-account budget on every call,
// plus the stricter order budget on order submissions.
func AccountRateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	m := metrics.GetCollector()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := AccountFrom(r.Context())
			if accountID != "" {
				if ok, retry := rl.AllowAccount(accountID); !ok {
					m.RateLimitHits.WithLabelValues("account").Inc()
					writeRateLimited(w, retry)
					return
				}
				if r.Method == http.MethodPost && r.URL.Path == "/orders" {
					if ok, retry := rl.AllowOrder(accountID); !ok {
						m.RateLimitHits.WithLabelValues("order").Inc()
						writeRateLimited(w, retry)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller's IP, honoring forwarding headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if i := strings.LastIndexByte(ip, ':'); i >= 0 {
		return ip[:i]
	}
	return ip
}
