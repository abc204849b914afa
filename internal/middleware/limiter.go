package middleware

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"orderflow-be/internal/cache"
	"orderflow-be/internal/logger"
	"orderflow-be/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rate limit tiers.
const (
	// Checkout / payment webhook (Strict)
	limitStrict = 2
	burstStrict = 5

	// General (Default)
	limitGeneral = 10
	burstGeneral = 20

	// Internal / trusted services
	limitInternal = 100
	burstInternal = 200

	counterWindow = time.Second
)

// RateLimiter throttles by identity and tier. Counters live in the keyed
// cache so the quota holds across service instances; when the cache is
// unreachable it degrades to an in-process token bucket rather than letting
// everything through.
type RateLimiter struct {
	cache cache.Cache

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

func NewRateLimiter(c cache.Cache) *RateLimiter {
	return &RateLimiter{
		cache:    c,
		fallback: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, burst, tier := resolveRateTier(r)

		var identity string
		if userID, ok := utils.GetUserIDFromContext(r.Context()); ok {
			identity = fmt.Sprintf("user:%d", userID)
		} else {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			identity = "ip:" + ip
		}

		key := fmt.Sprintf("%s:%s", identity, tier)

		if !rl.allow(r, key, limit, burst) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(r *http.Request, key string, limit, burst int) bool {
	count, err := rl.cache.Incr(r.Context(), rl.cache.Key("rate", key), counterWindow)
	if err != nil {
		logger.FromCtx(r.Context()).Warn("rate counter unavailable, using local bucket", zap.Error(err))
		return rl.allowLocal(key, limit, burst)
	}
	return count <= int64(burst)
}

func (rl *RateLimiter) allowLocal(key string, limit, burst int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.fallback[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(limit), burst)
		rl.fallback[key] = lim
	}
	return lim.Allow()
}

// resolveRateTier determines which rate limit policy applies to the request.
func resolveRateTier(r *http.Request) (int, int, string) {
	internalKey := os.Getenv("INTERNAL_SECRET_KEY")
	if internalKey != "" && r.Header.Get("X-Service-Auth") == internalKey {
		return limitInternal, burstInternal, "internal"
	}

	if r.URL.Path == "/webhook/payment" || r.URL.Path == "/api/v1/checkout" {
		return limitStrict, burstStrict, "strict"
	}

	return limitGeneral, burstGeneral, "general"
}
