package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammadhprp/redlimit/internal/keys"
	"github.com/mohammadhprp/redlimit/internal/limiter"
	"github.com/mohammadhprp/redlimit/internal/mutex"
	"github.com/mohammadhprp/redlimit/internal/storage"
	"go.uber.org/zap"
)

// GuardNamespaceSuffix is appended to the service namespace to form the
// guard's private key space. Public keys always continue the namespace with
// a class name, so API callers cannot read, lock or reset guard records.
const GuardNamespaceSuffix = "_HTTP"

// NewIPGuard returns a per-IP RateLimitMiddleware backed by its own sliding
// window under namer's namespace plus GuardNamespaceSuffix.
func NewIPGuard(store storage.Store, mu mutex.Mutex, namer keys.Namer, policy limiter.Policy, logger *zap.Logger, opts ...limiter.Option) func(http.Handler) http.Handler {
	guardNamer := keys.NewNamer(namer.Namespace() + GuardNamespaceSuffix)
	sw := limiter.NewSlidingWindow(store, mu, guardNamer, logger.Named("guard"), opts...)
	return RateLimitMiddleware(sw, policy, IPKeyExtractor, logger)
}

// RateLimitMiddleware returns an HTTP middleware that counts each request
// against policy and turns callers away while their key is locked.
//
// The identifier (client/user key) is extracted using the provided keyExtractor function.
// Once a key crosses the policy threshold it stays locked for policy.LockFor, and every
// request in that time gets 429 Too Many Requests.
//
// Example: lock an IP out for 30s after 100 requests in a minute
//
//	policy := limiter.Policy{Threshold: 100, Period: time.Minute, LockFor: 30 * time.Second}
//	mw := RateLimitMiddleware(slidingWindow, policy, IPKeyExtractor, logger)
func RateLimitMiddleware(rl limiter.RateLimiter, policy limiter.Policy, keyExtractor func(*http.Request) string, logger *zap.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(policy.LockFor.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)

			res, err := rl.Limit(r.Context(), key, policy)
			if err != nil {
				logger.Error("rate limiter check failed", zap.String("key", key), zap.Error(err))
				// Fail open: allow the request if rate limiter fails
				next.ServeHTTP(w, r)
				return
			}

			if res.Locked() {
				logger.Debug("request rate limited", zap.String("key", key), zap.Stringer("status", res.Status))
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyExtractor extracts the client IP address from the request.
// It uses the first address of X-Forwarded-For when present (for proxied
// requests), then falls back to the host part of RemoteAddr.
func IPKeyExtractor(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return "ip:" + strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// UserIDKeyExtractor returns a key extractor that uses a custom header for user identification.
// This is useful for authenticated APIs where you want to rate limit per user instead of IP.
func UserIDKeyExtractor(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID := r.Header.Get(headerName); userID != "" {
			return "user:" + userID
		}
		return IPKeyExtractor(r)
	}
}
