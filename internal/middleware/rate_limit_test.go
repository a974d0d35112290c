package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/keys"
	"github.com/mohammadhprp/redlimit/internal/limiter"
	"github.com/mohammadhprp/redlimit/internal/mutex"
	"github.com/mohammadhprp/redlimit/internal/storage"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddlewareLocksClient(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	logger := zap.NewNop()
	sw := limiter.NewSlidingWindow(store, mutex.NewLocal(mutex.DefaultOptions()), keys.NewNamer("mw"), logger)
	policy := limiter.Policy{Threshold: 2, Period: time.Minute, LockFor: 30 * time.Second}

	h := RateLimitMiddleware(sw, policy, IPKeyExtractor, logger)(okHandler())

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001").Code)

	rec := send("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1003").Code)

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code, "other clients are unaffected")
}

type brokenLimiter struct{}

func (brokenLimiter) Limit(context.Context, string, limiter.Policy) (limiter.Result, error) {
	return limiter.Result{}, errors.New("store down")
}

func (brokenLimiter) Reset(context.Context, string) error { return nil }

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	policy := limiter.Policy{Threshold: 1, Period: time.Second, LockFor: time.Second}
	h := RateLimitMiddleware(brokenLimiter{}, policy, IPKeyExtractor, zap.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeyExtractors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "ip:192.0.2.7", IPKeyExtractor(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.9", IPKeyExtractor(req))

	byUser := UserIDKeyExtractor("X-User-ID")
	assert.Equal(t, "ip:203.0.113.9", byUser(req))
	req.Header.Set("X-User-ID", "42")
	assert.Equal(t, "user:42", byUser(req))
}

func TestNewIPGuardUsesPrivateNamespace(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	namer := keys.NewNamer("mw")
	policy := limiter.Policy{Threshold: 1, Period: time.Minute, LockFor: 30 * time.Second}

	// A lock held under the public namespace for the same client key.
	_, err := store.SetNX(ctx, namer.Key("ip:10.0.0.1", keys.ClassLocked), "1", time.Minute)
	require.NoError(t, err)

	h := NewIPGuard(store, mutex.NewLocal(mutex.DefaultOptions()), namer, policy, zap.NewNop())(okHandler())
	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	guardKeys, err := store.KeysWithPrefix(ctx, "mw"+GuardNamespaceSuffix+"_")
	require.NoError(t, err)
	assert.Contains(t, guardKeys, "mw_HTTP_LOCKED_ip:10.0.0.1")
}
