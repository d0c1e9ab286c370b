package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/internal/policy"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
}

func TestRateLimiterEvict(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.Allow("k")

	now = now.Add(20 * time.Minute)
	rl.Evict(10 * time.Minute)
	assert.Empty(t, rl.visitors)
}

func TestRateLimitKeysByActor(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(actorID string) int {
		req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if actorID != "" {
			req = req.WithContext(identity.WithActor(req.Context(), identity.Actor{ID: actorID, Role: policy.RoleOwner}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("owner-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("owner-1"))
	assert.Equal(t, http.StatusOK, call("owner-2"), "same IP, different actor")
	assert.Equal(t, http.StatusOK, call(""))
	assert.Equal(t, http.StatusTooManyRequests, call(""))
}
