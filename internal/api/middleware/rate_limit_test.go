package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type countingLimiter struct {
	allow int
	err   error
	calls int
	keys  []string
}

func (l *countingLimiter) CheckRateLimit(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.calls++
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= l.allow, nil
}

func newLimitedRouter(limiter RateLimiter, withUser bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	rm := NewRateLimitMiddleware(limiter)
	r := gin.New()
	if withUser {
		r.Use(func(c *gin.Context) {
			c.Set(ContextUserID, "user-1")
			c.Next()
		})
	}
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/communities/:communityId/messages", rm.RateLimit(2, time.Minute), ok)
	r.GET("/socket", rm.RateLimitIP(2, time.Minute), ok)
	return r
}

func serve(r http.Handler, method, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w.Code
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := &countingLimiter{allow: 2}
	r := newLimitedRouter(limiter, true)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/communities/c1/messages"))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/communities/c2/messages"))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/communities/c1/messages"))
	assert.Equal(t, "rate_limit:user-1:/communities/:communityId/messages", limiter.keys[0])
}

func TestRateLimitRequiresUser(t *testing.T) {
	limiter := &countingLimiter{allow: 10}
	r := newLimitedRouter(limiter, false)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/communities/c1/messages"))
	assert.Zero(t, limiter.calls)
}

func TestRateLimitByIP(t *testing.T) {
	limiter := &countingLimiter{allow: 1}
	r := newLimitedRouter(limiter, false)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/socket"))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/socket"))
	assert.Contains(t, limiter.keys[0], "rate_limit_ip:")
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := newLimitedRouter(&countingLimiter{err: errors.New("redis down")}, true)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/communities/c1/messages"))
}
