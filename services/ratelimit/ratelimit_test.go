package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestLimiter_Allow(t *testing.T) {
	l := New(1, 2)
	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"), "burst exhausted")
	assert.True(t, l.Allow("2.2.2.2"), "buckets are per key")
}

func TestLimiter_Cleanup(t *testing.T) {
	l := New(1, 1)
	l.Allow("1.1.1.1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Cleanup(ctx, time.Millisecond, time.Millisecond)

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.visitors) == 0
	}, time.Second, time.Millisecond)
}

func TestLimiter_Middleware(t *testing.T) {
	l := New(0.001, 1)
	app := echo.New()
	app.POST("/join", func(ctx echo.Context) error { return ctx.NoContent(http.StatusOK) }, l.Middleware())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/join", nil)
		req.Header.Set(echo.HeaderXRealIP, "3.3.3.3")
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
