package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestIPRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(2, 3)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("10.0.0.1"))
	}
	require.False(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.2"))

	now = now.Add(500 * time.Millisecond)
	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"))

	now = now.Add(time.Hour)
	require.Equal(t, 2, l.Sweep(time.Minute))
	require.True(t, l.Allow("10.0.0.1"))
}

func TestIPRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewIPRateLimiter(0, 1).Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/ping").Code)
}
