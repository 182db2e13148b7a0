package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

type stubQuery struct {
	presence *entity.UserPresence
	err      error
}

func (s *stubQuery) IsOnline(userID entity.UserID) bool { return s.presence != nil && s.presence.Online }

func (s *stubQuery) GetPresence(_ context.Context, userID entity.UserID) (*entity.UserPresence, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := *s.presence
	p.UserID = userID
	return &p, nil
}

func (s *stubQuery) Stats() entity.RelayStats {
	return entity.RelayStats{Connections: 3, OnlineUsers: 2, PendingConfirmations: 1}
}

func newTestRouter(t *testing.T, q *stubQuery) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_test_total", Help: "test"}))
	return NewRouter(RouterConfig{
		Presence: NewPresenceController(q),
		WebSocket: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
		Gatherer:       reg,
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         zaptest.NewLogger(t),
	})
}

func serve(r http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterBasics(t *testing.T) {
	r := newTestRouter(t, &stubQuery{presence: &entity.UserPresence{}})

	w := serve(r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Hello World", w.Body.String())

	w = serve(r, http.MethodGet, "/health")
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/stats")
	require.JSONEq(t, `{"connections":3,"online_users":2,"pending_confirmations":1}`, w.Body.String())

	w = serve(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "relay_test_total")

	w = serve(r, http.MethodGet, "/ws")
	require.Equal(t, http.StatusTeapot, w.Code)
}

func TestRouterPresence(t *testing.T) {
	seen := time.Date(2024, 5, 1, 10, 30, 15, 0, time.UTC)
	r := newTestRouter(t, &stubQuery{presence: &entity.UserPresence{
		Status:     entity.PresenceStatusOffline,
		LastSeenAt: seen,
	}})

	w := serve(r, http.MethodGet, "/presence/alice")
	require.Equal(t, http.StatusOK, w.Code)

	var got entity.UserPresence
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, entity.UserID("alice"), got.UserID)
	require.False(t, got.Online)
	require.True(t, seen.Equal(got.LastSeenAt))

	never := newTestRouter(t, &stubQuery{presence: &entity.UserPresence{Status: entity.PresenceStatusOffline}})
	w = serve(never, http.MethodGet, "/presence/nobody")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":"nobody","online":false,"status":"offline"}`, w.Body.String())

	failing := newTestRouter(t, &stubQuery{err: errors.New("redis down")})
	w = serve(failing, http.MethodGet, "/presence/alice")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouterLogLevel(t *testing.T) {
	r := newTestRouter(t, &stubQuery{presence: &entity.UserPresence{}})

	w := serve(r, http.MethodPut, "/log/level?v=debug")
	require.Equal(t, http.StatusOK, w.Code)
	w = serve(r, http.MethodGet, "/log/level")
	require.Equal(t, "debug", strings.TrimSpace(w.Body.String()))

	w = serve(r, http.MethodPut, "/log/level?v=loud")
	require.Equal(t, http.StatusBadRequest, w.Code)

	serve(r, http.MethodPut, "/log/level?v=info")
}

func TestRouterCORS(t *testing.T) {
	r := newTestRouter(t, &stubQuery{presence: &entity.UserPresence{}})

	w := serve(r, http.MethodGet, "/health", "Origin", "http://localhost:3000")
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/health", "Origin", "http://evil.example")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouterRateLimitsUpgradesAndQueries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterConfig{
		Presence:    NewPresenceController(&stubQuery{presence: &entity.UserPresence{}}),
		WebSocket:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) },
		Gatherer:    prometheus.NewRegistry(),
		RateLimiter: NewIPRateLimiter(0, 2),
		Logger:      zaptest.NewLogger(t),
	})

	require.Equal(t, http.StatusTeapot, serve(r, http.MethodGet, "/ws").Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/stats").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/ws").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/presence/u1").Code)

	// health 和 metrics 不受限流影响
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health").Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics").Code)
}
