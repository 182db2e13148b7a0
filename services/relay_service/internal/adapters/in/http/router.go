package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/pkg/zlog"
)

// RouterConfig relay 的 HTTP 接口
type RouterConfig struct {
	Presence       *PresenceController
	WebSocket      http.HandlerFunc
	Gatherer       prometheus.Gatherer // 为 nil 时使用默认 registry
	RateLimiter    *IPRateLimiter      // 保护 /ws 和查询接口，为 nil 时关闭
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(zlog.GinLogger(cfg.Logger), gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello World")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	limited := r.Group("/")
	if cfg.RateLimiter != nil {
		limited.Use(cfg.RateLimiter.Middleware())
	}
	if cfg.Presence != nil {
		cfg.Presence.RegisterRoutes(limited)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	level := gin.WrapF(zlog.LevelHTTPHandler())
	r.GET("/log/level", level)
	r.PUT("/log/level", level)

	if cfg.WebSocket != nil {
		limited.GET("/ws", gin.WrapF(cfg.WebSocket))
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
