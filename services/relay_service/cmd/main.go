package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/pkg/zlog"
	httpAdapter "github.com/EthanQC/chat-relay/services/relay_service/internal/adapters/in/http"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/adapters/in/ws"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/adapters/out/mq"
	redisRepo "github.com/EthanQC/chat-relay/services/relay_service/internal/adapters/out/redis"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/application"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/config"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/metrics"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

func main() {
	cfg, err := config.Load(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := config.Env()
	os.Setenv("APP_ENV", env)
	logCfg, err := loadLogConfig(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load log config: %v\n", err)
		os.Exit(1)
	}
	logger := zlog.MustInitGlobal(*logCfg)
	defer logger.Sync()

	logger.Info("relay_service starting",
		zap.String("env", env),
		zap.String("node_id", cfg.Server.NodeID))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	zlog.RegisterMetrics(registry)

	// 可选的在线状态镜像
	var (
		presenceRepo out.PresenceRepository
		publisher    out.EventPublisher
		redisClient  *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = initRedis(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to init redis", zap.Error(err))
		}
		presenceRepo = redisRepo.NewPresenceRepositoryRedis(redisClient, cfg.Redis.PresenceTTL)
		logger.Info("redis presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if cfg.Kafka.Enabled {
		publisher, err = mq.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.PresenceTopic)
		if err != nil {
			logger.Fatal("Failed to init kafka publisher", zap.Error(err))
		}
		logger.Info("kafka presence stream enabled", zap.String("topic", cfg.Kafka.PresenceTopic))
	}

	hub := ws.NewHub(logger.Named("hub"))
	relay := application.NewRelay(hub, application.Options{
		DeliveryDelay:   cfg.Relay.DeliveryDelay,
		NodeID:          cfg.Server.NodeID,
		PresenceRepo:    presenceRepo,
		PresenceRefresh: cfg.Redis.PresenceRefresh,
		Publisher:       publisher,
		Logger:          logger.Named("relay"),
	})

	wsServer := ws.NewServer(hub, relay, ws.Settings{
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		PingPeriod:     cfg.WS.PingPeriod,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
	}, cfg.Server.AllowedOrigins, logger.Named("ws"))

	var limiter *httpAdapter.IPRateLimiter
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Server.RateLimit.Enabled {
		limiter = httpAdapter.NewIPRateLimiter(cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Burst)
		go sweepLimiter(sweepCtx, limiter)
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		Presence:       httpAdapter.NewPresenceController(relay),
		WebSocket:      wsServer.HandleConnection,
		Gatherer:       registry,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Named("http"),
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("Relay server starting", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown incomplete", zap.Error(err))
	}

	stopSweep()
	relay.Close()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("Kafka producer close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Redis close error", zap.Error(err))
		}
	}

	logger.Info("Server exited properly")
}

// loadLogConfig 读取服务 yaml 顶层的日志配置，找不到文件时退回 stdout json
func loadLogConfig(env string) (*zlog.Config, error) {
	name := fmt.Sprintf("config.%s.yaml", env)
	for _, dir := range []string{filepath.Join(".", "configs"), filepath.Join("..", "configs")} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return zlog.LoadConfig(path)
		}
	}

	cfg := &zlog.Config{
		Service:      "relay-service",
		Level:        "info",
		Encoding:     "json",
		Stdout:       true,
		EnableMetric: true,
	}
	return cfg, cfg.Validate()
}

// sweepLimiter 清理空闲超过十分钟的客户端令牌桶
func sweepLimiter(ctx context.Context, limiter *httpAdapter.IPRateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(10 * time.Minute)
		}
	}
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
