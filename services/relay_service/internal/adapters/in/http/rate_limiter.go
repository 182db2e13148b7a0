package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// tokenBucket 令牌桶，每秒持续补充 rate 个令牌，上限 capacity
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	rate       float64
	lastRefill time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

// IPRateLimiter 每个客户端 IP 一个令牌桶，防止升级和查询请求风暴
type IPRateLimiter struct {
	rate    float64
	burst   float64
	buckets sync.Map // ip -> *tokenBucket
	now     func() time.Time
}

func NewIPRateLimiter(ratePerSecond float64, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{rate: ratePerSecond, burst: float64(burst), now: time.Now}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	now := l.now()
	if b, ok := l.buckets.Load(ip); ok {
		return b.(*tokenBucket).allow(now)
	}
	fresh := &tokenBucket{capacity: l.burst, tokens: l.burst, rate: l.rate, lastRefill: now}
	b, _ := l.buckets.LoadOrStore(ip, fresh)
	return b.(*tokenBucket).allow(now)
}

// Sweep 清理空闲超过 idle 的桶，被清理的桶再次使用时是满的
func (l *IPRateLimiter) Sweep(idle time.Duration) int {
	now := l.now()
	n := 0
	l.buckets.Range(func(key, value any) bool {
		if value.(*tokenBucket).idleSince(now) > idle {
			l.buckets.Delete(key)
			n++
		}
		return true
	})
	return n
}

func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
