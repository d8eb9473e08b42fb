package middleware

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"memory-map/internal/logger"
	"memory-map/internal/metrics"
)

// 文档注释：按来源 IP 的令牌桶限流
// 背景：写接口（创建、访问计数）在峰值时保护数据库；超过速率直接返回 429，不排队。
// 约束：每个来源一个 rate.Limiter，空闲超过 idleTTL 的条目在下次清扫时移除。
type Limiter struct {
	qps     rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*visitor
	lastGC  time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLimiter(qps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(qps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{qps: rate.Limit(qps), burst: burst, idleTTL: 5 * time.Minute, clients: make(map[string]*visitor), lastGC: time.Now()}
}

// Allow：key 通常为来源 IP
func (l *Limiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.lastGC) > l.idleTTL {
		for k, v := range l.clients {
			if now.Sub(v.seen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastGC = now
	}
	v, ok := l.clients[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.qps, l.burst)}
		l.clients[key] = v
	}
	v.seen = now
	l.mu.Unlock()
	return v.lim.AllowN(now, 1)
}

func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, "")
		key := ""
		if ip != nil {
			key = ip.String()
		}
		if !l.Allow(key) {
			metrics.RateLimitedTotal.Inc()
			logger.L().Debug("rate_limited", "ip", key, "path", r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap：按环境变量组装入口中间件（写入白名单 + 限流）
// 环境变量：RATE_LIMIT_ENABLED=true 开启限流，RATE_LIMIT_QPS 默认 20，RATE_LIMIT_BURST 默认等于 QPS
func Wrap(next http.Handler) http.Handler {
	h := NewWriteGateFromEnv(logger.L()).Wrap(next)
	if os.Getenv("RATE_LIMIT_ENABLED") != "true" {
		return h
	}
	qps := 20.0
	if s := os.Getenv("RATE_LIMIT_QPS"); s != "" {
		if n, e := strconv.ParseFloat(s, 64); e == nil && n > 0 {
			qps = n
		}
	}
	burst := 0
	if s := os.Getenv("RATE_LIMIT_BURST"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			burst = n
		}
	}
	logger.L().Info("rate_limit_enabled", "qps", qps, "burst", burst)
	return NewLimiter(qps, burst).Wrap(h)
}
