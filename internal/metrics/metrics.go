package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memmap_requests_total",
		Help: "Total number of API requests by route",
	}, []string{"route"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memmap_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	MemoriesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memmap_memories_created_total",
		Help: "Total memories accepted by POST /memories",
	})
	VisitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memmap_visits_total",
		Help: "Visit attempts by outcome (committed, aborted, rejected, deduped)",
	}, []string{"outcome"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memmap_redis_hits_total",
		Help: "Total redis cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memmap_redis_misses_total",
		Help: "Total redis cache misses",
	})
	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memmap_stream_clients",
		Help: "Connected /memories/stream websocket clients",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memmap_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(MemoriesCreatedTotal)
	prometheus.MustRegister(VisitsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(StreamClients)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：在主入口挂载到 /metrics。
func Handler() http.Handler { return promhttp.Handler() }
