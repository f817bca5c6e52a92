package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *PrometheusMetrics

	// 交易所 REST 指标
	apiCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotfolio_api_call_total",
			Help: "Total number of exchange API calls",
		},
		[]string{"endpoint", "status"}, // status: none, invalid_symbol, rate_limited, ip_banned, other
	)

	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spotfolio_api_call_duration_seconds",
			Help:    "Exchange API call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"endpoint"},
	)

	apiUsedWeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_api_used_weight",
			Help: "Last reported request weight used in the current window",
		},
	)

	apiOrderCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_api_order_count",
			Help: "Last reported order count",
		},
	)

	apiBackoffTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotfolio_api_backoff_total",
			Help: "Total number of rate-limit backoff sleeps",
		},
		[]string{"operation"},
	)

	// 价格缓存与备用来源
	priceCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotfolio_price_cache_total",
			Help: "Price cache lookups by result",
		},
		[]string{"result"}, // hit, stale, miss
	)

	priceFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotfolio_price_fallback_total",
			Help: "Prices resolved through a fallback source",
		},
		[]string{"source"},
	)

	currentPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotfolio_current_price",
			Help: "Last observed price",
		},
		[]string{"symbol"},
	)

	// 实时价格
	websocketConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_websocket_connected",
			Help: "Shared push connection status (0=disconnected, 1=connected)",
		},
	)

	streamSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotfolio_stream_subscriptions",
			Help: "Active price subscriptions by delivery mode",
		},
		[]string{"mode"}, // streaming, polling
	)

	priceUpdateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotfolio_price_update_total",
			Help: "Delivered price updates",
		},
		[]string{"source"}, // push, poll
	)

	// 持仓
	positionValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotfolio_position_value",
			Help: "Current position value in quote currency",
		},
		[]string{"symbol"},
	)

	positionPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotfolio_position_pnl",
			Help: "Unrealized profit and loss",
		},
		[]string{"symbol"},
	)

	manualFillsCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_manual_fills",
			Help: "Number of stored manual fills",
		},
	)

	// 分布式锁
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotfolio_lock_acquire_total",
			Help: "Total number of lock acquisitions",
		},
		[]string{"key", "status"}, // success, failed
	)

	lockHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spotfolio_lock_hold_duration_seconds",
			Help:    "Lock hold duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"key"},
	)

	// 进程
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	gcPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spotfolio_gc_pause_duration_seconds",
			Help:    "GC pause duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_process_cpu_percent",
			Help: "Process CPU usage percent",
		},
	)

	processMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotfolio_process_memory_mb",
			Help: "Process resident memory in MB",
		},
	)
)

// PrometheusMetrics 指标上报入口
type PrometheusMetrics struct{}

// GetPrometheusMetrics 获取全局实例
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// RecordAPICall 记录一次交易所调用
func (pm *PrometheusMetrics) RecordAPICall(endpoint, status string, duration time.Duration) {
	apiCallTotal.WithLabelValues(endpoint, status).Inc()
	apiCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetRateLimit 记录响应头中的权重
func (pm *PrometheusMetrics) SetRateLimit(usedWeight, orderCount int) {
	apiUsedWeight.Set(float64(usedWeight))
	apiOrderCount.Set(float64(orderCount))
}

// RecordBackoff 记录一次限流退避
func (pm *PrometheusMetrics) RecordBackoff(operation string) {
	apiBackoffTotal.WithLabelValues(operation).Inc()
}

// RecordPriceCache 记录缓存命中情况
func (pm *PrometheusMetrics) RecordPriceCache(result string) {
	priceCacheTotal.WithLabelValues(result).Inc()
}

// RecordPriceFallback 记录备用价格来源
func (pm *PrometheusMetrics) RecordPriceFallback(source string) {
	priceFallbackTotal.WithLabelValues(source).Inc()
}

// SetCurrentPrice 设置最新价格
func (pm *PrometheusMetrics) SetCurrentPrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// SetWebSocketStatus 设置推送连接状态
func (pm *PrometheusMetrics) SetWebSocketStatus(connected bool) {
	if connected {
		websocketConnected.Set(1)
	} else {
		websocketConnected.Set(0)
	}
}

// SetStreamSubscriptions 设置订阅数量
func (pm *PrometheusMetrics) SetStreamSubscriptions(streaming, polling int) {
	streamSubscriptions.WithLabelValues("streaming").Set(float64(streaming))
	streamSubscriptions.WithLabelValues("polling").Set(float64(polling))
}

// RecordPriceUpdate 记录一次价格推送
func (pm *PrometheusMetrics) RecordPriceUpdate(source string) {
	priceUpdateTotal.WithLabelValues(source).Inc()
}

// SetPosition 设置持仓价值与盈亏
func (pm *PrometheusMetrics) SetPosition(symbol string, value, pnl float64) {
	positionValue.WithLabelValues(symbol).Set(value)
	positionPnL.WithLabelValues(symbol).Set(pnl)
}

// SetManualFillsCount 设置手动订单数量
func (pm *PrometheusMetrics) SetManualFillsCount(n int) {
	manualFillsCount.Set(float64(n))
}

// RecordLockAcquire 记录锁获取
func (pm *PrometheusMetrics) RecordLockAcquire(key, status string) {
	lockAcquireTotal.WithLabelValues(key, status).Inc()
}

// RecordLockHoldDuration 记录锁持有时间
func (pm *PrometheusMetrics) RecordLockHoldDuration(key string, duration time.Duration) {
	lockHoldDuration.WithLabelValues(key).Observe(duration.Seconds())
}

// SetGoroutineCount 设置 goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置堆内存
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAllocBytes.Set(float64(bytes))
}

// RecordGCPause 记录 GC 停顿
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	gcPauseDuration.Observe(duration.Seconds())
}

// SetProcessUsage 设置进程 CPU 与内存
func (pm *PrometheusMetrics) SetProcessUsage(cpuPercent, memoryMB float64) {
	processCPUPercent.Set(cpuPercent)
	processMemoryMB.Set(memoryMB)
}
