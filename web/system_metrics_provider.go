package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"spotfolio/monitor"
	"spotfolio/storage"
)

// SystemMetricsHistory 定时采样的进程资源占用，保留最近 capacity 条
type SystemMetricsHistory struct {
	mu       sync.RWMutex
	capacity int
	samples  []*monitor.SystemMetrics
}

// NewSystemMetricsHistory 默认保留 1440 条（每分钟一次约一天）
func NewSystemMetricsHistory(capacity int) *SystemMetricsHistory {
	if capacity <= 0 {
		capacity = 1440
	}
	return &SystemMetricsHistory{capacity: capacity}
}

// Add 追加一条采样
func (h *SystemMetricsHistory) Add(m *monitor.SystemMetrics) {
	if m == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, m)
	if len(h.samples) > h.capacity {
		h.samples = h.samples[len(h.samples)-h.capacity:]
	}
}

// covers 内存中最早的采样不晚于 start
func (h *SystemMetricsHistory) covers(start time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples) > 0 && !h.samples[0].Timestamp.After(start)
}

// Latest 最近一条，没有时返回 nil
func (h *SystemMetricsHistory) Latest() *monitor.SystemMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.samples) == 0 {
		return nil
	}
	return h.samples[len(h.samples)-1]
}

// Range [start, end] 内的采样，按时间正序
func (h *SystemMetricsHistory) Range(start, end time.Time) []*monitor.SystemMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []*monitor.SystemMetrics{}
	for _, m := range h.samples {
		if m.Timestamp.Before(start) || m.Timestamp.After(end) {
			continue
		}
		out = append(out, m)
	}
	return out
}

var (
	systemMetricsMu sync.RWMutex
	systemMetrics   *SystemMetricsHistory
	metricsStore    *storage.MetricsStore
)

// SetMetricsStore 注入持久化的监控数据，超出内存窗口的查询走这里
func SetMetricsStore(s *storage.MetricsStore) {
	systemMetricsMu.Lock()
	defer systemMetricsMu.Unlock()
	metricsStore = s
}

func getMetricsStore() *storage.MetricsStore {
	systemMetricsMu.RLock()
	defer systemMetricsMu.RUnlock()
	return metricsStore
}

// SetSystemMetricsHistory 注入采样历史
func SetSystemMetricsHistory(h *SystemMetricsHistory) {
	systemMetricsMu.Lock()
	defer systemMetricsMu.Unlock()
	systemMetrics = h
}

func getSystemMetricsHistory() *SystemMetricsHistory {
	systemMetricsMu.RLock()
	defer systemMetricsMu.RUnlock()
	return systemMetrics
}

// getCurrentSystemMetrics 优先用最近采样，没有就实时采集
// GET /api/system/metrics/current
func getCurrentSystemMetrics(c *gin.Context) {
	if h := getSystemMetricsHistory(); h != nil {
		if latest := h.Latest(); latest != nil {
			c.JSON(http.StatusOK, latest)
			return
		}
	}
	m, err := monitor.CollectSystemMetrics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// getSystemMetrics 采样历史，默认最近 1 小时
// GET /api/system/metrics?minutes=60
func getSystemMetrics(c *gin.Context) {
	minutes := queryInt(c, "minutes", 60)
	if minutes <= 0 {
		minutes = 60
	}
	end := time.Now()
	start := end.Add(-time.Duration(minutes) * time.Minute)

	h := getSystemMetricsHistory()
	if h != nil && (h.covers(start) || getMetricsStore() == nil) {
		samples := h.Range(start, end)
		c.JSON(http.StatusOK, gin.H{"metrics": samples, "count": len(samples)})
		return
	}
	if store := getMetricsStore(); store != nil {
		samples, err := store.Query(start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"metrics": samples, "count": len(samples)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": []*monitor.SystemMetrics{}, "count": 0})
}

// getDailySystemMetrics 每日汇总
// GET /api/system/metrics/daily?days=7
func getDailySystemMetrics(c *gin.Context) {
	store := getMetricsStore()
	if store == nil {
		c.JSON(http.StatusOK, gin.H{"metrics": []*storage.DailySystemMetrics{}, "count": 0})
		return
	}
	days := queryInt(c, "days", 7)
	if days <= 0 || days > 365 {
		days = 7
	}
	daily, err := store.QueryDaily(days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": daily, "count": len(daily)})
}
