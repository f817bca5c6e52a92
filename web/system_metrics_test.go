package web

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"spotfolio/monitor"
	"spotfolio/storage"
)

func TestSystemMetricsHistoryRing(t *testing.T) {
	h := NewSystemMetricsHistory(2)
	base := time.Now()
	for i := 0; i < 3; i++ {
		h.Add(&monitor.SystemMetrics{Timestamp: base.Add(time.Duration(i) * time.Minute), Goroutines: i})
	}
	if got := h.Latest(); got == nil || got.Goroutines != 2 {
		t.Errorf("最新采样错误: %+v", got)
	}
	if got := h.Range(base, base.Add(time.Hour)); len(got) != 2 || got[0].Goroutines != 1 {
		t.Errorf("超出容量应丢弃最早的采样: %+v", got)
	}
	if h.covers(base) {
		t.Error("最早采样已被丢弃，不应覆盖 base")
	}
}

func TestSystemMetricsFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)

	ls, err := storage.NewLogStorage(filepath.Join(t.TempDir(), "logs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ls.Close()
	store, err := storage.NewMetricsStore(ls.DB())
	if err != nil {
		t.Fatal(err)
	}
	store.Save(&storage.SystemMetrics{Timestamp: time.Now().Add(-30 * time.Minute), CPUPercent: 12})

	// 内存里只有刚采的一条，覆盖不到一小时前
	h := NewSystemMetricsHistory(0)
	h.Add(&monitor.SystemMetrics{Timestamp: time.Now(), CPUPercent: 1})
	SetSystemMetricsHistory(h)
	SetMetricsStore(store)
	defer func() {
		SetSystemMetricsHistory(nil)
		SetMetricsStore(nil)
	}()

	w := env.do(t, http.MethodGet, "/api/system/metrics?minutes=60", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}
	var resp struct {
		Metrics []storage.SystemMetrics `json:"metrics"`
		Count   int                     `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Metrics[0].CPUPercent != 12 {
		t.Errorf("应从持久化存储读取: %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/system/metrics/daily?days=7", nil)
	if w.Code != http.StatusOK {
		t.Errorf("每日汇总状态码错误: %d", w.Code)
	}
}
