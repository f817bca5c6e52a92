package metrics

import (
	"runtime"
	"time"
)

// ProcessSampler 进程资源采样（由 monitor 包实现）
type ProcessSampler func() (cpuPercent, memoryMB float64, err error)

// SystemMetricsCollector 系统指标采集器，由定时任务调用 Collect
type SystemMetricsCollector struct {
	pm      *PrometheusMetrics
	sampler ProcessSampler
	lastGC  uint32
}

// NewSystemMetricsCollector 创建系统指标采集器，sampler 可为 nil
func NewSystemMetricsCollector(sampler ProcessSampler) *SystemMetricsCollector {
	return &SystemMetricsCollector{
		pm:      GetPrometheusMetrics(),
		sampler: sampler,
	}
}

// Collect 采集一次
func (smc *SystemMetricsCollector) Collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	smc.pm.SetGoroutineCount(runtime.NumGoroutine())
	smc.pm.SetMemoryAlloc(m.Alloc)

	// PauseNs 是环形缓冲区，只记录上次采集之后新增的 GC
	for gc := smc.lastGC; gc < m.NumGC && m.NumGC-gc <= 256; gc++ {
		if pause := m.PauseNs[gc%256]; pause > 0 {
			smc.pm.RecordGCPause(time.Duration(pause))
		}
	}
	smc.lastGC = m.NumGC

	if smc.sampler != nil {
		if cpu, mem, err := smc.sampler(); err == nil {
			smc.pm.SetProcessUsage(cpu, mem)
		}
	}
}
