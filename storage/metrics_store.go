package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SystemMetrics 进程资源采样
type SystemMetrics struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	ProcessID     int       `json:"process_id"`
}

// DailySystemMetrics 按天汇总
type DailySystemMetrics struct {
	Date          time.Time `json:"date"`
	AvgCPUPercent float64   `json:"avg_cpu_percent"`
	MaxCPUPercent float64   `json:"max_cpu_percent"`
	MinCPUPercent float64   `json:"min_cpu_percent"`
	AvgMemoryMB   float64   `json:"avg_memory_mb"`
	MaxMemoryMB   float64   `json:"max_memory_mb"`
	MinMemoryMB   float64   `json:"min_memory_mb"`
	SampleCount   int       `json:"sample_count"`
}

// MetricsStore 系统监控数据，和日志共用一个 SQLite 库
type MetricsStore struct {
	db *sql.DB
}

// NewMetricsStore 建表
func NewMetricsStore(db *sql.DB) (*MetricsStore, error) {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		cpu_percent REAL NOT NULL,
		memory_mb REAL NOT NULL,
		memory_percent REAL,
		process_id INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_system_metrics_timestamp ON system_metrics(timestamp);
	CREATE TABLE IF NOT EXISTS daily_system_metrics (
		date DATE PRIMARY KEY,
		avg_cpu_percent REAL NOT NULL,
		max_cpu_percent REAL NOT NULL,
		min_cpu_percent REAL NOT NULL,
		avg_memory_mb REAL NOT NULL,
		max_memory_mb REAL NOT NULL,
		min_memory_mb REAL NOT NULL,
		sample_count INTEGER NOT NULL
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("创建系统监控表失败: %w", err)
	}
	return &MetricsStore{db: db}, nil
}

// Save 保存一条采样，时间按 UTC 存储
func (s *MetricsStore) Save(m *SystemMetrics) error {
	_, err := s.db.Exec(`
		INSERT INTO system_metrics (timestamp, cpu_percent, memory_mb, memory_percent, process_id)
		VALUES (?, ?, ?, ?, ?)`,
		m.Timestamp.UTC(), m.CPUPercent, m.MemoryMB, m.MemoryPercent, m.ProcessID)
	if err != nil {
		return fmt.Errorf("保存系统监控数据失败: %w", err)
	}
	return nil
}

// Query [start, end] 内的采样，按时间升序
func (s *MetricsStore) Query(start, end time.Time) ([]*SystemMetrics, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, cpu_percent, memory_mb, memory_percent, process_id
		FROM system_metrics
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("查询系统监控数据失败: %w", err)
	}
	defer rows.Close()

	var out []*SystemMetrics
	for rows.Next() {
		m := &SystemMetrics{}
		var memoryPercent sql.NullFloat64
		var pid sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.CPUPercent, &m.MemoryMB, &memoryPercent, &pid); err != nil {
			continue
		}
		m.MemoryPercent = memoryPercent.Float64
		m.ProcessID = int(pid.Int64)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Aggregate 把 day 当天（UTC）的采样汇总到每日表，重复执行覆盖旧值
func (s *MetricsStore) Aggregate(day time.Time) (*DailySystemMetrics, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	d := &DailySystemMetrics{Date: day}
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(cpu_percent), 0), COALESCE(MAX(cpu_percent), 0), COALESCE(MIN(cpu_percent), 0),
		       COALESCE(AVG(memory_mb), 0), COALESCE(MAX(memory_mb), 0), COALESCE(MIN(memory_mb), 0)
		FROM system_metrics WHERE timestamp >= ? AND timestamp < ?`, day, next).
		Scan(&d.SampleCount, &d.AvgCPUPercent, &d.MaxCPUPercent, &d.MinCPUPercent,
			&d.AvgMemoryMB, &d.MaxMemoryMB, &d.MinMemoryMB)
	if err != nil {
		return nil, fmt.Errorf("汇总系统监控数据失败: %w", err)
	}
	if d.SampleCount == 0 {
		return d, nil
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO daily_system_metrics
		(date, avg_cpu_percent, max_cpu_percent, min_cpu_percent, avg_memory_mb, max_memory_mb, min_memory_mb, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		day.Format(time.DateOnly), d.AvgCPUPercent, d.MaxCPUPercent, d.MinCPUPercent,
		d.AvgMemoryMB, d.MaxMemoryMB, d.MinMemoryMB, d.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("保存每日汇总失败: %w", err)
	}
	return d, nil
}

// QueryDaily 最近 days 天的汇总，按日期升序
func (s *MetricsStore) QueryDaily(days int) ([]*DailySystemMetrics, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.DateOnly)
	rows, err := s.db.Query(`
		SELECT date, avg_cpu_percent, max_cpu_percent, min_cpu_percent,
		       avg_memory_mb, max_memory_mb, min_memory_mb, sample_count
		FROM daily_system_metrics
		WHERE date >= ?
		ORDER BY date ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("查询每日汇总失败: %w", err)
	}
	defer rows.Close()

	var out []*DailySystemMetrics
	for rows.Next() {
		d := &DailySystemMetrics{}
		var date string
		if err := rows.Scan(&date, &d.AvgCPUPercent, &d.MaxCPUPercent, &d.MinCPUPercent,
			&d.AvgMemoryMB, &d.MaxMemoryMB, &d.MinMemoryMB, &d.SampleCount); err != nil {
			continue
		}
		d.Date, _ = time.Parse(time.DateOnly, date[:min(len(date), 10)])
		out = append(out, d)
	}
	return out, rows.Err()
}

// Cleanup 删除 before 之前的细粒度采样，每日汇总保留
func (s *MetricsStore) Cleanup(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM system_metrics WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("清理系统监控数据失败: %w", err)
	}
	return result.RowsAffected()
}
