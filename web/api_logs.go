package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spotfolio/logger"
	"spotfolio/storage"
)

// getLogs 查询日志
// GET /api/logs?start_time=&end_time=&level=&keyword=&limit=&offset=
func getLogs(c *gin.Context) {
	p := getProviders()
	if p.Logs == nil {
		unavailable(c)
		return
	}

	// 默认最近 7 天
	endTime := time.Now()
	startTime := endTime.Add(-7 * 24 * time.Hour)
	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		startTime = t
	}
	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		endTime = t
	}

	limit := queryInt(c, "limit", 100)
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, total, err := p.Logs.GetLogs(storage.LogQueryParams{
		StartTime: startTime,
		EndTime:   endTime,
		Level:     c.Query("level"),
		Keyword:   c.Query("keyword"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		logger.Error("❌ 查询日志失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []*storage.LogRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// cleanLogs 删除 days 天之前的日志
// POST /api/logs/clean?days=30
func cleanLogs(c *gin.Context) {
	p := getProviders()
	if p.Logs == nil {
		unavailable(c)
		return
	}

	days := queryInt(c, "days", 30)
	if days < 1 {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	deleted, err := p.Logs.CleanOldLogs(days)
	if err != nil {
		logger.Error("❌ 清理日志失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Info("🧹 已清理 %d 天前的日志 %d 条", days, deleted)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "days": days})
}
