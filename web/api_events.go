package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spotfolio/event"
)

// handleGetEvents 事件中心保留的最近事件，新的在前
// GET /api/events?limit=&type=&severity=
func handleGetEvents(c *gin.Context) {
	p := getProviders()
	if p.Events == nil {
		unavailable(c)
		return
	}

	limit := queryInt(c, "limit", 100)
	typ := c.Query("type")
	severity := c.Query("severity")

	// 先取全部再过滤，保证过滤后仍能拿满 limit 条
	records := p.Events.Recent(0)
	out := make([]*event.Record, 0, len(records))
	for _, r := range records {
		if typ != "" && string(r.Type) != typ {
			continue
		}
		if severity != "" && string(r.Severity) != severity {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": out,
		"count":  len(out),
	})
}

// handleGetEventStats 按严重程度和类型计数
// GET /api/events/stats
func handleGetEventStats(c *gin.Context) {
	p := getProviders()
	if p.Events == nil {
		unavailable(c)
		return
	}

	bySeverity := map[string]int{}
	byType := map[string]int{}
	records := p.Events.Recent(0)
	for _, r := range records {
		bySeverity[string(r.Severity)]++
		byType[string(r.Type)]++
	}
	c.JSON(http.StatusOK, gin.H{
		"total":       len(records),
		"by_severity": bySeverity,
		"by_type":     byType,
	})
}

func registerEventRoutes(r *gin.RouterGroup) {
	events := r.Group("/events")
	{
		events.GET("", handleGetEvents)
		events.GET("/stats", handleGetEventStats)
	}
}
