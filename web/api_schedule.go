package web

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"spotfolio/scheduler"
)

// getSchedule GET /api/schedule
func getSchedule(c *gin.Context) {
	p := getProviders()
	if p.Jobs == nil {
		unavailable(c)
		return
	}
	jobs := p.Jobs.Status()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// runJob POST /api/schedule/:name/run 同步执行，任务失败时返回 500 和错误信息
func runJob(c *gin.Context) {
	p := getProviders()
	if p.Jobs == nil {
		unavailable(c)
		return
	}
	name := c.Param("name")
	err := p.Jobs.RunNow(name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		respondError(c, http.StatusNotFound, "job_not_found", map[string]interface{}{"Name": name})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "job": name})
	default:
		c.JSON(http.StatusOK, gin.H{"job": name, "success": true})
	}
}
