package web

import (
	"net/http/pprof"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine) {
	// Prometheus 抓取端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pprofGroup := r.Group("/debug/pprof")
	{
		pprofGroup.GET("/", gin.WrapF(pprof.Index))
		pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
		pprofGroup.POST("/symbol", gin.WrapF(pprof.Symbol))
		pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
		pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
		pprofGroup.GET("/allocs", gin.WrapH(pprof.Handler("allocs")))
		pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	}

	api := r.Group("/api")
	{
		api.GET("/status", getStatus)

		// 行情与账户
		api.GET("/price/:symbol", getPrice)
		api.GET("/balances", getBalances)
		api.GET("/pairs", getTradingPairs)
		api.GET("/fees", getFees)
		api.GET("/preferences", getPreferences)
		api.POST("/preferences/pair", setPreferredPair)

		// 成交历史
		api.GET("/history/:symbol", getOrderHistory)
		api.GET("/open-orders/:symbol", getOpenOrders)

		// 持仓
		api.GET("/positions/:symbol", getPosition)
		api.GET("/portfolio", getPortfolioSummary)

		consolidated := api.Group("/consolidated")
		{
			consolidated.GET("/history/:asset", getConsolidatedHistory)
			consolidated.GET("/positions/:asset", getConsolidatedPosition)
		}

		// 手动成交
		api.GET("/manual", listManualFills)
		api.POST("/manual", addManualFill)
		api.DELETE("/manual/:symbol/:id", deleteManualFill)

		// 交易对映射
		api.GET("/mappings", getMappings)
		api.POST("/mappings", addMapping)
		api.DELETE("/mappings/:symbol", removeMapping)

		api.GET("/permissions/check", getAPIPermissions)

		registerEventRoutes(api)

		api.GET("/logs", getLogs)
		api.POST("/logs/clean", cleanLogs)

		api.GET("/system/metrics", getSystemMetrics)
		api.GET("/system/metrics/current", getCurrentSystemMetrics)
		api.GET("/system/metrics/daily", getDailySystemMetrics)
		api.GET("/schedule", getSchedule)
		api.POST("/schedule/:name/run", runJob)

		api.GET("/config", getConfigHandler)
		api.GET("/config/json", getConfigJSONHandler)
		api.POST("/config/validate", validateConfigHandler)
		api.POST("/config/preview", previewConfigHandler)
		api.POST("/config/update", updateConfigHandler)
	}

	r.GET("/ws", handleWebSocket)
}
