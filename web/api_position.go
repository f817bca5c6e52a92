package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"spotfolio/position"
	"spotfolio/utils"
)

// getPosition GET /api/positions/:symbol?orders=1,2&price=123
func getPosition(c *gin.Context) {
	p := getProviders()
	if p.Positions == nil {
		unavailable(c)
		return
	}

	var opts position.Options
	if raw := c.Query("orders"); raw != "" {
		opts.IncludeOrderIDs = []int64{}
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				respondError(c, http.StatusBadRequest, "invalid_request")
				return
			}
			opts.IncludeOrderIDs = append(opts.IncludeOrderIDs, id)
		}
	}
	if raw := c.Query("price"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price < 0 {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		opts.ManualPrice = &price
	}

	c.JSON(http.StatusOK, p.Positions.CalculatePositionMetrics(c.Request.Context(), c.Param("symbol"), opts))
}

// getConsolidatedPosition GET /api/consolidated/positions/:asset?base=USDT
func getConsolidatedPosition(c *gin.Context) {
	p := getProviders()
	if p.Positions == nil {
		unavailable(c)
		return
	}
	base := baseCurrency(c, p)
	c.JSON(http.StatusOK, p.Positions.CalculateConsolidatedPositionMetrics(c.Request.Context(), c.Param("asset"), base))
}

// getPortfolioSummary GET /api/portfolio?assets=BTC,ETH&base=USDT
// 未指定 assets 时使用当前余额中的非稳定币
func getPortfolioSummary(c *gin.Context) {
	p := getProviders()
	if p.Positions == nil {
		unavailable(c)
		return
	}
	ctx := c.Request.Context()
	base := baseCurrency(c, p)

	var assets []string
	if raw := c.Query("assets"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = utils.NormalizeSymbol(a); a != "" {
				assets = append(assets, a)
			}
		}
	} else if p.Market != nil {
		for _, b := range p.Market.GetSpotBalances(ctx, p.MinUSDValue) {
			if !utils.IsStableCoin(b.Asset) {
				assets = append(assets, b.Asset)
			}
		}
	}

	positions := make([]*position.Metrics, 0, len(assets))
	for _, asset := range assets {
		positions = append(positions, p.Positions.CalculateConsolidatedPositionMetrics(ctx, asset, base))
	}
	c.JSON(http.StatusOK, gin.H{
		"base_currency": base,
		"positions":     positions,
		"summary":       position.Summarize(positions),
	})
}
