package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spotfolio/utils"
)

// getPrice GET /api/price/:symbol?cache=false|only
// cache=only 只读缓存，不访问交易所
func getPrice(c *gin.Context) {
	p := getProviders()
	if p.Market == nil {
		unavailable(c)
		return
	}
	symbol := utils.NormalizeSymbol(c.Param("symbol"))
	mode := c.DefaultQuery("cache", "true")

	if mode == "only" {
		point, ok := p.Market.CachedPrice(c.Request.Context(), symbol)
		if !ok {
			respondError(c, http.StatusNotFound, "price_not_cached", map[string]interface{}{"Symbol": symbol})
			return
		}
		c.JSON(http.StatusOK, point)
		return
	}
	useCache := mode != "false"

	price, err := p.Market.GetPrice(c.Request.Context(), symbol, useCache)
	if err != nil {
		respondExchangeError(c, err, symbol)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

// getBalances GET /api/balances?min_usd=1
func getBalances(c *gin.Context) {
	p := getProviders()
	if p.Market == nil {
		unavailable(c)
		return
	}
	minUSD := queryFloat(c, "min_usd", p.MinUSDValue)
	balances := p.Market.GetSpotBalances(c.Request.Context(), minUSD)

	total := 0.0
	for _, b := range balances {
		total += b.USDValue
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances, "total_usd": total})
}

// getTradingPairs GET /api/pairs
func getTradingPairs(c *gin.Context) {
	p := getProviders()
	if p.Market == nil {
		unavailable(c)
		return
	}
	pairs := p.Market.GetAllTradingPairs(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"pairs": pairs, "count": len(pairs)})
}

// getFees GET /api/fees?symbol=BTCUSDT&refresh=true
func getFees(c *gin.Context) {
	p := getProviders()
	if p.Market == nil {
		unavailable(c)
		return
	}
	symbol := utils.NormalizeSymbol(c.Query("symbol"))
	if symbol != "" && c.Query("refresh") == "true" {
		fees, err := p.Market.RefreshSymbolFee(c.Request.Context(), symbol)
		if err != nil {
			respondExchangeError(c, err, symbol)
			return
		}
		c.JSON(http.StatusOK, fees)
		return
	}
	c.JSON(http.StatusOK, p.Market.FeeRates(symbol))
}

// getPreferences GET /api/preferences
func getPreferences(c *gin.Context) {
	p := getProviders()
	if p.Market == nil {
		unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferred_pairs": p.Market.PreferredPairs(c.Request.Context())})
}

type preferredPairRequest struct {
	Asset string `json:"asset"`
	Pair  string `json:"pair" binding:"required"`
}

// setPreferredPair POST /api/preferences/pair
func setPreferredPair(c *gin.Context) {
	p := getProviders()
	if p.Market == nil {
		unavailable(c)
		return
	}
	var req preferredPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	asset, err := p.Market.SetPreferredPair(c.Request.Context(), req.Asset, req.Pair)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "pair": utils.NormalizeSymbol(req.Pair)})
}
