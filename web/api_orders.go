package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"spotfolio/order"
	"spotfolio/utils"
)

// getOrderHistory GET /api/history/:symbol
func getOrderHistory(c *gin.Context) {
	p := getProviders()
	if p.Orders == nil {
		unavailable(c)
		return
	}
	c.JSON(http.StatusOK, p.Orders.GetOrderHistory(c.Request.Context(), c.Param("symbol")))
}

// getConsolidatedHistory GET /api/consolidated/history/:asset?base=USDT
func getConsolidatedHistory(c *gin.Context) {
	p := getProviders()
	if p.Orders == nil {
		unavailable(c)
		return
	}
	asset := utils.NormalizeSymbol(c.Param("asset"))
	base := baseCurrency(c, p)
	fills := p.Orders.GetConsolidatedOrderHistory(c.Request.Context(), asset, base)
	c.JSON(http.StatusOK, gin.H{"asset": asset, "base_currency": base, "fills": fills, "count": len(fills)})
}

// getOpenOrders GET /api/open-orders/:symbol
func getOpenOrders(c *gin.Context) {
	p := getProviders()
	if p.Orders == nil {
		unavailable(c)
		return
	}
	orders := p.Orders.GetOpenOrders(c.Request.Context(), c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// listManualFills GET /api/manual?symbol=
func listManualFills(c *gin.Context) {
	p := getProviders()
	if p.Orders == nil {
		unavailable(c)
		return
	}
	if symbol := c.Query("symbol"); symbol != "" {
		c.JSON(http.StatusOK, gin.H{"fills": p.Orders.ManualFills(symbol)})
		return
	}
	all := map[string][]order.Fill{}
	for _, s := range p.Orders.ManualSymbols() {
		all[s] = p.Orders.ManualFills(s)
	}
	c.JSON(http.StatusOK, gin.H{"fills": all})
}

// addManualFill POST /api/manual
func addManualFill(c *gin.Context) {
	p := getProviders()
	if p.Orders == nil {
		unavailable(c)
		return
	}
	var in order.ManualFillInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	fill, err := p.Orders.AddManualFill(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, order.ErrInvalidManualFill) {
			respondError(c, http.StatusBadRequest, "invalid_manual_fill", map[string]interface{}{"Reason": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, fill)
}

// deleteManualFill DELETE /api/manual/:symbol/:id
func deleteManualFill(c *gin.Context) {
	p := getProviders()
	if p.Orders == nil {
		unavailable(c)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := p.Orders.DeleteManualFill(c.Request.Context(), c.Param("symbol"), id); err != nil {
		if errors.Is(err, order.ErrManualFillNotFound) {
			respondError(c, http.StatusNotFound, "manual_fill_not_found", map[string]interface{}{"ID": id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
