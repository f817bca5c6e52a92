package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spotfolio/utils"
)

// getMappings GET /api/mappings
func getMappings(c *gin.Context) {
	p := getProviders()
	if p.Mappings == nil {
		unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": p.Mappings.Mappings()})
}

type mappingRequest struct {
	Invalid string `json:"invalid_symbol" binding:"required"`
	Valid   string `json:"valid_symbol" binding:"required"`
}

// addMapping POST /api/mappings
func addMapping(c *gin.Context) {
	p := getProviders()
	if p.Mappings == nil {
		unavailable(c)
		return
	}
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := p.Mappings.AddMapping(c.Request.Context(), req.Invalid, req.Valid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invalid_symbol": utils.NormalizeSymbol(req.Invalid),
		"valid_symbol":   utils.NormalizeSymbol(req.Valid),
	})
}

// removeMapping DELETE /api/mappings/:symbol
func removeMapping(c *gin.Context) {
	p := getProviders()
	if p.Mappings == nil {
		unavailable(c)
		return
	}
	removed, err := p.Mappings.RemoveMapping(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "mapping not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": utils.NormalizeSymbol(c.Param("symbol"))})
}
