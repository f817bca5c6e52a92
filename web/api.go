package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"spotfolio/event"
	"spotfolio/exchange"
	"spotfolio/market"
	"spotfolio/order"
	"spotfolio/position"
	"spotfolio/scheduler"
	"spotfolio/storage"
	"spotfolio/stream"
	"spotfolio/utils"
)

// MarketProvider 行情、余额、交易对
type MarketProvider interface {
	GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error)
	CachedPrice(ctx context.Context, symbol string) (market.PricePoint, bool)
	GetSpotBalances(ctx context.Context, minUSDValue float64) []market.Balance
	GetAllTradingPairs(ctx context.Context) []string
	PreferredPairs(ctx context.Context) map[string]string
	SetPreferredPair(ctx context.Context, asset, pair string) (string, error)
	FeeRates(symbol string) exchange.FeeRates
	RefreshSymbolFee(ctx context.Context, symbol string) (exchange.FeeRates, error)
	RateLimit() exchange.RateLimitSnapshot
	ExchangeName() string
}

// OrderProvider 成交历史和手动成交
type OrderProvider interface {
	GetOrderHistory(ctx context.Context, symbol string) *order.History
	GetConsolidatedOrderHistory(ctx context.Context, asset, baseCurrency string) []order.Fill
	GetOpenOrders(ctx context.Context, symbol string) []order.OpenOrder
	AddManualFill(ctx context.Context, in order.ManualFillInput) (order.Fill, error)
	DeleteManualFill(ctx context.Context, symbol string, id int64) error
	ManualFills(symbol string) []order.Fill
	ManualSymbols() []string
}

// PositionProvider 持仓指标
type PositionProvider interface {
	CalculatePositionMetrics(ctx context.Context, symbol string, opts position.Options) *position.Metrics
	CalculateConsolidatedPositionMetrics(ctx context.Context, asset, baseCurrency string) *position.Metrics
}

// MappingProvider 交易对映射
type MappingProvider interface {
	Mappings() map[string]string
	AddMapping(ctx context.Context, invalid, valid string) error
	RemoveMapping(ctx context.Context, invalid string) (bool, error)
}

// PriceStreamProvider 实时价格订阅
type PriceStreamProvider interface {
	Subscribe(symbol string, cb stream.Callback) stream.State
	Unsubscribe(symbol string)
	States() map[string]stream.State
	Connected() bool
}

// EventProvider 最近事件
type EventProvider interface {
	Recent(limit int) []*event.Record
}

// JobProvider 定时任务
type JobProvider interface {
	Status() []scheduler.JobStatus
	RunNow(name string) error
}

// Providers 由 main 注入的全部依赖
type Providers struct {
	Market       MarketProvider
	Orders       OrderProvider
	Positions    PositionProvider
	Mappings     MappingProvider
	Stream       PriceStreamProvider
	Events       EventProvider
	Permissions  exchange.PermissionChecker
	Jobs         JobProvider
	Logs         *storage.LogStorage
	MinUSDValue  float64
	BaseCurrency string // 汇总视图默认基准货币，空时为 USDT
}

var (
	providersMu sync.RWMutex
	providers   = &Providers{}
	startTime   = time.Now()
)

// SetProviders 注入依赖
func SetProviders(p *Providers) {
	if p == nil {
		p = &Providers{}
	}
	providersMu.Lock()
	providers = p
	providersMu.Unlock()
	SetLogStorage(p.Logs)
}

func getProviders() *Providers {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return providers
}

// respondError 返回本地化的错误信息，key 为 i18n 消息 ID
func respondError(c *gin.Context, status int, key string, data ...map[string]interface{}) {
	var td map[string]interface{}
	if len(data) > 0 {
		td = data[0]
	}
	c.JSON(status, gin.H{"error": T(c, key, td), "code": key})
}

// respondExchangeError 按交易所错误类型选择状态码
func respondExchangeError(c *gin.Context, err error, symbol string) {
	td := map[string]interface{}{"Symbol": symbol}
	switch {
	case errors.Is(err, exchange.ErrInvalidSymbol):
		respondError(c, http.StatusNotFound, "invalid_symbol", td)
	case errors.Is(err, exchange.ErrIPBanned):
		body := gin.H{"error": T(c, "ip_banned", td), "code": "ip_banned"}
		if until, ok := exchange.BannedUntil(err); ok {
			body["banned_until"] = until
		}
		c.JSON(http.StatusTeapot, body)
	case errors.Is(err, exchange.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, "rate_limited", td)
	default:
		respondError(c, http.StatusBadGateway, "price_unavailable", td)
	}
}

// baseCurrency ?base= 优先，其次配置
func baseCurrency(c *gin.Context, p *Providers) string {
	base := c.Query("base")
	if base == "" {
		base = p.BaseCurrency
	}
	if base == "" {
		base = "USDT"
	}
	return utils.NormalizeSymbol(base)
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
}

func queryFloat(c *gin.Context, name string, def float64) float64 {
	if v := c.Query(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func queryInt(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getStatus 运行状态
func getStatus(c *gin.Context) {
	p := getProviders()
	status := gin.H{
		"running": true,
		"uptime":  int64(time.Since(startTime).Seconds()),
	}
	if p.Market != nil {
		status["exchange"] = p.Market.ExchangeName()
		status["rate_limit"] = p.Market.RateLimit()
	}
	if p.Stream != nil {
		status["stream_connected"] = p.Stream.Connected()
		status["subscriptions"] = p.Stream.States()
	}
	if p.Orders != nil {
		status["manual_symbols"] = p.Orders.ManualSymbols()
	}
	c.JSON(http.StatusOK, status)
}
