package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/metrics"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"
)

// Options 适配器选项
type Options struct {
	APIKey          string
	SecretKey       string
	Testnet         bool
	RequestInterval time.Duration // 两次请求最小间隔，0 表示不限速
	RequestBurst    int
	RateLimit       *exchange.RateLimitState // 可为 nil
}

// BinanceAdapter 币安现货只读适配器
type BinanceAdapter struct {
	client  *binance.Client
	limiter *rate.Limiter
}

var _ exchange.ExchangeAPI = (*BinanceAdapter)(nil)

// NewBinanceAdapter 创建币安现货适配器
func NewBinanceAdapter(opts Options) (*BinanceAdapter, error) {
	if opts.APIKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}

	// 必须在创建客户端之前设置
	binance.UseTestnet = opts.Testnet
	if opts.Testnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}

	client := binance.NewClient(opts.APIKey, opts.SecretKey)
	client.HTTPClient = &http.Client{
		Transport: &exchange.HeaderTracker{Next: http.DefaultTransport, State: opts.RateLimit},
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestInterval > 0 {
		burst := opts.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(opts.RequestInterval), burst)
	}

	return &BinanceAdapter{client: client, limiter: limiter}, nil
}

// GetName 获取交易所名称
func (b *BinanceAdapter) GetName() string {
	return "Binance"
}

// SyncServerTime 同步服务器时间，避免 -1021 时间戳错误
func (b *BinanceAdapter) SyncServerTime(ctx context.Context) error {
	if _, err := b.client.NewSetServerTimeService().Do(ctx); err != nil {
		return fmt.Errorf("同步服务器时间失败: %w", err)
	}
	return nil
}

// call 统一处理限速、指标和错误分类
func (b *BinanceAdapter) call(ctx context.Context, endpoint string, fn func() error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("等待限速器失败: %w", err)
	}

	start := time.Now()
	err := classify(fn())
	metrics.GetPrometheusMetrics().RecordAPICall(endpoint, exchange.ErrorKind(err), time.Since(start))

	if err != nil && exchange.IsIPBanned(err) {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && !apiErr.BannedUntil.IsZero() {
			logger.Error("❌ [Binance] IP 被封禁直到 %s", apiErr.BannedUntil.Format(time.RFC3339))
		}
	}
	return err
}

// classify 把 go-binance 的错误转换为带类别的 APIError
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return exchange.NewAPIError(apiErr.Code, apiErr.Message)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "banned until"):
		return exchange.NewAPIError(exchange.CodeTooManyRequests, msg)
	case strings.Contains(msg, "status code: 418"):
		return exchange.NewAPIError(exchange.CodeIPBanned, msg)
	case strings.Contains(msg, "status code: 429"), strings.Contains(msg, "Way too many requests"):
		return exchange.NewAPIError(exchange.CodeTooManyRequests, msg)
	}
	return err
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// parsePrice 价格字段必须为正数
func parsePrice(symbol, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 价格失败: %w", symbol, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s 价格无效: %s", symbol, s)
	}
	return v, nil
}

// GetAccount 获取现货账户
func (b *BinanceAdapter) GetAccount(ctx context.Context) (*exchange.Account, error) {
	var acc *binance.Account
	err := b.call(ctx, "account", func() (err error) {
		acc, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}

	out := &exchange.Account{
		MakerFee:    float64(acc.MakerCommission) / 10000,
		TakerFee:    float64(acc.TakerCommission) / 10000,
		CanTrade:    acc.CanTrade,
		CanWithdraw: acc.CanWithdraw,
		CanDeposit:  acc.CanDeposit,
		UpdateTime:  int64(acc.UpdateTime),
	}
	for _, bal := range acc.Balances {
		free, locked := parseFloat(bal.Free), parseFloat(bal.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out.Balances = append(out.Balances, exchange.Balance{Asset: bal.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

func convertOrder(o *binance.Order) *exchange.Order {
	return &exchange.Order{
		Symbol:              o.Symbol,
		OrderID:             o.OrderID,
		Side:                exchange.Side(o.Side),
		Status:              exchange.OrderStatus(o.Status),
		Price:               parseFloat(o.Price),
		OrigQty:             parseFloat(o.OrigQuantity),
		ExecutedQty:         parseFloat(o.ExecutedQuantity),
		CummulativeQuoteQty: parseFloat(o.CummulativeQuoteQuantity),
		Time:                o.Time,
		UpdateTime:          o.UpdateTime,
	}
}

// GetAllOrders 获取历史订单，limit<=0 时使用交易所默认值
func (b *BinanceAdapter) GetAllOrders(ctx context.Context, symbol string, limit int) ([]*exchange.Order, error) {
	var orders []*binance.Order
	err := b.call(ctx, "all_orders", func() (err error) {
		svc := b.client.NewListOrdersService().Symbol(symbol)
		if limit > 0 {
			svc = svc.Limit(limit)
		}
		orders, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("获取 %s 历史订单失败: %w", symbol, err)
	}

	out := make([]*exchange.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, convertOrder(o))
	}
	return out, nil
}

// GetOpenOrders 获取挂单
func (b *BinanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	var orders []*binance.Order
	err := b.call(ctx, "open_orders", func() (err error) {
		orders, err = b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("获取 %s 挂单失败: %w", symbol, err)
	}

	out := make([]*exchange.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, convertOrder(o))
	}
	return out, nil
}

// GetExchangeInfo 获取交易对列表
func (b *BinanceAdapter) GetExchangeInfo(ctx context.Context) (*exchange.ExchangeInfo, error) {
	var info *binance.ExchangeInfo
	err := b.call(ctx, "exchange_info", func() (err error) {
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("获取交易所信息失败: %w", err)
	}

	out := &exchange.ExchangeInfo{Symbols: make([]exchange.SymbolInfo, 0, len(info.Symbols))}
	for _, s := range info.Symbols {
		out.Symbols = append(out.Symbols, exchange.SymbolInfo{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		})
	}
	return out, nil
}

// GetTradeFee 获取交易对费率
func (b *BinanceAdapter) GetTradeFee(ctx context.Context, symbol string) (*exchange.TradeFee, error) {
	var fees []*binance.TradeFeeDetails
	err := b.call(ctx, "trade_fee", func() (err error) {
		fees, err = b.client.NewTradeFeeService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("获取 %s 费率失败: %w", symbol, err)
	}
	for _, f := range fees {
		if f.Symbol == symbol {
			return &exchange.TradeFee{
				Symbol:   symbol,
				MakerFee: parseFloat(f.MakerCommission),
				TakerFee: parseFloat(f.TakerCommission),
			}, nil
		}
	}
	return nil, fmt.Errorf("未返回 %s 的费率", symbol)
}

// GetSymbolTicker 获取最新价
func (b *BinanceAdapter) GetSymbolTicker(ctx context.Context, symbol string) (float64, error) {
	var prices []*binance.SymbolPrice
	err := b.call(ctx, "ticker_price", func() (err error) {
		prices, err = b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("获取 %s 价格失败: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parsePrice(symbol, p.Price)
		}
	}
	return 0, fmt.Errorf("未返回 %s 的价格", symbol)
}

// ListPrices 获取全市场最新价
func (b *BinanceAdapter) ListPrices(ctx context.Context) (map[string]float64, error) {
	var prices []*binance.SymbolPrice
	err := b.call(ctx, "ticker_price_all", func() (err error) {
		prices, err = b.client.NewListPricesService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("获取全部价格失败: %w", err)
	}

	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		if v := parseFloat(p.Price); v > 0 {
			out[p.Symbol] = v
		}
	}
	return out, nil
}

// Get24hTicker 24 小时行情的最新成交价
func (b *BinanceAdapter) Get24hTicker(ctx context.Context, symbol string) (float64, error) {
	var stats []*binance.PriceChangeStats
	err := b.call(ctx, "ticker_24hr", func() (err error) {
		stats, err = b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("获取 %s 24小时行情失败: %w", symbol, err)
	}
	if len(stats) == 0 {
		return 0, fmt.Errorf("未返回 %s 的24小时行情", symbol)
	}
	return parsePrice(symbol, stats[0].LastPrice)
}

// GetAveragePrice 当前均价
func (b *BinanceAdapter) GetAveragePrice(ctx context.Context, symbol string) (float64, error) {
	var avg *binance.AvgPrice
	err := b.call(ctx, "avg_price", func() (err error) {
		avg, err = b.client.NewAveragePriceService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("获取 %s 均价失败: %w", symbol, err)
	}
	return parsePrice(symbol, avg.Price)
}

// GetRecentTrade 最近一笔成交价
func (b *BinanceAdapter) GetRecentTrade(ctx context.Context, symbol string) (float64, error) {
	var trades []*binance.Trade
	err := b.call(ctx, "recent_trades", func() (err error) {
		trades, err = b.client.NewRecentTradesService().Symbol(symbol).Limit(1).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("获取 %s 最近成交失败: %w", symbol, err)
	}
	if len(trades) == 0 {
		return 0, fmt.Errorf("%s 没有最近成交", symbol)
	}
	return parsePrice(symbol, trades[0].Price)
}

// GetLatestKlineClose 最近 1 分钟 K 线收盘价
func (b *BinanceAdapter) GetLatestKlineClose(ctx context.Context, symbol string) (float64, error) {
	var klines []*binance.Kline
	err := b.call(ctx, "klines", func() (err error) {
		klines, err = b.client.NewKlinesService().Symbol(symbol).Interval("1m").Limit(1).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("获取 %s K线失败: %w", symbol, err)
	}
	if len(klines) == 0 {
		return 0, fmt.Errorf("%s 没有K线数据", symbol)
	}
	return parsePrice(symbol, klines[0].Close)
}

// CheckAPIPermissions 通过账户接口返回的权限位判断密钥权限
func (b *BinanceAdapter) CheckAPIPermissions(ctx context.Context) (*exchange.APIPermissions, error) {
	acc, err := b.GetAccount(ctx)
	if err != nil {
		return nil, err
	}

	permissions := &exchange.APIPermissions{
		CanRead:     true, // 能读取账户就说明有读权限
		CanTrade:    acc.CanTrade,
		CanWithdraw: acc.CanWithdraw,
		CanDeposit:  acc.CanDeposit,
	}
	permissions.CalculateSecurityScore()

	logger.Info("🔐 [Binance] API 权限检测完成: 交易=%v, 提现=%v, 安全评分=%d, 风险等级=%s",
		permissions.CanTrade, permissions.CanWithdraw, permissions.SecurityScore, permissions.RiskLevel)
	return permissions, nil
}
