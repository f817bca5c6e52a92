package position

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/metrics"
	"spotfolio/order"
	"spotfolio/utils"
)

// OrderSource 成交来源
type OrderSource interface {
	GetOrderHistory(ctx context.Context, symbol string) *order.History
	GetConsolidatedOrderHistory(ctx context.Context, asset, baseCurrency string) []order.Fill
	GetOpenOrders(ctx context.Context, symbol string) []order.OpenOrder
}

// PriceSource 当前价格来源
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error)
}

// FeeSource 手续费费率来源
type FeeSource interface {
	FeeRates(symbol string) exchange.FeeRates
}

// SymbolResolver 交易对映射
type SymbolResolver interface {
	Resolve(symbol string) string
}

// Metrics 持仓指标，每次按需计算，不持久化
type Metrics struct {
	Symbol         string            `json:"symbol,omitempty"`
	Asset          string            `json:"asset,omitempty"`
	BaseCurrency   string            `json:"base_currency,omitempty"`
	CurrentPrice   float64           `json:"current_price"`
	Holdings       float64           `json:"holdings"`
	Available      float64           `json:"available"`
	Locked         float64           `json:"locked"`
	OpenOrders     []order.OpenOrder `json:"open_orders,omitempty"`
	AvgBuyPrice    float64           `json:"avg_buy_price"`
	BreakEvenPrice float64           `json:"break_even_price"`
	TotalCost      float64           `json:"total_cost"`
	TotalFees      float64           `json:"total_fees"`
	CurrentValue   float64           `json:"current_value"`
	PnLAmount      float64           `json:"pnl_amount"`
	PnLPercent     float64           `json:"pnl_percent"`
	OrderCount     int               `json:"order_count"`
	TradingPairs   []string          `json:"trading_pairs,omitempty"`
	IsManual       bool              `json:"is_manual"`
	MappedSymbol   string            `json:"mapped_symbol,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Options 单交易对计算选项
type Options struct {
	IncludeOrderIDs []int64  // 为 nil 时使用全部成交
	ManualPrice     *float64 // 手动指定当前价
}

// Service 持仓指标计算入口，错误和 panic 都转为带 Error 的零值指标
type Service struct {
	orders   OrderSource
	prices   PriceSource
	fees     FeeSource
	resolver SymbolResolver
}

// NewService 创建服务，fees 和 resolver 可以为 nil
func NewService(orders OrderSource, prices PriceSource, fees FeeSource, resolver SymbolResolver) *Service {
	return &Service{orders: orders, prices: prices, fees: fees, resolver: resolver}
}

func (s *Service) feeRates(symbol string) exchange.FeeRates {
	if s.fees == nil {
		return exchange.FeeRates{Maker: 0.001, Taker: 0.001}
	}
	return s.fees.FeeRates(symbol)
}

func (s *Service) resolve(symbol string) string {
	if s.resolver == nil {
		return symbol
	}
	return s.resolver.Resolve(symbol)
}

// CalculatePositionMetrics 单交易对持仓指标
func (s *Service) CalculatePositionMetrics(ctx context.Context, symbol string, opts Options) (m *Metrics) {
	symbol = utils.NormalizeSymbol(symbol)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ 计算 %s 持仓指标时发生异常: %v", symbol, r)
			m = &Metrics{Symbol: symbol, Error: fmt.Sprintf("%v: %v", ErrComputation, r)}
		}
	}()

	m, err := s.positionMetrics(ctx, symbol, opts)
	if err != nil {
		logger.Error("❌ 计算 %s 持仓指标失败: %v", symbol, err)
		return &Metrics{Symbol: symbol, Error: err.Error()}
	}
	metrics.GetPrometheusMetrics().SetPosition(symbol, m.CurrentValue, m.PnLAmount)
	return m
}

func (s *Service) positionMetrics(ctx context.Context, symbol string, opts Options) (*Metrics, error) {
	history := s.orders.GetOrderHistory(ctx, symbol)
	fills := history.Fills
	isManual := history.ManualOnly || allManual(fills)

	if opts.IncludeOrderIDs != nil {
		fills = filterFills(fills, opts.IncludeOrderIDs)
	}

	open := s.orders.GetOpenOrders(ctx, symbol)
	locked := LockedQuantity(open)

	rates := s.feeRates(symbol)
	totals, err := Aggregate(fills, rates)
	if err != nil {
		return nil, err
	}

	mapped := s.resolve(symbol)
	var price float64
	if opts.ManualPrice != nil {
		price = *opts.ManualPrice
		isManual = true
	} else {
		price, err = s.prices.GetPrice(ctx, mapped, true)
		if err != nil {
			if !errors.Is(err, exchange.ErrInvalidSymbol) {
				return nil, fmt.Errorf("获取 %s 当前价格失败: %w", mapped, err)
			}
			logger.Warn("⚠️ %s 无法获取当前价格，按 0 计算", symbol)
			price = 0
		}
	}

	m := build(fills, totals, rates, price)
	m.Symbol = symbol
	m.Locked = locked
	m.Available = totals.TotalQty - locked
	m.OpenOrders = open
	m.IsManual = isManual
	if mapped != symbol {
		m.MappedSymbol = mapped
	}
	return m, nil
}

// CalculateConsolidatedPositionMetrics 资产在所有交易对上的汇总指标，金额折算为 baseCurrency
func (s *Service) CalculateConsolidatedPositionMetrics(ctx context.Context, asset, baseCurrency string) (m *Metrics) {
	asset = utils.NormalizeSymbol(asset)
	baseCurrency = utils.NormalizeSymbol(baseCurrency)
	if baseCurrency == "" {
		baseCurrency = "USDT"
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ 计算 %s 汇总持仓时发生异常: %v", asset, r)
			m = &Metrics{Asset: asset, BaseCurrency: baseCurrency, Error: fmt.Sprintf("%v: %v", ErrComputation, r)}
		}
	}()

	fills := s.orders.GetConsolidatedOrderHistory(ctx, asset, baseCurrency)
	rates := s.feeRates(asset + baseCurrency)
	totals, err := Aggregate(fills, rates)
	if err != nil {
		logger.Error("❌ 计算 %s 汇总持仓失败: %v", asset, err)
		return &Metrics{Asset: asset, BaseCurrency: baseCurrency, Error: err.Error()}
	}

	m = build(fills, totals, rates, s.consolidatedPrice(ctx, asset, baseCurrency, fills))
	m.Asset = asset
	m.BaseCurrency = baseCurrency
	m.Available = m.Holdings
	m.TradingPairs = tradingPairs(fills)
	m.IsManual = len(fills) > 0 && allManual(fills)
	metrics.GetPrometheusMetrics().SetPosition(asset+baseCurrency, m.CurrentValue, m.PnLAmount)
	return m
}

// consolidatedPrice 直接交易对、经 BTC 折算、最近一笔成交的折算价，依次尝试
func (s *Service) consolidatedPrice(ctx context.Context, asset, base string, fills []order.Fill) float64 {
	if asset == base {
		return 1
	}
	if p, err := s.prices.GetPrice(ctx, asset+base, true); err == nil && p > 0 {
		return p
	}
	if asset != "BTC" && base != "BTC" {
		assetBTC, err1 := s.prices.GetPrice(ctx, asset+"BTC", true)
		btcBase, err2 := s.prices.GetPrice(ctx, "BTC"+base, true)
		if err1 == nil && err2 == nil && assetBTC > 0 && btcBase > 0 {
			return assetBTC * btcBase
		}
	}
	if len(fills) > 0 {
		logger.Warn("⚠️ %s%s 无可用价格，使用最近成交价", asset, base)
		return fills[0].NormalizedPrice
	}
	return 0
}

// build 保本价按买入 taker 费率估算
func build(fills []order.Fill, t Totals, rates exchange.FeeRates, price float64) *Metrics {
	amount, percent := PnL(t.TotalQty, t.TotalCost, price)
	return &Metrics{
		CurrentPrice:   price,
		Holdings:       t.TotalQty,
		Available:      t.TotalQty,
		AvgBuyPrice:    AverageBuyPrice(fills),
		BreakEvenPrice: BreakEvenPrice(fills, rates.Taker),
		TotalCost:      t.TotalCost,
		TotalFees:      t.TotalFees,
		CurrentValue:   dec(t.TotalQty).Mul(dec(price)).InexactFloat64(),
		PnLAmount:      amount,
		PnLPercent:     percent,
		OrderCount:     t.Count,
	}
}

func allManual(fills []order.Fill) bool {
	if len(fills) == 0 {
		return false
	}
	for _, f := range fills {
		if !f.IsManual() {
			return false
		}
	}
	return true
}

func filterFills(fills []order.Fill, ids []int64) []order.Fill {
	keep := make(map[int64]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make([]order.Fill, 0, len(ids))
	for _, f := range fills {
		if keep[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

func tradingPairs(fills []order.Fill) []string {
	seen := map[string]bool{}
	var pairs []string
	for _, f := range fills {
		if f.OriginalSymbol != "" && !seen[f.OriginalSymbol] {
			seen[f.OriginalSymbol] = true
			pairs = append(pairs, f.OriginalSymbol)
		}
	}
	sort.Strings(pairs)
	return pairs
}
