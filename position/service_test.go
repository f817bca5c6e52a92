package position

import (
	"context"
	"fmt"
	"testing"

	"spotfolio/exchange"
	"spotfolio/order"
)

type fakeOrders struct {
	history      map[string]*order.History
	consolidated []order.Fill
	open         map[string][]order.OpenOrder
	panics       bool
}

func (f *fakeOrders) GetOrderHistory(ctx context.Context, symbol string) *order.History {
	if f.panics {
		panic("boom")
	}
	if h, ok := f.history[symbol]; ok {
		return h
	}
	return &order.History{Symbol: symbol, Fills: []order.Fill{}}
}

func (f *fakeOrders) GetConsolidatedOrderHistory(ctx context.Context, asset, base string) []order.Fill {
	return f.consolidated
}

func (f *fakeOrders) GetOpenOrders(ctx context.Context, symbol string) []order.OpenOrder {
	return f.open[symbol]
}

type fakePrices map[string]float64

func (p fakePrices) GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error) {
	if v, ok := p[symbol]; ok {
		if v < 0 {
			return 0, fmt.Errorf("upstream failure")
		}
		return v, nil
	}
	return 0, exchange.ErrInvalidSymbol
}

type fixedFees exchange.FeeRates

func (f fixedFees) FeeRates(symbol string) exchange.FeeRates { return exchange.FeeRates(f) }

type mapResolver map[string]string

func (r mapResolver) Resolve(symbol string) string {
	if v, ok := r[symbol]; ok {
		return v
	}
	return symbol
}

func TestCalculatePositionMetricsScenario(t *testing.T) {
	orders := &fakeOrders{
		history: map[string]*order.History{
			"BTCUSDT": {Symbol: "BTCUSDT", Fills: []order.Fill{
				{ID: 2, Side: exchange.SideSell, ExecutedQty: 0.5, QuoteQty: 11000, Origin: order.OriginExchange},
				{ID: 1, Side: exchange.SideBuy, ExecutedQty: 1, QuoteQty: 20000, Origin: order.OriginExchange},
			}},
		},
		open: map[string][]order.OpenOrder{
			"BTCUSDT": {{Side: exchange.SideSell, OrigQty: 0.2, ExecutedQty: 0}},
		},
	}
	svc := NewService(orders, fakePrices{"BTCUSDT": 22000}, fixedFees{Maker: 0.001, Taker: 0.001}, nil)

	m := svc.CalculatePositionMetrics(context.Background(), "BTCUSDT", Options{})
	if m.Error != "" {
		t.Fatalf("不应有错误: %s", m.Error)
	}
	if !near(m.Holdings, 0.5) || !near(m.TotalCost, 9000) || !near(m.AvgBuyPrice, 20000) {
		t.Errorf("持仓指标错误: %+v", m)
	}
	if !near(m.PnLAmount, 2000) || !near(m.CurrentValue, 11000) {
		t.Errorf("盈亏错误: %+v", m)
	}
	if !near(m.Locked, 0.2) || !near(m.Available, 0.3) {
		t.Errorf("可用/锁定错误: %+v", m)
	}
	if m.BreakEvenPrice < m.AvgBuyPrice || !near(m.BreakEvenPrice, 20020) {
		t.Errorf("保本价应为 20000 * 1.001: %+v", m)
	}
	if m.IsManual {
		t.Error("交易所成交不应标记为手动")
	}
}

func TestCalculatePositionMetricsOptions(t *testing.T) {
	orders := &fakeOrders{
		history: map[string]*order.History{
			"XYZUSD": {Symbol: "XYZUSD", ManualOnly: true, Fills: []order.Fill{
				{ID: -5, Side: exchange.SideBuy, ExecutedQty: 10, QuoteQty: 30, Origin: order.OriginManual},
				{ID: -6, Side: exchange.SideBuy, ExecutedQty: 10, QuoteQty: 50, Origin: order.OriginManual},
			}},
		},
	}
	svc := NewService(orders, fakePrices{}, nil, mapResolver{"XYZUSD": "XYZUSDT"})

	price := 4.0
	m := svc.CalculatePositionMetrics(context.Background(), "XYZUSD", Options{IncludeOrderIDs: []int64{-5}, ManualPrice: &price})
	if m.Error != "" {
		t.Fatalf("不应有错误: %s", m.Error)
	}
	if m.OrderCount != 1 || !near(m.Holdings, 10) || !near(m.TotalCost, 30) {
		t.Errorf("订单过滤错误: %+v", m)
	}
	if m.CurrentPrice != 4 || !near(m.PnLAmount, 10) {
		t.Errorf("手动价格未生效: %+v", m)
	}
	if !m.IsManual || m.MappedSymbol != "XYZUSDT" {
		t.Errorf("手动标记或映射错误: %+v", m)
	}
}

func TestCalculatePositionMetricsErrors(t *testing.T) {
	orders := &fakeOrders{
		history: map[string]*order.History{
			"BADUSDT": {Fills: []order.Fill{{Side: exchange.SideBuy, ExecutedQty: -1, QuoteQty: 1}}},
			"ETHUSDT": {Fills: []order.Fill{{Side: exchange.SideBuy, ExecutedQty: 1, QuoteQty: 1}}},
		},
	}
	svc := NewService(orders, fakePrices{"ETHUSDT": -1}, nil, nil)

	m := svc.CalculatePositionMetrics(context.Background(), "BADUSDT", Options{})
	if m.Error == "" || m.Holdings != 0 || m.TotalCost != 0 {
		t.Errorf("无效成交应返回零值指标和错误: %+v", m)
	}

	m = svc.CalculatePositionMetrics(context.Background(), "ETHUSDT", Options{})
	if m.Error == "" {
		t.Error("价格获取失败应返回错误")
	}

	orders.panics = true
	m = svc.CalculatePositionMetrics(context.Background(), "ETHUSDT", Options{})
	if m.Error == "" || m.Symbol != "ETHUSDT" {
		t.Errorf("panic 应转为错误指标: %+v", m)
	}
}

func TestConsolidatedPositionMetrics(t *testing.T) {
	orders := &fakeOrders{consolidated: []order.Fill{
		{ID: 1, Side: exchange.SideBuy, ExecutedQty: 1, QuoteQty: 2000, OriginalSymbol: "ETHUSDT",
			BaseCurrency: "USDT", NormalizedTotal: 2000, NormalizedPrice: 2000, Time: 3},
		{ID: 2, Side: exchange.SideBuy, ExecutedQty: 2, QuoteQty: 0.1, OriginalSymbol: "ETHBTC",
			BaseCurrency: "USDT", NormalizedTotal: 4000, NormalizedPrice: 2000, Time: 2},
	}}

	svc := NewService(orders, fakePrices{"ETHBTC": 0.06, "BTCUSDT": 40000}, nil, nil)
	m := svc.CalculateConsolidatedPositionMetrics(context.Background(), "eth", "")
	if m.Error != "" {
		t.Fatal(m.Error)
	}
	if m.BaseCurrency != "USDT" || !near(m.Holdings, 3) || !near(m.TotalCost, 6000) {
		t.Errorf("汇总指标错误: %+v", m)
	}
	// ETHUSDT 不可用，经 BTC 折算 0.06 * 40000
	if !near(m.CurrentPrice, 2400) || !near(m.PnLAmount, 1200) {
		t.Errorf("折算价格错误: %+v", m)
	}
	if len(m.TradingPairs) != 2 || m.TradingPairs[0] != "ETHBTC" {
		t.Errorf("交易对列表错误: %v", m.TradingPairs)
	}

	// 没有任何价格时使用最近一笔成交的折算价
	svc = NewService(orders, fakePrices{}, nil, nil)
	m = svc.CalculateConsolidatedPositionMetrics(context.Background(), "ETH", "USDT")
	if m.CurrentPrice != 2000 {
		t.Errorf("应使用最近成交价: %f", m.CurrentPrice)
	}
}
