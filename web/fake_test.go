package web

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"spotfolio/event"
	"spotfolio/exchange"
	"spotfolio/market"
	"spotfolio/order"
	"spotfolio/position"
	"spotfolio/scheduler"
	"spotfolio/stream"
	"spotfolio/utils"
)

type fakeMarket struct {
	prices    map[string]float64
	priceErr  error
	balances  []market.Balance
	preferred map[string]string
}

func (f *fakeMarket) GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
	}
	return p, nil
}

func (f *fakeMarket) GetSpotBalances(ctx context.Context, minUSDValue float64) []market.Balance {
	var out []market.Balance
	for _, b := range f.balances {
		if b.USDValue >= minUSDValue {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeMarket) GetAllTradingPairs(ctx context.Context) []string {
	return []string{"BTCUSDT", "ETHUSDT"}
}

func (f *fakeMarket) PreferredPairs(ctx context.Context) map[string]string {
	return f.preferred
}

func (f *fakeMarket) SetPreferredPair(ctx context.Context, asset, pair string) (string, error) {
	if f.preferred == nil {
		f.preferred = map[string]string{}
	}
	if asset == "" {
		asset = "BTC"
	}
	f.preferred[asset] = utils.NormalizeSymbol(pair)
	return asset, nil
}

func (f *fakeMarket) FeeRates(symbol string) exchange.FeeRates {
	return exchange.FeeRates{Maker: 0.001, Taker: 0.001}
}

func (f *fakeMarket) CachedPrice(ctx context.Context, symbol string) (market.PricePoint, bool) {
	p, ok := f.prices[symbol]
	if !ok {
		return market.PricePoint{}, false
	}
	return market.PricePoint{Symbol: symbol, Price: p, ObservedAt: time.Now()}, true
}

func (f *fakeMarket) RefreshSymbolFee(ctx context.Context, symbol string) (exchange.FeeRates, error) {
	if f.priceErr != nil {
		return exchange.FeeRates{}, f.priceErr
	}
	return exchange.FeeRates{Maker: 0.00075, Taker: 0.00075}, nil
}

func (f *fakeMarket) RateLimit() exchange.RateLimitSnapshot {
	return exchange.RateLimitSnapshot{UsedWeight: 12}
}

func (f *fakeMarket) ExchangeName() string { return "Binance" }

type fakeOrders struct {
	book *order.ManualBook
}

func (f *fakeOrders) GetOrderHistory(ctx context.Context, symbol string) *order.History {
	return &order.History{Symbol: symbol, Fills: f.book.Fills(symbol), ManualOnly: true}
}

func (f *fakeOrders) GetConsolidatedOrderHistory(ctx context.Context, asset, base string) []order.Fill {
	return []order.Fill{}
}

func (f *fakeOrders) GetOpenOrders(ctx context.Context, symbol string) []order.OpenOrder {
	return []order.OpenOrder{}
}

func (f *fakeOrders) AddManualFill(ctx context.Context, in order.ManualFillInput) (order.Fill, error) {
	return f.book.Add(ctx, in)
}

func (f *fakeOrders) DeleteManualFill(ctx context.Context, symbol string, id int64) error {
	return f.book.Delete(ctx, symbol, id)
}

func (f *fakeOrders) ManualFills(symbol string) []order.Fill { return f.book.Fills(symbol) }
func (f *fakeOrders) ManualSymbols() []string                { return f.book.Symbols() }

type fakePositions struct {
	mu       sync.Mutex
	lastOpts position.Options
}

func (f *fakePositions) CalculatePositionMetrics(ctx context.Context, symbol string, opts position.Options) *position.Metrics {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return &position.Metrics{Symbol: symbol, Holdings: 1, TotalCost: 100, CurrentValue: 150}
}

func (f *fakePositions) CalculateConsolidatedPositionMetrics(ctx context.Context, asset, base string) *position.Metrics {
	return &position.Metrics{Symbol: asset + base, Asset: asset, BaseCurrency: base, Holdings: 1, TotalCost: 100, CurrentValue: 120, PnLAmount: 20}
}

type fakeMappings struct {
	m map[string]string
}

func (f *fakeMappings) Mappings() map[string]string { return f.m }

func (f *fakeMappings) AddMapping(ctx context.Context, invalid, valid string) error {
	f.m[utils.NormalizeSymbol(invalid)] = utils.NormalizeSymbol(valid)
	return nil
}

func (f *fakeMappings) RemoveMapping(ctx context.Context, invalid string) (bool, error) {
	key := utils.NormalizeSymbol(invalid)
	if _, ok := f.m[key]; !ok {
		return false, nil
	}
	delete(f.m, key)
	return true, nil
}

type fakeStream struct {
	mu     sync.Mutex
	subs   map[string]stream.Callback
	calls  map[string]int
	unsubs map[string]int
}

func newFakeStream() *fakeStream {
	return &fakeStream{subs: map[string]stream.Callback{}, calls: map[string]int{}, unsubs: map[string]int{}}
}

func (f *fakeStream) Subscribe(symbol string, cb stream.Callback) stream.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[symbol] = cb
	f.calls[symbol]++
	return stream.StatePolling
}

func (f *fakeStream) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, symbol)
	f.unsubs[symbol]++
}

func (f *fakeStream) States() map[string]stream.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]stream.State{}
	for s := range f.subs {
		out[s] = stream.StatePolling
	}
	return out
}

func (f *fakeStream) Connected() bool { return false }

func (f *fakeStream) emit(symbol string, price float64) bool {
	f.mu.Lock()
	cb := f.subs[symbol]
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(stream.PriceEvent{Symbol: symbol, Price: price, Source: stream.SourcePoll})
	return true
}

func (f *fakeStream) counts(symbol string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol], f.unsubs[symbol]
}

type fakeEvents struct {
	records []*event.Record
}

func (f *fakeEvents) Recent(limit int) []*event.Record {
	if limit <= 0 || limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit]
}

type fakeJobs struct {
	mu   sync.Mutex
	runs map[string]int
}

func (f *fakeJobs) Status() []scheduler.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []scheduler.JobStatus{
		{Name: "system_metrics", Spec: "* * * * *", Runs: f.runs["system_metrics"]},
		{Name: "fee_refresh", Spec: "0 * * * *", Runs: f.runs["fee_refresh"]},
	}
}

func (f *fakeJobs) RunNow(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch name {
	case "fee_refresh", "system_metrics":
		f.runs[name]++
		return nil
	case "broken":
		return fmt.Errorf("刷新失败")
	}
	return fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
}

type testEnv struct {
	router    *gin.Engine
	market    *fakeMarket
	positions *fakePositions
	mappings  *fakeMappings
	stream    *fakeStream
	jobs      *fakeJobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	book, err := order.NewManualBook(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("创建手动订单簿失败: %v", err)
	}
	env := &testEnv{
		market: &fakeMarket{
			prices: map[string]float64{"BTCUSDT": 43000},
			balances: []market.Balance{
				{Asset: "BTC", Total: 1, USDValue: 43000},
				{Asset: "USDT", Total: 100, USDValue: 100},
				{Asset: "DUST", Total: 1, USDValue: 0.2},
			},
		},
		positions: &fakePositions{},
		mappings:  &fakeMappings{m: map[string]string{}},
		stream:    newFakeStream(),
		jobs:      &fakeJobs{runs: map[string]int{}},
	}
	SetProviders(&Providers{
		Market:      env.market,
		Orders:      &fakeOrders{book: book},
		Positions:   env.positions,
		Mappings:    env.mappings,
		Stream:      env.stream,
		Events:      &fakeEvents{},
		Jobs:        env.jobs,
		MinUSDValue: 1,
	})
	t.Cleanup(func() { SetProviders(nil) })

	env.router = NewRouter(false)
	return env
}
