package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"spotfolio/exchange"
)

// fakeExchange 只实现订单相关接口，其他方法返回错误
type fakeExchange struct {
	mu         sync.Mutex
	orders     map[string][]*exchange.Order
	orderErrs  map[string]error
	open       map[string][]*exchange.Order
	openErr    error
	orderCalls map[string]int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		orders:     map[string][]*exchange.Order{},
		orderErrs:  map[string]error{},
		open:       map[string][]*exchange.Order{},
		orderCalls: map[string]int{},
	}
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) GetAccount(ctx context.Context) (*exchange.Account, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeExchange) GetAllOrders(ctx context.Context, symbol string, limit int) ([]*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls[symbol]++
	if err := f.orderErrs[symbol]; err != nil {
		return nil, err
	}
	list, ok := f.orders[symbol]
	if !ok {
		return nil, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.open[symbol], nil
}

func (f *fakeExchange) GetExchangeInfo(ctx context.Context) (*exchange.ExchangeInfo, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeExchange) GetTradeFee(ctx context.Context, symbol string) (*exchange.TradeFee, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeExchange) GetSymbolTicker(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (f *fakeExchange) ListPrices(ctx context.Context) (map[string]float64, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeExchange) Get24hTicker(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (f *fakeExchange) GetAveragePrice(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (f *fakeExchange) GetRecentTrade(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (f *fakeExchange) GetLatestKlineClose(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func filled(symbol string, id int64, side exchange.Side, qty, quote float64, ts int64) *exchange.Order {
	return &exchange.Order{
		Symbol:              symbol,
		OrderID:             id,
		Side:                side,
		Status:              exchange.OrderStatusFilled,
		Price:               quote / qty,
		OrigQty:             qty,
		ExecutedQty:         qty,
		CummulativeQuoteQty: quote,
		Time:                ts,
	}
}

// staticResolver 固定映射
type staticResolver map[string]string

func (r staticResolver) Resolve(symbol string) string {
	if v, ok := r[symbol]; ok {
		return v
	}
	return symbol
}

func (r staticResolver) Lookup(symbol string) (string, bool) {
	v, ok := r[symbol]
	return v, ok
}

func (r staticResolver) Mappings() map[string]string {
	out := map[string]string{}
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r staticResolver) InvalidFor(asset string) []string {
	var out []string
	for k := range r {
		if strings.HasPrefix(k, asset) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// staticPrices 固定价格表
type staticPrices map[string]float64

func (p staticPrices) GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error) {
	if v, ok := p[symbol]; ok {
		return v, nil
	}
	return 0, exchange.ErrInvalidSymbol
}
