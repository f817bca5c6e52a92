package market

import (
	"context"
	"fmt"
	"sync"

	"spotfolio/exchange"
)

// fakeExchange 按交易对返回预设价格或错误
type fakeExchange struct {
	mu sync.Mutex

	tickerErrs  map[string][]error // 依次弹出，空了之后返回 prices
	prices      map[string]float64
	allPrices   map[string]float64
	allPriceErr error
	avgPrices   map[string]float64
	account     *exchange.Account
	accountErrs []error
	tradeFee    *exchange.TradeFee
	tradeFeeErr error
	info        *exchange.ExchangeInfo

	tickerCalls  map[string]int
	accountCalls int
	infoCalls    int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		tickerErrs:  map[string][]error{},
		prices:      map[string]float64{},
		avgPrices:   map[string]float64{},
		tickerCalls: map[string]int{},
	}
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) GetAccount(ctx context.Context) (*exchange.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if len(f.accountErrs) > 0 {
		err := f.accountErrs[0]
		f.accountErrs = f.accountErrs[1:]
		return nil, err
	}
	if f.account == nil {
		return nil, fmt.Errorf("no account")
	}
	return f.account, nil
}

func (f *fakeExchange) GetAllOrders(ctx context.Context, symbol string, limit int) ([]*exchange.Order, error) {
	return nil, nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	return nil, nil
}

func (f *fakeExchange) GetExchangeInfo(ctx context.Context) (*exchange.ExchangeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if f.info == nil {
		return nil, fmt.Errorf("no info")
	}
	return f.info, nil
}

func (f *fakeExchange) GetTradeFee(ctx context.Context, symbol string) (*exchange.TradeFee, error) {
	if f.tradeFeeErr != nil {
		return nil, f.tradeFeeErr
	}
	if f.tradeFee == nil {
		return nil, fmt.Errorf("no fee")
	}
	return f.tradeFee, nil
}

func (f *fakeExchange) GetSymbolTicker(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickerCalls[symbol]++
	if errs := f.tickerErrs[symbol]; len(errs) > 0 {
		f.tickerErrs[symbol] = errs[1:]
		return 0, errs[0]
	}
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return 0, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
}

func (f *fakeExchange) ListPrices(ctx context.Context) (map[string]float64, error) {
	if f.allPriceErr != nil {
		return nil, f.allPriceErr
	}
	return f.allPrices, nil
}

func (f *fakeExchange) Get24hTicker(ctx context.Context, symbol string) (float64, error) {
	return 0, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
}

func (f *fakeExchange) GetAveragePrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := f.avgPrices[symbol]; ok {
		return p, nil
	}
	return 0, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
}

func (f *fakeExchange) GetRecentTrade(ctx context.Context, symbol string) (float64, error) {
	return 0, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
}

func (f *fakeExchange) GetLatestKlineClose(ctx context.Context, symbol string) (float64, error) {
	return 0, exchange.NewAPIError(exchange.CodeInvalidSymbol, "Invalid symbol.")
}

func (f *fakeExchange) calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickerCalls[symbol]
}

type staticLookup map[string]string

func (s staticLookup) Lookup(symbol string) (string, bool) {
	v, ok := s[symbol]
	return v, ok
}
