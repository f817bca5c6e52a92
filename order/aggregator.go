package order

import (
	"context"
	"errors"
	"sort"
	"strings"

	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/utils"
)

// SymbolResolver 交易对映射查询
type SymbolResolver interface {
	Resolve(symbol string) string
	Lookup(symbol string) (string, bool)
	Mappings() map[string]string
	InvalidFor(asset string) []string
}

// PriceSource 折算汇率所需的价格来源
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error)
}

// bridgeAssets 无直接交易对时的中转币
var bridgeAssets = []string{"BTC", "ETH"}

// History 单个交易对的成交历史
type History struct {
	Symbol       string `json:"symbol"`
	MappedSymbol string `json:"mapped_symbol,omitempty"`
	Fills        []Fill `json:"fills"`
	ManualOnly   bool   `json:"manual_only"`
	Error        string `json:"error,omitempty"`
}

// Aggregator 合并交易所成交与手动成交
type Aggregator struct {
	api      exchange.ExchangeAPI
	resolver SymbolResolver
	prices   PriceSource
	manual   *ManualBook
}

// NewAggregator 创建聚合器
func NewAggregator(api exchange.ExchangeAPI, resolver SymbolResolver, prices PriceSource, manual *ManualBook) *Aggregator {
	if manual == nil {
		manual = &ManualBook{fills: map[string][]Fill{}}
	}
	return &Aggregator{api: api, resolver: resolver, prices: prices, manual: manual}
}

// Manual 手动成交簿
func (a *Aggregator) Manual() *ManualBook {
	return a.manual
}

// AddManualFill 新增手动成交
func (a *Aggregator) AddManualFill(ctx context.Context, in ManualFillInput) (Fill, error) {
	return a.manual.Add(ctx, in)
}

// DeleteManualFill 删除手动成交
func (a *Aggregator) DeleteManualFill(ctx context.Context, symbol string, id int64) error {
	return a.manual.Delete(ctx, symbol, id)
}

// ManualFills 某交易对的手动成交
func (a *Aggregator) ManualFills(symbol string) []Fill {
	return a.manual.Fills(symbol)
}

// ManualSymbols 有手动成交的交易对
func (a *Aggregator) ManualSymbols() []string {
	return a.manual.Symbols()
}

func (a *Aggregator) resolve(symbol string) string {
	if a.resolver == nil {
		return symbol
	}
	return a.resolver.Resolve(symbol)
}

// GetOrderHistory 获取交易对的已成交订单，失败时退化为手动成交，不返回错误
func (a *Aggregator) GetOrderHistory(ctx context.Context, symbol string) *History {
	symbol = utils.NormalizeSymbol(symbol)
	target := a.resolve(symbol)
	manual := a.manual.Fills(symbol)

	h := &History{Symbol: symbol}
	if target != symbol {
		h.MappedSymbol = target
	}

	orders, err := a.api.GetAllOrders(ctx, target, 0)
	if err != nil {
		h.Fills = sortFills(manual)
		h.Error = err.Error()
		if errors.Is(err, exchange.ErrInvalidSymbol) && target == symbol {
			h.ManualOnly = true
			logger.Info("ℹ️ %s 不是有效的交易对，仅使用手动订单 (%d 笔)", symbol, len(manual))
		} else {
			logger.Error("❌ 获取 %s 订单历史失败: %v", target, err)
		}
		return h
	}

	fills := make([]Fill, 0, len(orders)+len(manual))
	for _, o := range orders {
		if o == nil || o.Status != exchange.OrderStatusFilled {
			continue
		}
		fills = append(fills, fromExchange(o))
	}
	fills = append(fills, manual...)
	h.Fills = sortFills(fills)
	return h
}

// sortFills 按时间倒序的稳定排序
func sortFills(fills []Fill) []Fill {
	if fills == nil {
		fills = []Fill{}
	}
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].Time > fills[j].Time
	})
	return fills
}

// consolidatedPairs 资产在各计价币下实际有成交的交易对
func (a *Aggregator) consolidatedPairs(ctx context.Context, asset string) []string {
	var pairs []string
	seen := map[string]bool{}
	add := func(pair string) {
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}

	for _, quote := range utils.QuotePriority {
		if quote == asset {
			continue
		}
		pair := asset + quote
		if a.manual.Has(pair) {
			add(pair)
			continue
		}
		orders, err := a.api.GetAllOrders(ctx, pair, 1)
		if err != nil {
			if !errors.Is(err, exchange.ErrInvalidSymbol) {
				logger.Warn("⚠️ 探测交易对 %s 失败: %v", pair, err)
			}
			continue
		}
		if len(orders) > 0 {
			add(pair)
		}
	}

	if a.resolver != nil {
		mappings := a.resolver.Mappings()
		for _, invalid := range a.resolver.InvalidFor(asset) {
			if valid := mappings[invalid]; valid != "" {
				add(valid)
			}
		}
	}
	return pairs
}

// GetConsolidatedOrderHistory 汇总资产在所有计价币下的成交，并折算到 baseCurrency
func (a *Aggregator) GetConsolidatedOrderHistory(ctx context.Context, asset, baseCurrency string) []Fill {
	asset = utils.NormalizeSymbol(asset)
	baseCurrency = utils.NormalizeSymbol(baseCurrency)
	if baseCurrency == "" {
		baseCurrency = "USDT"
	}

	rates := newRateTable(a.prices)
	all := []Fill{}
	for _, pair := range a.consolidatedPairs(ctx, asset) {
		quote := quoteOf(pair, asset)
		h := a.GetOrderHistory(ctx, pair)
		for _, f := range h.Fills {
			f.BaseAsset = asset
			f.QuoteAsset = quote
			f.OriginalSymbol = pair

			if rate, ok := rates.rate(ctx, quote, baseCurrency); ok {
				f.NormalizedPrice = f.AvgPrice * rate
				f.NormalizedTotal = f.QuoteQty * rate
				f.BaseCurrency = baseCurrency
			} else {
				f.NormalizedPrice = f.AvgPrice
				f.NormalizedTotal = f.QuoteQty
				f.BaseCurrency = quote
			}
			all = append(all, f)
		}
	}
	return sortFills(all)
}

// quoteOf 从交易对中取出计价币
func quoteOf(pair, asset string) string {
	if strings.HasPrefix(pair, asset) && len(pair) > len(asset) {
		return pair[len(asset):]
	}
	if _, quote, ok := utils.SplitSymbol(pair); ok {
		return quote
	}
	return ""
}

// rateTable 单次汇总内缓存的汇率
type rateTable struct {
	prices PriceSource
	cache  map[string]rateEntry
}

type rateEntry struct {
	rate float64
	ok   bool
}

func newRateTable(prices PriceSource) *rateTable {
	return &rateTable{prices: prices, cache: map[string]rateEntry{}}
}

func (t *rateTable) price(ctx context.Context, symbol string) (float64, bool) {
	if t.prices == nil {
		return 0, false
	}
	p, err := t.prices.GetPrice(ctx, symbol, true)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

// rate 1 单位 quote 等于多少 base：直接交易对、反向交易对、经 BTC/ETH 中转
func (t *rateTable) rate(ctx context.Context, quote, base string) (float64, bool) {
	if quote == "" {
		return 0, false
	}
	if quote == base {
		return 1, true
	}
	key := quote + "/" + base
	if e, ok := t.cache[key]; ok {
		return e.rate, e.ok
	}

	var entry rateEntry
	if p, ok := t.price(ctx, quote+base); ok {
		entry = rateEntry{p, true}
	} else if p, ok := t.price(ctx, base+quote); ok {
		entry = rateEntry{1 / p, true}
	} else {
		for _, bridge := range bridgeAssets {
			if bridge == quote || bridge == base {
				continue
			}
			p1, ok1 := t.price(ctx, quote+bridge)
			if !ok1 {
				continue
			}
			if p2, ok2 := t.price(ctx, bridge+base); ok2 {
				entry = rateEntry{p1 * p2, true}
				break
			}
		}
	}
	if !entry.ok {
		logger.Warn("⚠️ 无法把 %s 折算为 %s，保留原计价", quote, base)
	}
	t.cache[key] = entry
	return entry.rate, entry.ok
}

// GetOpenOrders 获取挂单，失败时返回空列表
func (a *Aggregator) GetOpenOrders(ctx context.Context, symbol string) []OpenOrder {
	target := a.resolve(utils.NormalizeSymbol(symbol))
	orders, err := a.api.GetOpenOrders(ctx, target)
	if err != nil {
		if !errors.Is(err, exchange.ErrInvalidSymbol) {
			logger.Warn("⚠️ 获取 %s 挂单失败: %v", target, err)
		}
		return []OpenOrder{}
	}

	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		locked := o.OrigQty - o.ExecutedQty
		if locked < 0 {
			locked = 0
		}
		out = append(out, OpenOrder{
			Symbol:      o.Symbol,
			OrderID:     o.OrderID,
			Side:        o.Side,
			Price:       o.Price,
			OrigQty:     o.OrigQty,
			ExecutedQty: o.ExecutedQty,
			LockedQty:   locked,
			Time:        o.Time,
		})
	}
	return out
}
