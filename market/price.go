package market

import (
	"context"
	"fmt"

	"spotfolio/event"
	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/metrics"
	"spotfolio/utils"
)

// priceSource 交易对无效时的备用价格来源
type priceSource struct {
	name  string
	fetch func(ctx context.Context, symbol string) (float64, error)
}

func (f *Facade) discoverySources() []priceSource {
	return []priceSource{
		{"ticker_price", func(ctx context.Context, symbol string) (float64, error) {
			prices, err := f.api.ListPrices(ctx)
			if err != nil {
				return 0, err
			}
			if p, ok := prices[symbol]; ok {
				return p, nil
			}
			return 0, fmt.Errorf("全市场价格中没有 %s", symbol)
		}},
		{"ticker_24hr", f.api.Get24hTicker},
		{"avg_price", f.api.GetAveragePrice},
		{"recent_trade", f.api.GetRecentTrade},
		{"kline_1m", f.api.GetLatestKlineClose},
	}
}

// GetPrice 获取交易对最新价
//
// 顺序：新鲜缓存 → 主查询 → 按错误类型处理（映射重试、备用查询、限流退避一次、
// 封禁直接返回）。每次调用最多退避一次。
func (f *Facade) GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("交易对不能为空")
	}
	return f.getPrice(ctx, symbol, useCache, true, true)
}

func (f *Facade) getPrice(ctx context.Context, symbol string, useCache, allowMapping, allowRetry bool) (float64, error) {
	pm := metrics.GetPrometheusMetrics()

	if useCache {
		if p, ok := f.cache.Get(ctx, symbol); ok && f.now().Sub(p.ObservedAt) < f.cacheTTL() {
			pm.RecordPriceCache("hit")
			return p.Price, nil
		}
		pm.RecordPriceCache("miss")
	}

	price, err := f.api.GetSymbolTicker(ctx, symbol)
	if err == nil && price > 0 {
		f.store(ctx, symbol, price)
		return price, nil
	}
	if err == nil {
		err = fmt.Errorf("%s 返回无效价格: %v", symbol, price)
	}

	switch {
	case exchange.IsInvalidSymbol(err):
		if allowMapping && f.resolver != nil {
			if mapped, ok := f.resolver.Lookup(symbol); ok && mapped != symbol {
				logger.Info("🔄 %s 无效，改用映射交易对 %s", symbol, mapped)
				price, mappedErr := f.getPrice(ctx, mapped, useCache, false, allowRetry)
				if mappedErr != nil {
					return 0, mappedErr
				}
				f.store(ctx, symbol, price)
				return price, nil
			}
		}
		if price, ok := f.discover(ctx, symbol); ok {
			f.store(ctx, symbol, price)
			return price, nil
		}
		return 0, err

	case exchange.IsRateLimited(err):
		f.events.Publish(&event.Event{
			Type: event.EventTypeRateLimited,
			Data: map[string]interface{}{"symbol": symbol},
		})
		if p, ok := f.cache.Get(ctx, symbol); ok {
			logger.Warn("⚠️ %s 被限流，使用缓存价格 %v", symbol, p.Price)
			pm.RecordPriceCache("stale")
			return p.Price, nil
		}
		if !allowRetry {
			return 0, err
		}
		logger.Warn("⏳ %s 被限流，退避后重试一次", symbol)
		if err := f.waitBackoff(ctx, "price"); err != nil {
			return 0, err
		}
		return f.getPrice(ctx, symbol, useCache, allowMapping, false)

	case exchange.IsIPBanned(err):
		logger.Error("❌ 获取 %s 价格时 IP 被封禁: %v", symbol, err)
		f.publishBan("price", err)
		if p, ok := f.cache.Get(ctx, symbol); ok {
			logger.Warn("⚠️ IP 封禁期间使用 %s 缓存价格", symbol)
			pm.RecordPriceCache("stale")
			return p.Price, nil
		}
		return 0, err

	default:
		if p, ok := f.cache.Get(ctx, symbol); ok {
			logger.Warn("⚠️ 获取 %s 价格失败，使用缓存价格: %v", symbol, err)
			pm.RecordPriceCache("stale")
			return p.Price, nil
		}
		return 0, err
	}
}

// discover 依次尝试备用来源，第一个成功的生效
func (f *Facade) discover(ctx context.Context, symbol string) (float64, bool) {
	for _, src := range f.discoverySources() {
		price, err := src.fetch(ctx, symbol)
		if err != nil || price <= 0 {
			logger.Debug("备用价格来源 %s 对 %s 失败: %v", src.name, symbol, err)
			continue
		}
		metrics.GetPrometheusMetrics().RecordPriceFallback(src.name)
		logger.Info("✅ %s 通过备用来源 %s 获取价格: %v", symbol, src.name, price)
		return price, true
	}
	return 0, false
}

func (f *Facade) store(ctx context.Context, symbol string, price float64) {
	f.cache.Set(ctx, PricePoint{Symbol: symbol, Price: price, ObservedAt: f.now()})
	metrics.GetPrometheusMetrics().SetCurrentPrice(symbol, price)
}

// CachedPrice 不发请求，只读缓存
func (f *Facade) CachedPrice(ctx context.Context, symbol string) (PricePoint, bool) {
	return f.cache.Get(ctx, utils.NormalizeSymbol(symbol))
}
