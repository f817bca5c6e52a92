package market

import (
	"context"
	"sort"

	"spotfolio/logger"
)

// GetAllTradingPairs 状态为 TRADING 的交易对，带缓存，失败时返回旧列表
func (f *Facade) GetAllTradingPairs(ctx context.Context) []string {
	f.pairsMu.Lock()
	defer f.pairsMu.Unlock()

	if f.pairs != nil && f.now().Sub(f.pairsAt) < f.opts.PairsTTL {
		return append([]string(nil), f.pairs...)
	}
	pairs, err := f.loadTradingPairs(ctx)
	if err != nil {
		logger.Warn("⚠️ 获取交易对列表失败: %v", err)
		return append([]string{}, f.pairs...)
	}
	f.pairs, f.pairsAt = pairs, f.now()
	return append([]string(nil), pairs...)
}

// RefreshTradingPairs 强制刷新交易对列表
func (f *Facade) RefreshTradingPairs(ctx context.Context) (int, error) {
	pairs, err := f.loadTradingPairs(ctx)
	if err != nil {
		return 0, err
	}
	f.pairsMu.Lock()
	f.pairs, f.pairsAt = pairs, f.now()
	f.pairsMu.Unlock()
	return len(pairs), nil
}

func (f *Facade) loadTradingPairs(ctx context.Context) ([]string, error) {
	info, err := f.api.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			pairs = append(pairs, s.Symbol)
		}
	}
	sort.Strings(pairs)
	return pairs, nil
}
