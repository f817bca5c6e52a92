package market

import (
	"context"
	"sort"

	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/utils"
)

// Balance 带美元估值的现货余额
type Balance struct {
	Asset         string  `json:"asset"`
	Free          float64 `json:"free"`
	Locked        float64 `json:"locked"`
	Total         float64 `json:"total"`
	USDValue      float64 `json:"usd_value"`
	Price         float64 `json:"price"` // 以 Pair 的计价币计
	Pair          string  `json:"pair,omitempty"`
	PreferredPair string  `json:"preferred_pair,omitempty"`
}

// GetSpotBalances 非零余额，按美元价值降序，低于 minUSDValue 的被过滤
//
// 限流时退避重试一次，封禁或其他错误返回空列表。
func (f *Facade) GetSpotBalances(ctx context.Context, minUSDValue float64) []Balance {
	account, err := f.getAccount(ctx)
	if err != nil {
		logger.Error("❌ 获取余额失败: %v", err)
		return []Balance{}
	}

	prices, err := f.api.ListPrices(ctx)
	if err != nil {
		if !exchange.IsRateLimited(err) && !exchange.IsIPBanned(err) {
			logger.Error("❌ 获取全市场价格失败: %v", err)
			return []Balance{}
		}
		logger.Warn("⚠️ 获取全市场价格被限流，余额估值为 0: %v", err)
		prices = map[string]float64{}
	}

	balances := make([]Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		total := b.Free + b.Locked
		if total <= 0 {
			continue
		}

		usd, price, pair := valueInUSD(b.Asset, total, prices)
		if usd < minUSDValue {
			continue
		}

		balances = append(balances, Balance{
			Asset:         b.Asset,
			Free:          b.Free,
			Locked:        b.Locked,
			Total:         total,
			USDValue:      usd,
			Price:         price,
			Pair:          pair,
			PreferredPair: f.PreferredPair(ctx, b.Asset),
		})
	}

	sort.SliceStable(balances, func(i, j int) bool {
		return balances[i].USDValue > balances[j].USDValue
	})
	return balances
}

// valueInUSD 稳定币按 1:1，其余按计价币优先级找第一个存在的交易对
func valueInUSD(asset string, total float64, prices map[string]float64) (usd, price float64, pair string) {
	if utils.IsStableCoin(asset) {
		return total, 1, ""
	}

	for _, quote := range utils.QuotePriority {
		symbol := asset + quote
		p, ok := prices[symbol]
		if !ok {
			continue
		}
		switch {
		case utils.IsStableCoin(quote):
			return total * p, p, symbol
		case quote == "BTC" || quote == "ETH":
			if bridge, ok := prices[quote+"USDT"]; ok {
				return total * p * bridge, p, symbol
			}
			// 找到交易对但无法折算，与原有行为一致停止查找
			return 0, p, symbol
		}
	}
	return 0, 0, ""
}

func (f *Facade) getAccount(ctx context.Context) (*exchange.Account, error) {
	account, err := f.api.GetAccount(ctx)
	switch {
	case err == nil:
		return account, nil
	case exchange.IsRateLimited(err):
		logger.Warn("⏳ 获取账户被限流，退避后重试一次")
		if err := f.waitBackoff(ctx, "account"); err != nil {
			return nil, err
		}
		account, err = f.api.GetAccount(ctx)
		if err != nil && exchange.IsIPBanned(err) {
			f.publishBan("account", err)
		}
		return account, err
	case exchange.IsIPBanned(err):
		f.publishBan("account", err)
		return nil, err
	default:
		return nil, err
	}
}
