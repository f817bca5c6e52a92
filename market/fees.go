package market

import (
	"context"

	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/utils"
)

// referenceSymbol 账户级费率取自这个交易对
const referenceSymbol = "BTCUSDT"

// RefreshFeeRates 刷新账户费率：交易对费率接口 → 账户佣金 → 默认值
func (f *Facade) RefreshFeeRates(ctx context.Context) exchange.FeeRates {
	rates := f.opts.DefaultFees

	if tf, err := f.api.GetTradeFee(ctx, referenceSymbol); err == nil && (tf.MakerFee > 0 || tf.TakerFee > 0) {
		rates = exchange.FeeRates{Maker: tf.MakerFee, Taker: tf.TakerFee}
	} else {
		logger.Debug("交易对费率接口不可用，改用账户佣金: %v", err)
		if acct, err := f.api.GetAccount(ctx); err == nil && (acct.MakerFee > 0 || acct.TakerFee > 0) {
			rates = exchange.FeeRates{Maker: acct.MakerFee, Taker: acct.TakerFee}
		} else if err != nil {
			logger.Warn("⚠️ 无法获取费率，使用默认值 %.4f/%.4f: %v", rates.Maker, rates.Taker, err)
		}
	}

	f.feeMu.Lock()
	f.fees = rates
	f.feeMu.Unlock()
	logger.Info("✅ 费率已更新: maker=%.4f taker=%.4f", rates.Maker, rates.Taker)
	return rates
}

// RefreshSymbolFee 单独拉取某个交易对的费率
func (f *Facade) RefreshSymbolFee(ctx context.Context, symbol string) (exchange.FeeRates, error) {
	symbol = utils.NormalizeSymbol(symbol)
	tf, err := f.api.GetTradeFee(ctx, symbol)
	if err != nil {
		return f.FeeRates(symbol), err
	}
	rates := exchange.FeeRates{Maker: tf.MakerFee, Taker: tf.TakerFee}
	f.feeMu.Lock()
	f.symbolFees[symbol] = rates
	f.feeMu.Unlock()
	return rates, nil
}

// FeeRates 交易对费率，没有单独记录时用账户费率
func (f *Facade) FeeRates(symbol string) exchange.FeeRates {
	f.feeMu.RLock()
	defer f.feeMu.RUnlock()
	if r, ok := f.symbolFees[utils.NormalizeSymbol(symbol)]; ok {
		return r
	}
	return f.fees
}
