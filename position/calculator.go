package position

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"spotfolio/exchange"
	"spotfolio/order"
)

// ErrComputation 成交数据无法参与计算（负数、NaN 等）
var ErrComputation = errors.New("持仓计算失败")

var hundred = decimal.NewFromInt(100)

// Totals 成交汇总结果
//
// 采用净额模型：买入累加成本和数量，卖出同时扣减两者，不做逐笔（FIFO/LIFO）配对。
type Totals struct {
	TotalQty  float64 `json:"total_qty"`
	TotalCost float64 `json:"total_cost"`
	TotalFees float64 `json:"total_fees"`
	Count     int     `json:"count"`
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// checkFill 校验一笔成交是否可用于计算
func checkFill(f order.Fill) error {
	cost := f.Cost()
	switch {
	case !finite(f.ExecutedQty) || !finite(cost):
		return fmt.Errorf("%w: %s #%d 数值无效", ErrComputation, f.Symbol, f.ID)
	case f.ExecutedQty < 0 || cost < 0:
		return fmt.Errorf("%w: %s #%d 数量或成交额为负数", ErrComputation, f.Symbol, f.ID)
	case f.Commission != nil && (!finite(*f.Commission) || *f.Commission < 0):
		return fmt.Errorf("%w: %s #%d 手续费无效", ErrComputation, f.Symbol, f.ID)
	case f.Side != exchange.SideBuy && f.Side != exchange.SideSell:
		return fmt.Errorf("%w: %s #%d 未知方向 %q", ErrComputation, f.Symbol, f.ID, f.Side)
	}
	return nil
}

// AverageBuyPrice 买入均价，只统计 BUY 成交
func AverageBuyPrice(fills []order.Fill) float64 {
	cost, qty := decimal.Zero, decimal.Zero
	for _, f := range fills {
		if f.Side != exchange.SideBuy {
			continue
		}
		cost = cost.Add(dec(f.Cost()))
		qty = qty.Add(dec(f.ExecutedQty))
	}
	if !qty.IsPositive() {
		return 0
	}
	return cost.Div(qty).InexactFloat64()
}

// BreakEvenPrice 含手续费的保本价
func BreakEvenPrice(fills []order.Fill, feeRate float64) float64 {
	cost, qty := decimal.Zero, decimal.Zero
	for _, f := range fills {
		if f.Side != exchange.SideBuy {
			continue
		}
		cost = cost.Add(dec(f.Cost()))
		qty = qty.Add(dec(f.ExecutedQty))
	}
	if !qty.IsPositive() {
		return 0
	}
	withFees := cost.Mul(decimal.NewFromInt(1).Add(dec(feeRate)))
	return withFees.Div(qty).InexactFloat64()
}

// Aggregate 汇总成交
// 每笔手续费优先使用实际 commission，否则买入按 taker、卖出按 maker 费率估算
func Aggregate(fills []order.Fill, rates exchange.FeeRates) (Totals, error) {
	var qty, cost, fees decimal.Decimal
	for _, f := range fills {
		if err := checkFill(f); err != nil {
			return Totals{}, err
		}
		c := dec(f.Cost())
		q := dec(f.ExecutedQty)

		var fee decimal.Decimal
		if f.Commission != nil {
			fee = dec(*f.Commission)
		} else if f.Side == exchange.SideBuy {
			fee = c.Mul(dec(rates.Taker))
		} else {
			fee = c.Mul(dec(rates.Maker))
		}
		fees = fees.Add(fee)

		if f.Side == exchange.SideBuy {
			cost = cost.Add(c)
			qty = qty.Add(q)
		} else {
			cost = cost.Sub(c)
			qty = qty.Sub(q)
		}
	}

	return Totals{
		TotalQty:  qty.InexactFloat64(),
		TotalCost: cost.InexactFloat64(),
		TotalFees: fees.InexactFloat64(),
		Count:     len(fills),
	}, nil
}

// PnL 盈亏金额和百分比，成本 <= 0 时百分比为 0
func PnL(totalQty, totalCost, currentPrice float64) (amount, percent float64) {
	value := dec(totalQty).Mul(dec(currentPrice))
	pnl := value.Sub(dec(totalCost))
	amount = pnl.InexactFloat64()
	if totalCost <= 0 {
		return amount, 0
	}
	return amount, pnl.Div(dec(totalCost)).Mul(hundred).InexactFloat64()
}

// LockedQuantity 卖单锁定的基础币数量，买单锁定的是计价币不计入
func LockedQuantity(open []order.OpenOrder) float64 {
	total := decimal.Zero
	for _, o := range open {
		if o.Side != exchange.SideSell {
			continue
		}
		locked := dec(o.OrigQty).Sub(dec(o.ExecutedQty))
		if locked.IsPositive() {
			total = total.Add(locked)
		}
	}
	return total.InexactFloat64()
}

// Summary 组合汇总
type Summary struct {
	TotalCost  float64 `json:"total_cost"`
	TotalValue float64 `json:"total_value"`
	PnLAmount  float64 `json:"pnl_amount"`
	PnLPercent float64 `json:"pnl_percent"`
	Positions  int     `json:"positions"`
}

// Summarize 汇总多个持仓，带 Error 的持仓数值为 0，不影响结果
func Summarize(positions []*Metrics) Summary {
	cost, value := decimal.Zero, decimal.Zero
	n := 0
	for _, p := range positions {
		if p == nil {
			continue
		}
		cost = cost.Add(dec(p.TotalCost))
		value = value.Add(dec(p.CurrentValue))
		n++
	}
	s := Summary{
		TotalCost:  cost.InexactFloat64(),
		TotalValue: value.InexactFloat64(),
		PnLAmount:  value.Sub(cost).InexactFloat64(),
		Positions:  n,
	}
	if cost.IsPositive() {
		s.PnLPercent = value.Sub(cost).Div(cost).Mul(hundred).InexactFloat64()
	}
	return s
}
