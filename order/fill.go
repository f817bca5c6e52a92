package order

import (
	"spotfolio/exchange"
)

// Origin 成交来源
type Origin string

const (
	OriginExchange Origin = "EXCHANGE"
	OriginManual   Origin = "MANUAL"
)

// Fill 一笔成交（交易所或手动录入），创建后不再修改
type Fill struct {
	ID          int64         `json:"id"` // 手动成交为负数
	Ref         string        `json:"ref,omitempty"`
	Symbol      string        `json:"symbol"`
	Side        exchange.Side `json:"side"`
	Price       float64       `json:"price"` // 下单价，仅供展示
	ExecutedQty float64       `json:"executed_qty"`
	QuoteQty    float64       `json:"quote_qty"` // 以计价币计的成交额
	AvgPrice    float64       `json:"avg_price"`
	Time        int64         `json:"time"` // 毫秒
	Origin      Origin        `json:"origin"`
	Commission  *float64      `json:"commission,omitempty"` // 以计价币计，nil 表示未知
	Note        string        `json:"note,omitempty"`

	// 汇总视图附加的信息
	BaseAsset       string  `json:"base_asset,omitempty"`
	QuoteAsset      string  `json:"quote_asset,omitempty"`
	OriginalSymbol  string  `json:"original_symbol,omitempty"`
	NormalizedPrice float64 `json:"normalized_price,omitempty"`
	NormalizedTotal float64 `json:"normalized_total,omitempty"`
	BaseCurrency    string  `json:"base_currency,omitempty"`
}

// IsManual 是否手动录入
func (f Fill) IsManual() bool {
	return f.Origin == OriginManual
}

// Normalized 是否带有折算后的金额
func (f Fill) Normalized() bool {
	return f.BaseCurrency != ""
}

// Cost 计算成本时使用的金额，有折算值时优先
func (f Fill) Cost() float64 {
	if f.Normalized() {
		return f.NormalizedTotal
	}
	return f.QuoteQty
}

// avgPrice 成交均价总是由成交额和数量重新计算
func avgPrice(quoteQty, executedQty float64) float64 {
	if executedQty > 0 {
		return quoteQty / executedQty
	}
	return 0
}

// fromExchange 把交易所订单转换为成交
func fromExchange(o *exchange.Order) Fill {
	return Fill{
		ID:          o.OrderID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Price:       o.Price,
		ExecutedQty: o.ExecutedQty,
		QuoteQty:    o.CummulativeQuoteQty,
		AvgPrice:    avgPrice(o.CummulativeQuoteQty, o.ExecutedQty),
		Time:        o.Time,
		Origin:      OriginExchange,
	}
}

// OpenOrder 未完成的挂单
type OpenOrder struct {
	Symbol      string        `json:"symbol"`
	OrderID     int64         `json:"order_id"`
	Side        exchange.Side `json:"side"`
	Price       float64       `json:"price"`
	OrigQty     float64       `json:"orig_qty"`
	ExecutedQty float64       `json:"executed_qty"`
	LockedQty   float64       `json:"locked_qty"` // 剩余未成交数量
	Time        int64         `json:"time"`
}
