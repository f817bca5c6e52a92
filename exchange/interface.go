package exchange

import "context"

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Balance 现货资产余额
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Account 现货账户
type Account struct {
	Balances    []Balance
	MakerFee    float64 // 账户级费率（小数，如 0.001）
	TakerFee    float64
	CanTrade    bool
	CanWithdraw bool
	CanDeposit  bool
	UpdateTime  int64
}

// Order 交易所返回的订单
type Order struct {
	Symbol              string
	OrderID             int64
	Side                Side
	Status              OrderStatus
	Price               float64
	OrigQty             float64
	ExecutedQty         float64
	CummulativeQuoteQty float64
	Time                int64 // 毫秒
	UpdateTime          int64
}

// SymbolInfo 交易对信息
type SymbolInfo struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
}

// ExchangeInfo 交易所规则
type ExchangeInfo struct {
	Symbols []SymbolInfo
}

// TradeFee 交易对费率
type TradeFee struct {
	Symbol   string
	MakerFee float64
	TakerFee float64
}

// FeeRates Maker/Taker 费率（小数）
type FeeRates struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// ExchangeAPI 只读的现货交易所接口
type ExchangeAPI interface {
	GetName() string

	GetAccount(ctx context.Context) (*Account, error)
	GetAllOrders(ctx context.Context, symbol string, limit int) ([]*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)
	GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
	GetTradeFee(ctx context.Context, symbol string) (*TradeFee, error)

	// GetSymbolTicker 主价格查询
	GetSymbolTicker(ctx context.Context, symbol string) (float64, error)
	// ListPrices 全市场最新价
	ListPrices(ctx context.Context) (map[string]float64, error)

	// 以下为交易对无效时的备用价格来源
	Get24hTicker(ctx context.Context, symbol string) (float64, error)
	GetAveragePrice(ctx context.Context, symbol string) (float64, error)
	GetRecentTrade(ctx context.Context, symbol string) (float64, error)
	GetLatestKlineClose(ctx context.Context, symbol string) (float64, error)
}
