package stream

import (
	"context"
	"errors"
)

// ErrTransport 推送连接失败，调用方应降级为轮询
var ErrTransport = errors.New("推送连接失败")

// TickHandler 收到一条最新价
type TickHandler func(symbol string, price float64)

// Transport 共享的推送连接
//
// Connect 成功后，连接断开时通过 onError 回调一次，之后可以再次 Connect。
type Transport interface {
	Connect(ctx context.Context, onTick TickHandler, onError func(error)) error
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
	Close() error
}
