package order

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"spotfolio/event"
	"spotfolio/exchange"
	"spotfolio/logger"
	"spotfolio/metrics"
	"spotfolio/storage"
	"spotfolio/utils"
)

var (
	ErrManualFillNotFound = errors.New("手动订单不存在")
	ErrInvalidManualFill  = errors.New("手动订单无效")
)

// DocumentStore 手动订单持久化所需的文档操作
type DocumentStore interface {
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	Mutate(ctx context.Context, key string, v interface{}, fn func() error) error
}

// ManualFillInput 手动录入的成交
type ManualFillInput struct {
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"`
	Quantity   float64       `json:"quantity"`
	Price      float64       `json:"price"`
	QuoteQty   float64       `json:"quote_qty,omitempty"` // 为 0 时按 quantity*price
	Time       int64         `json:"time,omitempty"`      // 毫秒，为 0 时取当前时间
	Commission *float64      `json:"commission,omitempty"`
	Note       string        `json:"note,omitempty"`
}

// Validate 校验并规范化输入
func (in *ManualFillInput) Validate() error {
	in.Symbol = utils.NormalizeSymbol(in.Symbol)
	in.Side = exchange.Side(utils.NormalizeSymbol(string(in.Side)))

	switch {
	case in.Symbol == "":
		return fmt.Errorf("%w: 交易对不能为空", ErrInvalidManualFill)
	case in.Side != exchange.SideBuy && in.Side != exchange.SideSell:
		return fmt.Errorf("%w: 方向必须为 BUY 或 SELL", ErrInvalidManualFill)
	case !(in.Quantity > 0) || math.IsInf(in.Quantity, 0):
		return fmt.Errorf("%w: 数量必须大于 0", ErrInvalidManualFill)
	case !(in.Price > 0) || math.IsInf(in.Price, 0):
		return fmt.Errorf("%w: 价格必须大于 0", ErrInvalidManualFill)
	case in.QuoteQty < 0:
		return fmt.Errorf("%w: 成交额不能为负数", ErrInvalidManualFill)
	case in.Commission != nil && *in.Commission < 0:
		return fmt.Errorf("%w: 手续费不能为负数", ErrInvalidManualFill)
	}
	if in.QuoteQty == 0 {
		in.QuoteQty = in.Quantity * in.Price
	}
	if in.Time <= 0 {
		in.Time = utils.NowMillis()
	}
	return nil
}

// ManualBook 手动成交簿，按交易对保存，每次修改整表写回
type ManualBook struct {
	docs   DocumentStore
	events event.Publisher

	mu    sync.RWMutex
	fills map[string][]Fill
}

// NewManualBook 启动时读取一次
func NewManualBook(ctx context.Context, docs DocumentStore, events event.Publisher) (*ManualBook, error) {
	if events == nil {
		events = event.Discard
	}
	b := &ManualBook{docs: docs, events: events, fills: map[string][]Fill{}}
	if docs == nil {
		return b, nil
	}

	loaded := map[string][]Fill{}
	if _, err := docs.Load(ctx, storage.DocManualFills, &loaded); err != nil {
		return nil, fmt.Errorf("加载手动订单失败: %w", err)
	}
	sanitizeManual(loaded)
	b.fills = loaded
	b.reportCount()
	return b, nil
}

// Add 新增手动成交
func (b *ManualBook) Add(ctx context.Context, in ManualFillInput) (Fill, error) {
	if err := in.Validate(); err != nil {
		return Fill{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var added Fill
	err := b.update(ctx, func(all map[string][]Fill) error {
		ref := uuid.New()
		id := manualID(ref)
		for containsID(all, id) {
			ref = uuid.New()
			id = manualID(ref)
		}
		added = Fill{
			ID:          id,
			Ref:         ref.String(),
			Symbol:      in.Symbol,
			Side:        in.Side,
			Price:       in.Price,
			ExecutedQty: in.Quantity,
			QuoteQty:    in.QuoteQty,
			AvgPrice:    avgPrice(in.QuoteQty, in.Quantity),
			Time:        in.Time,
			Origin:      OriginManual,
			Commission:  in.Commission,
			Note:        in.Note,
		}
		all[in.Symbol] = append(all[in.Symbol], added)
		return nil
	})
	if err != nil {
		return Fill{}, err
	}

	logger.Info("✅ 新增手动订单 %s %s %v @ %v (#%d)", added.Symbol, added.Side, added.ExecutedQty, added.Price, added.ID)
	b.events.Publish(&event.Event{
		Type: event.EventTypeManualFillAdded,
		Data: map[string]interface{}{"symbol": added.Symbol, "id": added.ID},
	})
	return added, nil
}

// Delete 按 id 删除一笔手动成交
func (b *ManualBook) Delete(ctx context.Context, symbol string, id int64) error {
	symbol = utils.NormalizeSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.update(ctx, func(all map[string][]Fill) error {
		list := all[symbol]
		for i, f := range list {
			if f.ID == id {
				rest := append(append([]Fill{}, list[:i]...), list[i+1:]...)
				if len(rest) == 0 {
					delete(all, symbol)
				} else {
					all[symbol] = rest
				}
				return nil
			}
		}
		return fmt.Errorf("%w: %s #%d", ErrManualFillNotFound, symbol, id)
	})
	if err != nil {
		return err
	}

	logger.Info("🗑️ 删除手动订单 %s #%d", symbol, id)
	b.events.Publish(&event.Event{
		Type: event.EventTypeManualFillDeleted,
		Data: map[string]interface{}{"symbol": symbol, "id": id},
	})
	return nil
}

// update 调用方持有 b.mu
func (b *ManualBook) update(ctx context.Context, apply func(map[string][]Fill) error) error {
	if b.docs == nil {
		next := cloneFills(b.fills)
		if err := apply(next); err != nil {
			return err
		}
		sanitizeManual(next)
		b.fills = next
		b.reportCount()
		return nil
	}

	persisted := map[string][]Fill{}
	if err := b.docs.Mutate(ctx, storage.DocManualFills, &persisted, func() error {
		if err := apply(persisted); err != nil {
			return err
		}
		sanitizeManual(persisted)
		return nil
	}); err != nil {
		if errors.Is(err, ErrManualFillNotFound) {
			return err
		}
		return fmt.Errorf("保存手动订单失败: %w", err)
	}
	b.fills = persisted
	b.reportCount()
	return nil
}

// Fills 某个交易对的手动成交副本
func (b *ManualBook) Fills(symbol string) []Fill {
	symbol = utils.NormalizeSymbol(symbol)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Fill(nil), b.fills[symbol]...)
}

// Has 交易对是否有手动成交
func (b *ManualBook) Has(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.fills[utils.NormalizeSymbol(symbol)]) > 0
}

// Symbols 有手动成交的交易对
func (b *ManualBook) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.fills))
	for s, list := range b.fills {
		if len(list) > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Count 手动成交总数
func (b *ManualBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return countFills(b.fills)
}

func (b *ManualBook) reportCount() {
	metrics.GetPrometheusMetrics().SetManualFillsCount(countFills(b.fills))
}

// manualID 取 UUID 的前 63 位作为负数 id
func manualID(u uuid.UUID) int64 {
	v := int64(binary.BigEndian.Uint64(u[:8]) >> 1)
	if v == 0 {
		v = 1
	}
	return -v
}

// sanitizeManual 文档里的字段不可信：均价重算，来源固定为 MANUAL，id 必须为负数
func sanitizeManual(all map[string][]Fill) {
	for symbol, list := range all {
		for i := range list {
			f := &list[i]
			if f.Symbol == "" {
				f.Symbol = symbol
			}
			f.Origin = OriginManual
			f.AvgPrice = avgPrice(f.QuoteQty, f.ExecutedQty)
			if f.ID < 0 {
				continue
			}

			ref, err := uuid.Parse(f.Ref)
			if err != nil {
				ref = uuid.New()
			}
			id := manualID(ref)
			for containsID(all, id) {
				ref = uuid.New()
				id = manualID(ref)
			}
			logger.Warn("⚠️ 手动订单 %s #%d 的 id 不是负数，已重新分配为 #%d", symbol, f.ID, id)
			f.ID = id
			f.Ref = ref.String()
		}
	}
}

func containsID(all map[string][]Fill, id int64) bool {
	for _, list := range all {
		for _, f := range list {
			if f.ID == id {
				return true
			}
		}
	}
	return false
}

func countFills(all map[string][]Fill) int {
	n := 0
	for _, list := range all {
		n += len(list)
	}
	return n
}

func cloneFills(all map[string][]Fill) map[string][]Fill {
	out := make(map[string][]Fill, len(all))
	for k, v := range all {
		out[k] = append([]Fill(nil), v...)
	}
	return out
}
