package order

import (
	"context"
	"errors"
	"math"
	"testing"

	"spotfolio/exchange"
	"spotfolio/storage"
)

func newTestBook(t *testing.T, dir string) *ManualBook {
	t.Helper()
	fs, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	book, err := NewManualBook(context.Background(), storage.NewDocuments(fs, nil, 0), nil)
	if err != nil {
		t.Fatalf("创建手动订单簿失败: %v", err)
	}
	return book
}

func TestManualFillValidation(t *testing.T) {
	book := newTestBook(t, t.TempDir())
	ctx := context.Background()

	cases := []ManualFillInput{
		{Symbol: "", Side: exchange.SideBuy, Quantity: 1, Price: 1},
		{Symbol: "BTCUSDT", Side: "HOLD", Quantity: 1, Price: 1},
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: 0, Price: 1},
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: 1, Price: -1},
	}
	for _, in := range cases {
		if _, err := book.Add(ctx, in); !errors.Is(err, ErrInvalidManualFill) {
			t.Errorf("输入 %+v 应被拒绝, 得到 %v", in, err)
		}
	}
	if book.Count() != 0 {
		t.Errorf("无效输入不应被保存: %d", book.Count())
	}
}

func TestManualFillAddAndPersist(t *testing.T) {
	dir := t.TempDir()
	book := newTestBook(t, dir)
	ctx := context.Background()

	f, err := book.Add(ctx, ManualFillInput{Symbol: "btc/usdt", Side: "buy", Quantity: 0.5, Price: 20000, Time: 1000})
	if err != nil {
		t.Fatalf("新增失败: %v", err)
	}
	if f.ID >= 0 {
		t.Errorf("手动订单 id 应为负数: %d", f.ID)
	}
	if f.Symbol != "BTCUSDT" || f.Side != exchange.SideBuy || f.Origin != OriginManual {
		t.Errorf("字段规范化错误: %+v", f)
	}
	if f.QuoteQty != 10000 || f.AvgPrice != 20000 {
		t.Errorf("成交额或均价错误: %+v", f)
	}
	if f.Ref == "" {
		t.Error("缺少 UUID 引用")
	}

	reopened := newTestBook(t, dir)
	got := reopened.Fills("BTCUSDT")
	if len(got) != 1 || got[0].ID != f.ID {
		t.Fatalf("重新加载后内容错误: %+v", got)
	}
	if syms := reopened.Symbols(); len(syms) != 1 || syms[0] != "BTCUSDT" {
		t.Errorf("交易对列表错误: %v", syms)
	}
}

func TestManualFillDeleteRemovesExactlyOne(t *testing.T) {
	book := newTestBook(t, t.TempDir())
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		f, err := book.Add(ctx, ManualFillInput{Symbol: "ETHUSDT", Side: exchange.SideBuy, Quantity: 1, Price: 2000, Time: int64(i + 1)})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, f.ID)
	}

	if err := book.Delete(ctx, "ETHUSDT", ids[1]); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	left := book.Fills("ETHUSDT")
	if len(left) != 2 {
		t.Fatalf("应剩余 2 笔, 得到 %d", len(left))
	}
	for _, f := range left {
		if f.ID == ids[1] {
			t.Error("被删除的订单仍然存在")
		}
	}

	if err := book.Delete(ctx, "ETHUSDT", ids[1]); !errors.Is(err, ErrManualFillNotFound) {
		t.Errorf("重复删除应返回 ErrManualFillNotFound, 得到 %v", err)
	}
	if err := book.Delete(ctx, "XRPUSDT", ids[0]); !errors.Is(err, ErrManualFillNotFound) {
		t.Errorf("错误交易对删除应返回 ErrManualFillNotFound, 得到 %v", err)
	}
	if book.Count() != 2 {
		t.Errorf("失败的删除不应改变数量: %d", book.Count())
	}
}

func TestManualBookWithoutStore(t *testing.T) {
	book, err := NewManualBook(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := book.Add(context.Background(), ManualFillInput{Symbol: "BTCUSDT", Side: exchange.SideSell, Quantity: 1, Price: 1}); err != nil {
		t.Fatalf("内存模式新增失败: %v", err)
	}
	if book.Count() != 1 {
		t.Errorf("数量错误: %d", book.Count())
	}
}

func TestLoadedManualFillsAreSanitized(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	doc := map[string][]map[string]interface{}{
		"XYZUSDT": {
			{"id": -7, "symbol": "XYZUSDT", "side": "BUY", "executed_qty": 2, "quote_qty": 10, "avg_price": 999, "time": 2, "origin": "MANUAL"},
			{"id": 5, "side": "BUY", "executed_qty": 1, "quote_qty": 4, "avg_price": 1, "time": 1, "origin": "EXCHANGE"},
		},
	}
	if err := fs.Save(ctx, storage.DocManualFills, doc); err != nil {
		t.Fatal(err)
	}

	book := newTestBook(t, dir)
	fills := book.Fills("XYZUSDT")
	if len(fills) != 2 {
		t.Fatalf("应加载 2 笔, 得到 %d", len(fills))
	}
	if fills[0].AvgPrice != 5 {
		t.Errorf("均价应重新计算为 5, 得到 %f", fills[0].AvgPrice)
	}
	second := fills[1]
	if second.ID >= 0 || second.Origin != OriginManual || second.Symbol != "XYZUSDT" || second.AvgPrice != 4 {
		t.Errorf("文档中的字段未被修正: %+v", second)
	}

	agg := NewAggregator(newFakeExchange(), staticResolver{}, nil, book)
	h := agg.GetOrderHistory(ctx, "XYZUSDT")
	if len(h.Fills) != 2 || h.Fills[0].AvgPrice != 5 {
		t.Errorf("订单历史中的均价错误: %+v", h.Fills)
	}
	consolidated := agg.GetConsolidatedOrderHistory(ctx, "XYZ", "USDT")
	if len(consolidated) != 2 || math.Abs(consolidated[0].NormalizedPrice-5) > 1e-9 {
		t.Errorf("汇总折算价错误: %+v", consolidated)
	}

	// 新增时也会写回修正后的文档
	if _, err := book.Add(ctx, ManualFillInput{Symbol: "XYZUSDT", Side: exchange.SideSell, Quantity: 1, Price: 6, Time: 3}); err != nil {
		t.Fatal(err)
	}
	for _, f := range newTestBook(t, dir).Fills("XYZUSDT") {
		if f.ID >= 0 || f.AvgPrice != f.QuoteQty/f.ExecutedQty {
			t.Errorf("写回的文档未修正: %+v", f)
		}
	}
}
