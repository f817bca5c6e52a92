package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"spotfolio/config"
	"spotfolio/market"
	"spotfolio/order"
	"spotfolio/position"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("1, -2,,3")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != -2 || ids[2] != 3 {
		t.Errorf("解析结果错误: %v", ids)
	}
	if _, err := parseIDs("1,abc"); err == nil {
		t.Error("非数字应该报错")
	}
}

func TestMaskKey(t *testing.T) {
	if got := maskKey("abcd1234efgh5678"); got != "abcd****5678" {
		t.Errorf("掩码错误: %s", got)
	}
	if got := maskKey("short"); got != "****" {
		t.Errorf("短 key 应全部隐藏: %s", got)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	old := *configPath
	*configPath = filepath.Join(t.TempDir(), "missing.yaml")
	defer func() { *configPath = old }()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("配置不存在时应使用默认值: %v", err)
	}
	if cfg.Schedule.FeeRefresh == "" || cfg.Exchange.RequestBurst <= 0 {
		t.Errorf("默认值未填充: %+v", cfg.Schedule)
	}
}

func TestReadPassphraseFromEnv(t *testing.T) {
	t.Setenv(PassphraseEnv, "correct horse battery")
	pass, err := readPassphrase("口令: ")
	if err != nil {
		t.Fatal(err)
	}
	if pass != "correct horse battery" {
		t.Errorf("口令错误: %q", pass)
	}
}

func TestLoadCredentialsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	if _, err := loadCredentials(cfg); err == nil {
		t.Error("未配置 key 应该报错")
	}

	cfg.Exchange.APIKey = "k"
	cfg.Exchange.SecretKey = "s"
	creds, err := loadCredentials(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIKey != "k" || creds.APISecret != "s" {
		t.Errorf("凭证错误: %+v", creds)
	}
}

func TestBuildStoreFileBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DataDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Storage.Type = "file"

	app, err := buildStore(cfg)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	book, err := order.NewManualBook(ctx, app.Docs, app.Events)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := book.Add(ctx, order.ManualFillInput{Symbol: "btcusdt", Side: "BUY", Quantity: 1, Price: 100}); err != nil {
		t.Fatalf("录入失败: %v", err)
	}

	// 重新打开后仍能读到
	reopened, err := order.NewManualBook(ctx, app.Docs, app.Events)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.Fills("BTCUSDT")) != 1 {
		t.Errorf("手动成交未持久化")
	}
}

func TestMarkdownRenderers(t *testing.T) {
	md := balancesMarkdown([]market.Balance{
		{Asset: "BTC", Total: 1, USDValue: 43000, Pair: "BTCUSDT"},
		{Asset: "USDT", Total: 100, USDValue: 100},
	})
	if !strings.Contains(md, "| BTC |") || !strings.Contains(md, "43100.00") {
		t.Errorf("余额表错误:\n%s", md)
	}

	fee := 0.1
	md = fillsMarkdown("BTCUSDT", []order.Fill{{Symbol: "BTCUSDT", Side: "BUY", ExecutedQty: 1, AvgPrice: 100, Commission: &fee, Origin: order.OriginManual}})
	if !strings.Contains(md, "MANUAL") || !strings.Contains(md, "0.1") {
		t.Errorf("成交表错误:\n%s", md)
	}
	if md := fillsMarkdown("空", nil); !strings.Contains(md, "无成交记录") {
		t.Errorf("空成交应有提示:\n%s", md)
	}

	md = metricsMarkdown(&position.Metrics{Asset: "BTC", BaseCurrency: "USDT", PnLPercent: 12.345, Error: "价格不可用"})
	if !strings.Contains(md, "BTC (USDT)") || !strings.Contains(md, "12.35%") || !strings.Contains(md, "价格不可用") {
		t.Errorf("持仓表错误:\n%s", md)
	}

	md = mappingsMarkdown(map[string]string{"B": "BUSD", "A": "AUSD"})
	if strings.Index(md, "| A |") > strings.Index(md, "| B |") {
		t.Errorf("映射应按名称排序:\n%s", md)
	}
}
