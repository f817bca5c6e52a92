package utils

import "testing"

func TestSplitSymbol(t *testing.T) {
	cases := []struct {
		in          string
		base, quote string
		ok          bool
	}{
		{"BTCUSDT", "BTC", "USDT", true},
		{"eth/btc", "ETH", "BTC", true},
		{"AGLDFDUSD", "AGLD", "FDUSD", true},
		{"XYZ", "XYZ", "", false},
	}
	for _, c := range cases {
		base, quote, ok := SplitSymbol(c.in)
		if base != c.base || quote != c.quote || ok != c.ok {
			t.Errorf("拆分 %s 错误: 得到 (%s, %s, %v)", c.in, base, quote, ok)
		}
	}
}

func TestAssetFromPair(t *testing.T) {
	if got := AssetFromPair("SOLUSDC"); got != "SOL" {
		t.Errorf("期望 SOL, 得到 %s", got)
	}
	if got := AssetFromPair("SHIBFDUSD"); got != "SHIB" {
		t.Errorf("期望 SHIB, 得到 %s", got)
	}
	if got := AssetFromPair("ABCDEF"); got != "ABC" {
		t.Errorf("期望 ABC, 得到 %s", got)
	}
}

func TestIsStableCoin(t *testing.T) {
	if !IsStableCoin("fdusd") {
		t.Error("FDUSD 应该是稳定币")
	}
	if IsStableCoin("BTC") {
		t.Error("BTC 不是稳定币")
	}
}

func TestFromMillis(t *testing.T) {
	if !FromMillis(0).IsZero() {
		t.Error("0 应返回零值时间")
	}
	if FromMillis(1700000000000).UnixMilli() != 1700000000000 {
		t.Error("毫秒转换错误")
	}
}
