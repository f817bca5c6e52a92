package utils

import "strings"

// QuotePriority 查找交易对时计价币的优先级
var QuotePriority = []string{"USDT", "BUSD", "USDC", "BTC", "ETH"}

// StableCoins 视为 1 美元的稳定币
var StableCoins = []string{"USDT", "USDC", "BUSD", "TUSD", "DAI", "USDP", "FDUSD", "USDK"}

// knownQuotes 拆分交易对时尝试的计价币后缀，长后缀在前
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USDP", "USDK", "DAI", "BTC", "ETH", "BNB", "EUR", "TRY"}

// IsStableCoin 判断资产是否为稳定币
func IsStableCoin(asset string) bool {
	asset = strings.ToUpper(asset)
	for _, s := range StableCoins {
		if s == asset {
			return true
		}
	}
	return false
}

// NormalizeSymbol 统一交易对格式：去空白、去分隔符、大写
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

// SplitSymbol 按已知计价币后缀拆分交易对，无法识别时 ok=false
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	symbol = NormalizeSymbol(symbol)
	for _, q := range knownQuotes {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return symbol[:len(symbol)-len(q)], q, true
		}
	}
	return symbol, "", false
}

// AssetFromPair 从交易对推导基础资产，无法识别时取前 3 个字符
func AssetFromPair(pair string) string {
	if base, _, ok := SplitSymbol(pair); ok {
		return base
	}
	if len(pair) > 3 {
		return pair[:3]
	}
	return pair
}
