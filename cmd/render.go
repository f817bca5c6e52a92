package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"spotfolio/market"
	"spotfolio/order"
	"spotfolio/position"
	"spotfolio/utils"
)

// printMarkdown 终端渲染，失败时原样输出
func printMarkdown(md string) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return utils.FromMillis(ms).Format(time.DateTime)
}

func formatCommission(c *float64) string {
	if c == nil {
		return "?"
	}
	return fmt.Sprintf("%.8g", *c)
}

func balancesMarkdown(balances []market.Balance) string {
	var b strings.Builder
	var total float64
	fmt.Fprintf(&b, "# 现货余额\n\n")
	fmt.Fprintln(&b, "| 资产 | 可用 | 冻结 | 总量 | 价格 | 交易对 | USD 价值 |")
	fmt.Fprintln(&b, "|:---|---:|---:|---:|---:|:---|---:|")
	for _, bal := range balances {
		total += bal.USDValue
		fmt.Fprintf(&b, "| %s | %.8g | %.8g | %.8g | %.8g | %s | %.2f |\n",
			bal.Asset, bal.Free, bal.Locked, bal.Total, bal.Price, bal.Pair, bal.USDValue)
	}
	fmt.Fprintf(&b, "\n**合计**: %.2f USD\n", total)
	return b.String()
}

func fillsMarkdown(title string, fills []order.Fill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if len(fills) == 0 {
		fmt.Fprintln(&b, "_无成交记录_")
		return b.String()
	}
	fmt.Fprintln(&b, "| 时间 | 交易对 | 方向 | 数量 | 均价 | 成交额 | 手续费 | 来源 |")
	fmt.Fprintln(&b, "|:---|:---|:---:|---:|---:|---:|---:|:---|")
	for _, f := range fills {
		fmt.Fprintf(&b, "| %s | %s | %s | %.8g | %.8g | %.8g | %s | %s |\n",
			formatTime(f.Time), f.Symbol, f.Side, f.ExecutedQty, f.AvgPrice, f.QuoteQty,
			formatCommission(f.Commission), f.Origin)
	}
	return b.String()
}

func metricsMarkdown(m *position.Metrics) string {
	var b strings.Builder
	name := m.Symbol
	if name == "" {
		name = m.Asset + " (" + m.BaseCurrency + ")"
	}
	fmt.Fprintf(&b, "# 持仓 %s\n\n", name)
	if m.Error != "" {
		fmt.Fprintf(&b, "> ⚠️ %s\n\n", m.Error)
	}
	if m.MappedSymbol != "" {
		fmt.Fprintf(&b, "映射到 `%s`\n\n", m.MappedSymbol)
	}

	fmt.Fprintln(&b, "| 指标 | 数值 |")
	fmt.Fprintln(&b, "|:---|---:|")
	rows := []struct {
		label string
		value float64
	}{
		{"当前价格", m.CurrentPrice},
		{"持仓数量", m.Holdings},
		{"可用", m.Available},
		{"冻结", m.Locked},
		{"买入均价", m.AvgBuyPrice},
		{"保本价", m.BreakEvenPrice},
		{"总成本", m.TotalCost},
		{"总手续费", m.TotalFees},
		{"当前价值", m.CurrentValue},
		{"盈亏", m.PnLAmount},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %.8g |\n", r.label, r.value)
	}
	fmt.Fprintf(&b, "| 盈亏比例 | %.2f%% |\n", m.PnLPercent)
	fmt.Fprintf(&b, "| 成交笔数 | %d |\n", m.OrderCount)

	if len(m.TradingPairs) > 0 {
		fmt.Fprintf(&b, "\n交易对: %s\n", strings.Join(m.TradingPairs, ", "))
	}
	if len(m.OpenOrders) > 0 {
		b.WriteString("\n")
		b.WriteString(openOrdersMarkdown(m.OpenOrders))
	}
	return b.String()
}

func openOrdersMarkdown(open []order.OpenOrder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 挂单\n\n")
	if len(open) == 0 {
		fmt.Fprintln(&b, "_无挂单_")
		return b.String()
	}
	fmt.Fprintln(&b, "| 订单号 | 方向 | 价格 | 数量 | 已成交 | 冻结 |")
	fmt.Fprintln(&b, "|---:|:---:|---:|---:|---:|---:|")
	for _, o := range open {
		fmt.Fprintf(&b, "| %d | %s | %.8g | %.8g | %.8g | %.8g |\n",
			o.OrderID, o.Side, o.Price, o.OrigQty, o.ExecutedQty, o.LockedQty)
	}
	return b.String()
}

func mappingsMarkdown(mappings map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 交易对映射\n\n")
	if len(mappings) == 0 {
		fmt.Fprintln(&b, "_无映射_")
		return b.String()
	}
	keys := make([]string, 0, len(mappings))
	for k := range mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(&b, "| 无效交易对 | 有效交易对 |")
	fmt.Fprintln(&b, "|:---|:---|")
	for _, k := range keys {
		fmt.Fprintf(&b, "| %s | %s |\n", k, mappings[k])
	}
	return b.String()
}
