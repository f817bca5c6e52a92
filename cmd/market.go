package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"spotfolio/order"
	"spotfolio/position"
	"spotfolio/utils"
	"spotfolio/web"
)

type priceCmd struct {
	noCache bool
}

func (*priceCmd) Name() string     { return "price" }
func (*priceCmd) Synopsis() string { return "查询交易对当前价格" }
func (*priceCmd) Usage() string {
	return `price [-no-cache] <symbol>...:
  按交易对查询价格，交易所无效的交易对会走映射和备用接口。
`
}

func (c *priceCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.noCache, "no-cache", false, "跳过价格缓存")
}

func (c *priceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "需要至少一个交易对")
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(app *App) error {
		var failed int
		for _, arg := range f.Args() {
			symbol := utils.NormalizeSymbol(arg)
			price, err := app.Market.GetPrice(ctx, symbol, !c.noCache)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%s: %v\n", symbol, err)
				continue
			}
			fmt.Printf("%s\t%.8g\n", symbol, price)
		}
		if failed > 0 {
			return fmt.Errorf("%d 个交易对查询失败", failed)
		}
		return nil
	})
}

type balancesCmd struct {
	minUSD  float64
	asJSON  bool
	showAll bool
}

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "显示现货余额及 USD 估值" }
func (*balancesCmd) Usage() string {
	return `balances [-min-usd <value>] [-all] [-json]:
  列出非零余额，默认隐藏低于 market.min_usd_value 的资产。
`
}

func (c *balancesCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.minUSD, "min-usd", -1, "最小 USD 价值，默认取配置")
	f.BoolVar(&c.showAll, "all", false, "显示全部非零余额")
	f.BoolVar(&c.asJSON, "json", false, "输出 JSON")
}

func (c *balancesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(app *App) error {
		min := c.minUSD
		if min < 0 {
			min = app.Config.Market.MinUSDValue
		}
		if c.showAll {
			min = 0
		}
		balances := app.Market.GetSpotBalances(ctx, min)
		if c.asJSON {
			return printJSON(balances)
		}
		printMarkdown(balancesMarkdown(balances))
		return nil
	})
}

type historyCmd struct {
	consolidated bool
	base         string
	open         bool
	asJSON       bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "显示成交历史（交易所 + 手动）" }
func (*historyCmd) Usage() string {
	return `history [-open] [-json] <symbol>
history -consolidated [-base <currency>] [-json] <asset>:
  单交易对成交历史，或某资产在全部交易对上折算到基准货币的汇总历史。
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.consolidated, "consolidated", false, "按资产汇总所有交易对")
	f.StringVar(&c.base, "base", "", "汇总时的基准货币，默认取 market.base_currency")
	f.BoolVar(&c.open, "open", false, "同时显示挂单")
	f.BoolVar(&c.asJSON, "json", false, "输出 JSON")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "需要一个交易对或资产")
		return subcommands.ExitUsageError
	}
	arg := utils.NormalizeSymbol(f.Arg(0))

	return withApp(ctx, func(app *App) error {
		if c.consolidated {
			base := c.base
			if base == "" {
				base = app.Config.Market.BaseCurrency
			}
			base = utils.NormalizeSymbol(base)
			fills := app.Orders.GetConsolidatedOrderHistory(ctx, arg, base)
			if c.asJSON {
				return printJSON(fills)
			}
			printMarkdown(fillsMarkdown(fmt.Sprintf("%s 汇总成交 (%s)", arg, base), fills))
			return nil
		}

		history := app.Orders.GetOrderHistory(ctx, arg)
		var open []order.OpenOrder
		if c.open {
			open = app.Orders.GetOpenOrders(ctx, arg)
		}
		if c.asJSON {
			return printJSON(map[string]interface{}{"history": history, "open_orders": open})
		}
		if history.Error != "" {
			fmt.Fprintf(os.Stderr, "⚠️ %s\n", history.Error)
		}
		title := arg + " 成交历史"
		if history.MappedSymbol != "" {
			title += " → " + history.MappedSymbol
		}
		printMarkdown(fillsMarkdown(title, history.Fills))
		if c.open {
			printMarkdown(openOrdersMarkdown(open))
		}
		return nil
	})
}

type positionCmd struct {
	consolidated bool
	base         string
	price        float64
	orders       string
	asJSON       bool
}

func (*positionCmd) Name() string     { return "position" }
func (*positionCmd) Synopsis() string { return "计算持仓均价、保本价和盈亏" }
func (*positionCmd) Usage() string {
	return `position [-price <p>] [-orders <id,id,...>] [-json] <symbol>
position -consolidated [-base <currency>] [-json] <asset>:
  -orders 只统计指定的成交（手动成交的 id 为负数）。
`
}

func (c *positionCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.consolidated, "consolidated", false, "按资产汇总所有交易对")
	f.StringVar(&c.base, "base", "", "汇总时的基准货币，默认取 market.base_currency")
	f.Float64Var(&c.price, "price", 0, "手动指定当前价")
	f.StringVar(&c.orders, "orders", "", "只统计这些成交 id，逗号分隔")
	f.BoolVar(&c.asJSON, "json", false, "输出 JSON")
}

func (c *positionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "需要一个交易对或资产")
		return subcommands.ExitUsageError
	}
	arg := utils.NormalizeSymbol(f.Arg(0))

	opts := position.Options{}
	if c.price > 0 {
		p := c.price
		opts.ManualPrice = &p
	}
	if c.orders != "" {
		ids, err := parseIDs(c.orders)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 -orders 失败: %v\n", err)
			return subcommands.ExitUsageError
		}
		opts.IncludeOrderIDs = ids
	}

	return withApp(ctx, func(app *App) error {
		var m *position.Metrics
		if c.consolidated {
			base := c.base
			if base == "" {
				base = app.Config.Market.BaseCurrency
			}
			m = app.Positions.CalculateConsolidatedPositionMetrics(ctx, arg, utils.NormalizeSymbol(base))
		} else {
			m = app.Positions.CalculatePositionMetrics(ctx, arg, opts)
		}
		if c.asJSON {
			return printJSON(m)
		}
		printMarkdown(metricsMarkdown(m))
		return nil
	})
}

// parseIDs "1, -2,3" → [1 -2 3]
func parseIDs(raw string) ([]int64, error) {
	ids := []int64{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type permissionsCmd struct{}

func (*permissionsCmd) Name() string     { return "permissions" }
func (*permissionsCmd) Synopsis() string { return "检查 API Key 权限是否为只读" }
func (*permissionsCmd) Usage() string {
	return `permissions:
  查询 API Key 的权限，开启了交易或提现时给出警告。
`
}

func (*permissionsCmd) SetFlags(*flag.FlagSet) {}

func (*permissionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(app *App) error {
		result := web.CheckExchangePermissions(ctx, "binance", app.Exchange)
		fmt.Print(web.FormatPermissionReport(result))
		if result.ErrorMessage != "" {
			return fmt.Errorf("权限检查失败: %s", result.ErrorMessage)
		}
		return nil
	})
}
