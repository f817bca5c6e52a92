package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"

	"spotfolio/config"
	"spotfolio/exchange"
	"spotfolio/order"
	"spotfolio/symbol"
	"spotfolio/utils"
	"spotfolio/vault"
)

// manualCmd 手动成交子命令容器
type manualCmd struct{}

func (*manualCmd) Name() string     { return "manual" }
func (*manualCmd) Synopsis() string { return "管理手动录入的成交" }
func (*manualCmd) Usage() string {
	return `manual <subcommand> [args]

Commands:
  add    - 录入一笔成交
  list   - 列出手动成交
  delete - 删除一笔手动成交
`
}

func (*manualCmd) SetFlags(*flag.FlagSet) {}
func (*manualCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "manual")
	commander.Register(&manualAddCmd{}, "")
	commander.Register(&manualListCmd{}, "")
	commander.Register(&manualDeleteCmd{}, "")
	return commander.Execute(ctx, args...)
}

type manualAddCmd struct {
	side       string
	quantity   float64
	price      float64
	quoteQty   float64
	commission float64
	date       string
	note       string
}

func (*manualAddCmd) Name() string     { return "add" }
func (*manualAddCmd) Synopsis() string { return "录入一笔手动成交" }
func (*manualAddCmd) Usage() string {
	return `manual add -side BUY|SELL -qty <q> -price <p> [-quote <q>] [-fee <f>] [-date <RFC3339>] [-note <text>] <symbol>
`
}

func (c *manualAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.side, "side", "BUY", "BUY 或 SELL")
	f.Float64Var(&c.quantity, "qty", 0, "成交数量")
	f.Float64Var(&c.price, "price", 0, "成交价")
	f.Float64Var(&c.quoteQty, "quote", 0, "成交额，默认 qty*price")
	f.Float64Var(&c.commission, "fee", -1, "手续费（计价币），不填按费率估算")
	f.StringVar(&c.date, "date", "", "成交时间，默认当前")
	f.StringVar(&c.note, "note", "", "备注")
}

func (c *manualAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "需要一个交易对")
		return subcommands.ExitUsageError
	}
	in := order.ManualFillInput{
		Symbol:   f.Arg(0),
		Side:     exchange.Side(c.side),
		Quantity: c.quantity,
		Price:    c.price,
		QuoteQty: c.quoteQty,
		Note:     c.note,
	}
	if c.commission >= 0 {
		fee := c.commission
		in.Commission = &fee
	}
	if c.date != "" {
		t, err := time.ParseInLocation(time.RFC3339, c.date, utils.Location())
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 -date 失败: %v\n", err)
			return subcommands.ExitUsageError
		}
		in.Time = t.UnixMilli()
	}
	if err := in.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	return withStore(ctx, func(app *App) error {
		book, err := order.NewManualBook(ctx, app.Docs, app.Events)
		if err != nil {
			return err
		}
		fill, err := book.Add(ctx, in)
		if err != nil {
			return err
		}
		fmt.Printf("✅ 已录入 %s %s %.8g @ %.8g (id %d)\n", fill.Symbol, fill.Side, fill.ExecutedQty, fill.AvgPrice, fill.ID)
		return nil
	})
}

type manualListCmd struct {
	asJSON bool
}

func (*manualListCmd) Name() string     { return "list" }
func (*manualListCmd) Synopsis() string { return "列出手动成交" }
func (*manualListCmd) Usage() string {
	return `manual list [-json] [<symbol>]
`
}

func (c *manualListCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "输出 JSON")
}

func (c *manualListCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withStore(ctx, func(app *App) error {
		book, err := order.NewManualBook(ctx, app.Docs, app.Events)
		if err != nil {
			return err
		}
		symbols := book.Symbols()
		if f.NArg() > 0 {
			symbols = []string{utils.NormalizeSymbol(f.Arg(0))}
		}

		all := map[string][]order.Fill{}
		for _, s := range symbols {
			all[s] = book.Fills(s)
		}
		if c.asJSON {
			return printJSON(all)
		}
		for _, s := range symbols {
			printMarkdown(fillsMarkdown(s+" 手动成交", all[s]))
		}
		if len(symbols) == 0 {
			fmt.Println("无手动成交")
		}
		return nil
	})
}

type manualDeleteCmd struct{}

func (*manualDeleteCmd) Name() string     { return "delete" }
func (*manualDeleteCmd) Synopsis() string { return "删除一笔手动成交" }
func (*manualDeleteCmd) Usage() string {
	return `manual delete <symbol> <id>
`
}

func (*manualDeleteCmd) SetFlags(*flag.FlagSet) {}

func (*manualDeleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "需要交易对和成交 id")
		return subcommands.ExitUsageError
	}
	id, err := strconv.ParseInt(f.Arg(1), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无效的 id: %v\n", err)
		return subcommands.ExitUsageError
	}
	return withStore(ctx, func(app *App) error {
		book, err := order.NewManualBook(ctx, app.Docs, app.Events)
		if err != nil {
			return err
		}
		if err := book.Delete(ctx, f.Arg(0), id); err != nil {
			return err
		}
		fmt.Printf("🗑️ 已删除 %s #%d\n", utils.NormalizeSymbol(f.Arg(0)), id)
		return nil
	})
}

// mapCmd 交易对映射子命令容器
type mapCmd struct{}

func (*mapCmd) Name() string     { return "map" }
func (*mapCmd) Synopsis() string { return "管理无效交易对到有效交易对的映射" }
func (*mapCmd) Usage() string {
	return `map <subcommand> [args]

Commands:
  add    - 添加映射
  list   - 列出映射
  remove - 删除映射
`
}

func (*mapCmd) SetFlags(*flag.FlagSet) {}
func (*mapCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "map")
	commander.Register(&mapAddCmd{}, "")
	commander.Register(&mapListCmd{}, "")
	commander.Register(&mapRemoveCmd{}, "")
	return commander.Execute(ctx, args...)
}

// withResolver 打开本地存储并加载映射
func withResolver(ctx context.Context, fn func(*symbol.Resolver) error) subcommands.ExitStatus {
	return withStore(ctx, func(app *App) error {
		r, err := symbol.NewResolver(ctx, app.Docs, app.Events)
		if err != nil {
			return err
		}
		return fn(r)
	})
}

type mapAddCmd struct{}

func (*mapAddCmd) Name() string     { return "add" }
func (*mapAddCmd) Synopsis() string { return "添加映射" }
func (*mapAddCmd) Usage() string {
	return `map add <invalid-symbol> <valid-symbol>
`
}
func (*mapAddCmd) SetFlags(*flag.FlagSet) {}

func (*mapAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "需要无效交易对和有效交易对")
		return subcommands.ExitUsageError
	}
	return withResolver(ctx, func(r *symbol.Resolver) error {
		if err := r.AddMapping(ctx, f.Arg(0), f.Arg(1)); err != nil {
			return err
		}
		fmt.Printf("✅ %s → %s\n", utils.NormalizeSymbol(f.Arg(0)), utils.NormalizeSymbol(f.Arg(1)))
		return nil
	})
}

type mapListCmd struct {
	asJSON bool
}

func (*mapListCmd) Name() string     { return "list" }
func (*mapListCmd) Synopsis() string { return "列出映射" }
func (*mapListCmd) Usage() string {
	return `map list [-json]
`
}

func (c *mapListCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "输出 JSON")
}

func (c *mapListCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withResolver(ctx, func(r *symbol.Resolver) error {
		if c.asJSON {
			return printJSON(r.Mappings())
		}
		printMarkdown(mappingsMarkdown(r.Mappings()))
		return nil
	})
}

type mapRemoveCmd struct{}

func (*mapRemoveCmd) Name() string     { return "remove" }
func (*mapRemoveCmd) Synopsis() string { return "删除映射" }
func (*mapRemoveCmd) Usage() string {
	return `map remove <invalid-symbol>
`
}
func (*mapRemoveCmd) SetFlags(*flag.FlagSet) {}

func (*mapRemoveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "需要一个交易对")
		return subcommands.ExitUsageError
	}
	return withResolver(ctx, func(r *symbol.Resolver) error {
		removed, err := r.RemoveMapping(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("映射 %s 不存在", utils.NormalizeSymbol(f.Arg(0)))
		}
		fmt.Printf("🗑️ 已删除映射 %s\n", utils.NormalizeSymbol(f.Arg(0)))
		return nil
	})
}

// vaultCmd 凭证库子命令容器
type vaultCmd struct{}

func (*vaultCmd) Name() string     { return "vault" }
func (*vaultCmd) Synopsis() string { return "管理加密保存的 API 凭证" }
func (*vaultCmd) Usage() string {
	return `vault <subcommand> [args]

Commands:
  init   - 加密保存 API Key 和 Secret
  check  - 校验口令能否解密
  delete - 删除凭证库
`
}

func (*vaultCmd) SetFlags(*flag.FlagSet) {}
func (*vaultCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "vault")
	commander.Register(&vaultInitCmd{}, "")
	commander.Register(&vaultCheckCmd{}, "")
	commander.Register(&vaultDeleteCmd{}, "")
	return commander.Execute(ctx, args...)
}

// withConfig 只需要配置的命令
func withConfig(fn func(*config.Config) error) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := fn(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type vaultInitCmd struct {
	force bool
}

func (*vaultInitCmd) Name() string     { return "init" }
func (*vaultInitCmd) Synopsis() string { return "加密保存 API 凭证" }
func (*vaultInitCmd) Usage() string {
	return `vault init [-force]:
  从环境变量 BINANCE_API_KEY / BINANCE_API_SECRET 或交互输入读取凭证。
`
}

func (c *vaultInitCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "覆盖已有凭证库")
}

func (c *vaultInitCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withConfig(func(cfg *config.Config) error {
		v := newVault(cfg)
		if v.Exists() && !c.force {
			return fmt.Errorf("凭证库已存在: %s（使用 -force 覆盖）", v.Path())
		}

		apiKey := os.Getenv("BINANCE_API_KEY")
		if apiKey == "" {
			var err error
			if apiKey, err = readLine("API Key: "); err != nil {
				return err
			}
		}
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		if apiSecret == "" {
			var err error
			if apiSecret, err = readPassphrase("API Secret: "); err != nil {
				return err
			}
		}

		pass, err := readPassphrase("设置凭证库口令: ")
		if err != nil {
			return err
		}
		if err := v.ValidatePassphrase(pass); err != nil {
			return err
		}
		if os.Getenv(PassphraseEnv) == "" {
			confirm, err := readPassphrase("再次输入口令: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return fmt.Errorf("两次输入的口令不一致")
			}
		}

		if err := v.Encrypt(apiKey, apiSecret, pass); err != nil {
			return err
		}
		fmt.Printf("🔐 凭证已加密保存到 %s\n", v.Path())
		fmt.Println("   在配置中设置 exchange.use_vault: true 以启用")
		return nil
	})
}

type vaultCheckCmd struct{}

func (*vaultCheckCmd) Name() string     { return "check" }
func (*vaultCheckCmd) Synopsis() string { return "校验口令" }
func (*vaultCheckCmd) Usage() string {
	return `vault check
`
}
func (*vaultCheckCmd) SetFlags(*flag.FlagSet) {}

func (*vaultCheckCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withConfig(func(cfg *config.Config) error {
		v := newVault(cfg)
		if !v.Exists() {
			return fmt.Errorf("%w: %s", vault.ErrNotFound, v.Path())
		}
		pass, err := readPassphrase("凭证库口令: ")
		if err != nil {
			return err
		}
		creds, err := v.Decrypt(pass)
		if err != nil {
			return err
		}
		fmt.Printf("✅ 解密成功，API Key: %s\n", maskKey(creds.APIKey))
		return nil
	})
}

type vaultDeleteCmd struct {
	yes bool
}

func (*vaultDeleteCmd) Name() string     { return "delete" }
func (*vaultDeleteCmd) Synopsis() string { return "删除凭证库" }
func (*vaultDeleteCmd) Usage() string {
	return `vault delete -yes
`
}

func (c *vaultDeleteCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "确认删除")
}

func (c *vaultDeleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		fmt.Fprintln(os.Stderr, "删除凭证库需要 -yes")
		return subcommands.ExitUsageError
	}
	return withConfig(func(cfg *config.Config) error {
		v := newVault(cfg)
		if err := v.Delete(); err != nil {
			return err
		}
		fmt.Printf("🗑️ 已删除 %s\n", v.Path())
		return nil
	})
}

// maskKey 只保留首尾各 4 位
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
