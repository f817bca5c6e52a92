package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"

	"spotfolio/cmd"
)

// Version 版本号
var Version = "0.1.0"

var showVersion = flag.Bool("version", false, "显示版本号")

func main() {
	c := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")
	cmd.Register(c)

	flag.Parse()
	if *showVersion {
		fmt.Printf("spotfolio %s\n", Version)
		return
	}

	// 不带子命令时直接启动服务
	if flag.NArg() == 0 {
		flag.CommandLine.Parse(append(os.Args[1:], "serve"))
	}
	os.Exit(int(c.Execute(context.Background())))
}
