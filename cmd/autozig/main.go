package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "autozig:", err)
		return 2
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return 0
	}

	logger, err := cli.NewLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "autozig:", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	cli.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := cli.NewRunner(nil).Run(ctx, cfg)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	if err := cli.Report(os.Stdout, res, cli.IsTerminal(os.Stdout)); err != nil {
		logger.Error("write report", zap.Error(err))
		return 1
	}
	return 0
}
