package main

import (
	"context"
	"os"

	"github.com/tendermint/aquarius/cmd/aquarius/commands"
	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/libs/log"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := config.DefaultConfig()
	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitFilesCommand(conf, logger),
		commands.NewRunNodeCmd(conf, logger),
		commands.MakeWaitArtifactsCommand(conf, logger),
		commands.MakeReindexEventCommand(conf, logger),
		commands.MakeResetChainCommand(conf, logger),
		commands.MakeVersionCommand(),
	)

	if err := rcmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
