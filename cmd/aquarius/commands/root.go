package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/libs/cli"
	"github.com/tendermint/aquarius/libs/log"
)

// EnvPrefix of the variables bound to configuration keys, e.g.
// AQUARIUS_API_LISTEN_ADDRESS.
const EnvPrefix = "AQUARIUS"

// ParseConfig retrieves the default environment configuration, applies the
// deployment variables (DB_MODULE, NETWORK_URL, ...) on top of it and
// validates the result.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := config.ApplyEnv(conf, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("error in environment: %w", err)
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point for aquarius.
func RootCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aquarius",
		Short: "Metadata cache of the data assets published on EVM chains",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			if err := cli.BindFlagsLoadViper(cmd, args); err != nil {
				return err
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			if err := config.EnsureRoot(conf.RootDir); err != nil {
				return err
			}
			return log.OverrideWithNewLogger(logger, conf.LogFormat, conf.LogLevel)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP(cli.HomeFlag, "", os.ExpandEnv(filepath.Join("$HOME", config.DefaultAquariusDir)), "directory for config and data")
	cmd.PersistentFlags().Bool(cli.TraceFlag, false, "print out full stack trace on errors")
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level")
	cmd.PersistentFlags().String("log-format", conf.LogFormat, "log format: plain | json")
	cobra.OnInitialize(func() { cli.InitEnv(EnvPrefix) })
	return cmd
}
