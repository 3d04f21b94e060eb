package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/libs/log"
	tmos "github.com/tendermint/aquarius/libs/os"
)

// MakeInitFilesCommand returns the command that writes a default config.toml
// under the home directory.
func MakeInitFilesCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the aquarius home directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFilePath(conf.RootDir)
			if tmos.FileExists(path) {
				logger.Info("found config file", "path", path)
				return nil
			}
			if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
				return err
			}
			logger.Info("generated config file", "path", path)
			return nil
		},
	}
}
