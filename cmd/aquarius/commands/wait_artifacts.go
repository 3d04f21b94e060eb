package commands

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/waiter"
	"github.com/tendermint/aquarius/libs/log"
)

// MakeWaitArtifactsCommand returns the command that blocks until the
// contracts deployment wrote the address file.
func MakeWaitArtifactsCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var (
		file     string
		attempts int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait-artifacts",
		Short: "Wait for the contract addresses file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = conf.Chain.AddressFile
			}
			if file == "" {
				return errors.New("no address file: set --file or chain.address-file")
			}
			if !cmd.Flags().Changed("attempts") {
				attempts = conf.Chain.ArtifactsWaitAttempts
			}
			if !cmd.Flags().Changed("interval") {
				interval = conf.Chain.ArtifactsWaitInterval
			}
			return waiter.WaitForFile(cmd.Context(), logger, file, attempts, interval)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "file to wait for (default: chain.address-file)")
	cmd.Flags().IntVar(&attempts, "attempts", waiter.DefaultAttempts, "number of checks")
	cmd.Flags().DurationVar(&interval, "interval", waiter.DefaultInterval, "pause between two checks")
	return cmd
}
