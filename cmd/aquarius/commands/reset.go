package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/events"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
)

// MakeResetChainCommand returns the command that deletes the cached assets
// of a chain and its last processed block. The next start indexes the chain
// again from its start block.
func MakeResetChainCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var chainID int64

	cmd := &cobra.Command{
		Use:   "reset-chain",
		Short: "Delete the cached assets of a chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("chain-id") {
				return errors.New("--chain-id is required")
			}
			s, err := store.NewFromConfig(conf)
			if err != nil {
				return fmt.Errorf("opening %s store: %w", conf.Store.Backend, err)
			}
			defer s.Close()

			deleted, err := events.ResetChain(cmd.Context(), s, chainID)
			if err != nil {
				return err
			}
			logger.Info("chain reset", "chain_id", chainID, "deleted_assets", deleted)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d assets of chain %d\n", deleted, chainID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "chain to reset")
	return cmd
}
