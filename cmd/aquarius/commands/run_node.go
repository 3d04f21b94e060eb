package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/waiter"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/node"
)

// AddNodeFlags exposes some common configuration options on the command-line.
func AddNodeFlags(cmd *cobra.Command, conf *config.Config) {
	// store flags
	cmd.Flags().String("store.backend", conf.Store.Backend, "asset store: elasticsearch | kv")
	cmd.Flags().String("store.es-address", conf.Store.ESAddress, "Elasticsearch URL")
	cmd.Flags().String("db-backend", conf.DBBackend, "database backend of the kv store: goleveldb | memdb")

	// chain flags
	cmd.Flags().String("chain.rpc-url", conf.Chain.RPCURL, "JSON-RPC endpoint of the EVM node")
	cmd.Flags().String("chain.address-file", conf.Chain.AddressFile, "contract addresses file")

	// events flags
	cmd.Flags().Bool("events.enabled", conf.Events.Enabled, "run the events monitor")
	cmd.Flags().Bool("events.clean-start", conf.Events.CleanStart, "delete the assets of the chain before indexing")
	cmd.Flags().Int64("events.start-block", conf.Events.StartBlock, "first block to index (-1: read it from the address file)")

	// api flags
	cmd.Flags().String("api.listen-address", conf.API.ListenAddress, "API listen address, e.g. tcp://0.0.0.0:5000")
}

// NewRunNodeCmd returns the command that starts the events monitor and the
// API. It runs until SIGINT or SIGTERM.
func NewRunNodeCmd(conf *config.Config, logger log.Logger) *cobra.Command {
	var waitArtifacts bool

	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the aquarius node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if waitArtifacts {
				if conf.Chain.AddressFile == "" {
					return errors.New("--wait-artifacts requires an address file")
				}
				err := waiter.WaitForFile(ctx, logger, conf.Chain.AddressFile,
					conf.Chain.ArtifactsWaitAttempts, conf.Chain.ArtifactsWaitInterval)
				if err != nil {
					return err
				}
			}

			n, err := node.New(ctx, conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(ctx); err != nil {
				_ = n.Close()
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("started node", "node", n.String(), "chain_id", n.ChainID())

			// Stop upon receiving SIGTERM or CTRL-C.
			n.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&waitArtifacts, "wait-artifacts", false, "wait for the address file before starting")
	AddNodeFlags(cmd, conf)
	return cmd
}
