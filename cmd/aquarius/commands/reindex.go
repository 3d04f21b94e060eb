package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/libs/progressbar"
	"github.com/tendermint/aquarius/node"
)

const reindexFailed = "event re-index failed"

// MakeReindexEventCommand constructs a command to re-process the events of
// a block interval.
func MakeReindexEventCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var (
		fromBlock int64
		toBlock   int64
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "re-process the events of a block interval",
		Long: `
reindex is an offline tool that processes again the metadata, order, price and
token URI events emitted in [from, to] and updates the cached assets. The last
processed block of the running monitor is left untouched. The default to-block
is 0, meaning the current block of the chain.
	`,
		Example: `
	aquarius reindex --from 2
	aquarius reindex --from 2 --to 10
	`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			n, err := node.New(ctx, conf, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", reindexFailed, err)
			}
			defer func() {
				if err := n.Close(); err != nil {
					logger.Error("closing node", "err", err)
				}
			}()

			if toBlock == 0 {
				if toBlock, err = n.Chain().BlockNumber(ctx); err != nil {
					return fmt.Errorf("%s: reading current block: %w", reindexFailed, err)
				}
			}
			if err := checkValidBlockArgs(fromBlock, toBlock); err != nil {
				return fmt.Errorf("%s: %w", reindexFailed, err)
			}

			if err := reindexRange(ctx, cmd.OutOrStdout(), n.Indexer(), fromBlock, toBlock, conf.Events.ChunkSize); err != nil {
				return fmt.Errorf("%s: %w", reindexFailed, err)
			}
			logger.Info("event re-index finished", "from", fromBlock, "to", toBlock)
			return nil
		},
	}

	cmd.Flags().Int64Var(&fromBlock, "from", 0, "first block to re-index")
	cmd.Flags().Int64Var(&toBlock, "to", 0, "last block to re-index (0: current block)")
	return cmd
}

func checkValidBlockArgs(from, to int64) error {
	if from < 0 || to < 0 {
		return errors.New("block numbers can't be negative")
	}
	if from > to {
		return fmt.Errorf("from block %d is after to block %d", from, to)
	}
	return nil
}

// blockRangeProcessor is the part of the indexer reindex drives.
type blockRangeProcessor interface {
	ProcessBlockRange(ctx context.Context, from, to int64) error
}

func reindexRange(ctx context.Context, out io.Writer, ix blockRangeProcessor, from, to, chunk int64) error {
	if chunk <= 0 {
		chunk = 1
	}
	var bar progressbar.Bar
	bar.SetOutput(out)
	bar.NewOption(from, to)

	for start := from; start <= to; start += chunk {
		end := start + chunk - 1
		if end > to {
			end = to
		}
		if err := ix.ProcessBlockRange(ctx, start, end); err != nil {
			return fmt.Errorf("blocks %d-%d: %w", start, end, err)
		}
		bar.Play(end)
	}
	bar.Finish()
	return nil
}
