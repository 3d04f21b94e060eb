package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/aquarius/version"
)

// MakeVersionCommand returns the command that prints the version.
func MakeVersionCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
				return nil
			}
			values, err := json.MarshalIndent(struct {
				Software  string `json:"software"`
				Version   string `json:"version"`
				GitCommit string `json:"git_commit,omitempty"`
			}{
				Software:  version.Software,
				Version:   version.AquariusSemVer,
				GitCommit: version.GitCommit,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(values))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the git commit")
	return cmd
}
