package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:          "shutdown",
	Short:        "Stop the running daemon",
	RunE:         runShutdown,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func runShutdown(cmd *cobra.Command, args []string) error {
	c, err := connectToDaemon(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Shutdown(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "sccache: server shut down")

	return nil
}
