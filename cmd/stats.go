package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache statistics from the running daemon",
	RunE:         runStats,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := connectToDaemon(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Stats()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(stats))
	width := 0
	for name := range stats {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%-*s  %s\n", width, name, stats[name].String())
	}

	return nil
}
