package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewLogsCommand() *cobra.Command {
	var lines int

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream daemon logs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			command := "LOGS " + strconv.Itoa(lines)
			if err := daemon.StreamCommand(command, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Could not reach daemon: %v\n", err)
				os.Exit(1)
			}
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 20, "history lines to replay first")

	return logsCmd
}
