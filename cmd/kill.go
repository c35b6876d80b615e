package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewKillCommand() *cobra.Command {
	killCmd := &cobra.Command{
		Use:   "kill <id|all>",
		Short: "Force-terminate a supervised process (or all of them)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("KILL " + args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Could not reach daemon: %v\n", err)
				os.Exit(1)
			}
			response.LogMessages()
			if response.HasError() {
				os.Exit(1)
			}
		},
	}
	return killCmd
}
