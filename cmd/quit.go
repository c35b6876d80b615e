package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewQuitCommand() *cobra.Command {
	quitCmd := &cobra.Command{
		Use:   "quit",
		Short: "Stop the daemon, killing managed processes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STOP")
			if err != nil {
				fmt.Fprintln(os.Stderr, "Daemon is not running.")
				return
			}
			response.LogMessages()
		},
	}
	return quitCmd
}
