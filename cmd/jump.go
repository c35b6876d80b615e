package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewJumpCommand() *cobra.Command {
	jumpCmd := &cobra.Command{
		Use:   "jump <label> [id]",
		Short: "Send the engine to a named section",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("JUMP " + strings.Join(args, " "))
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
	return jumpCmd
}
