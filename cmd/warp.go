package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewWarpCommand() *cobra.Command {
	warpCmd := &cobra.Command{
		Use:   "warp <file> <line> [id]",
		Short: "Send the engine to a source location (1-indexed line)",
		Args:  cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("WARP " + strings.Join(args, " "))
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
	return warpCmd
}
