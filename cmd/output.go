package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewOutputCommand() *cobra.Command {
	outputCmd := &cobra.Command{
		Use:   "output [id]",
		Short: "Stream a managed engine's terminal output",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			command := "OUTPUT"
			if len(args) == 1 {
				command += " " + args[0]
			}
			if err := daemon.StreamCommand(command, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Could not reach daemon: %v\n", err)
				os.Exit(1)
			}
		},
	}
	return outputCmd
}
