package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewFollowCommand() *cobra.Command {
	var off bool

	followCmd := &cobra.Command{
		Use:   "follow [id]",
		Short: "Synchronize the editor cursor with one engine process",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			command := "FOLLOW"
			if off {
				command = "UNFOLLOW"
			} else if len(args) == 1 {
				command += " " + args[0]
			}
			response, err := daemon.SendCommand(command)
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
	followCmd.Flags().BoolVar(&off, "off", false, "turn cursor follow off")

	return followCmd
}
