package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewReloadCommand() *cobra.Command {
	reloadCmd := &cobra.Command{
		Use:   "reload [id]",
		Short: "Arm the engine's reload-on-change behavior",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			command := strings.TrimSpace("AUTORELOAD " + strings.Join(args, " "))
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
	return reloadCmd
}
