package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewAdoptCommand() *cobra.Command {
	var projectRoot string

	adoptCmd := &cobra.Command{
		Use:   "adopt <pid>",
		Short: "Adopt an already-running engine process by pid",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			daemon.EnsureDaemonIsRunning()

			if projectRoot == "" {
				projectRoot, _ = os.Getwd()
			}
			abs, err := filepath.Abs(projectRoot)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			response, err := daemon.SendCommand(fmt.Sprintf("ADOPT %s %s", args[0], abs))
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
	adoptCmd.Flags().StringVarP(&projectRoot, "project", "p", "", "project root (default: current directory)")

	return adoptCmd
}
