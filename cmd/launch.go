package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewLaunchCommand() *cobra.Command {
	var projectRoot string

	launchCmd := &cobra.Command{
		Use:   "launch <cmd> [args...]",
		Short: "Launch a game engine process under supervision",
		Args:  cobra.MinimumNArgs(1),
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

			response, err := daemon.SendCommand(
				fmt.Sprintf("LAUNCH %s %s", abs, strings.Join(args, " ")))
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
	launchCmd.Flags().StringVarP(&projectRoot, "project", "p", "", "project root (default: current directory)")

	return launchCmd
}
