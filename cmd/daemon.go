package cmd

import (
	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the supervisor daemon in the foreground",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			d := daemon.New()
			d.Run()
		},
	}
	return daemonCmd
}
