package cmd

import (
	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Stagehand - game engine process supervisor",
		Long: `Stagehand supervises game engine processes under development and keeps
them synchronized with the cursor position in a text editor.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = core.DefaultConfigPath()
			}
			if err := core.LoadConfig(configPath); err != nil {
				return err
			}
			if verbose > 0 {
				core.Config.Verbose = verbose
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "config path (default ~/.config/stagehand)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewDaemonCommand(),
		NewLaunchCommand(),
		NewAdoptCommand(),
		NewStatusCommand(),
		NewLabelsCommand(),
		NewJumpCommand(),
		NewWarpCommand(),
		NewFollowCommand(),
		NewReloadCommand(),
		NewKillCommand(),
		NewHistoryCommand(),
		NewOutputCommand(),
		NewLogsCommand(),
		NewVersionCommand(),
		NewQuitCommand(),
	)

	return rootCmd
}
