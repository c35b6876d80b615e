package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show all supervised engine processes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Warn("No processes (daemon is not running).")
				return
			}

			jsonBytes, _ := json.Marshal(response.Data)
			statuses := []daemon.ProcessStatus{}
			json.Unmarshal(jsonBytes, &statuses)

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				if len(statuses) == 0 {
					fmt.Println("No supervised processes.")
					return
				}
				fmt.Println("Supervised processes:")
				for _, status := range statuses {
					kind := "adopted"
					if status.Managed {
						kind = "managed"
					}
					line := fmt.Sprintf("  - #%d PID %d (%s) %s", status.ID, status.Pid, kind, status.ProjectRoot)
					if status.Connected {
						line += " [connected]"
					}
					if status.Following {
						line += " [following]"
					}
					if status.CurrentLabel != "" {
						line += " @" + status.CurrentLabel
					}
					if status.CursorPath != "" {
						line += fmt.Sprintf(" %s:%d", status.CursorPath, status.CursorLine)
					}
					fmt.Println(line)
				}
			case "json":
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}
