package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show logged lifecycle events for a process",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			response, err := daemon.SendCommand(fmt.Sprintf("HISTORY %s %d", args[0], limit))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Could not reach daemon: %v\n", err)
				os.Exit(1)
			}
			if response.HasError() {
				response.LogMessages()
				os.Exit(1)
			}

			jsonBytes, _ := json.Marshal(response.Data)
			var data struct {
				Events []struct {
					Type      string `json:"type"`
					Details   string `json:"details"`
					Timestamp string `json:"timestamp"`
				} `json:"events"`
			}
			json.Unmarshal(jsonBytes, &data)

			if len(data.Events) == 0 {
				fmt.Println("No events recorded.")
				return
			}
			for _, e := range data.Events {
				line := fmt.Sprintf("%s  %-8s", e.Timestamp, e.Type)
				if e.Details != "" {
					line += "  " + e.Details
				}
				fmt.Println(strings.TrimRight(line, " "))
			}
		},
	}
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of events to show")
	return historyCmd
}
