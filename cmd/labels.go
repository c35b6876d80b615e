package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewLabelsCommand() *cobra.Command {
	labelsCmd := &cobra.Command{
		Use:   "labels [id]",
		Short: "List the jump targets the engine has reported",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			command := "LABELS"
			if len(args) == 1 {
				command += " " + args[0]
			}
			response, err := daemon.SendCommand(command)
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
				Labels []string `json:"labels"`
			}
			json.Unmarshal(jsonBytes, &data)
			for _, label := range data.Labels {
				fmt.Println(label)
			}
		},
	}
	return labelsCmd
}
