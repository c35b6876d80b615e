package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.olrik.dev/stagehand/internal/core"
	"go.olrik.dev/stagehand/internal/daemon"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stagehand %s\n", core.FormatVersion(core.Version))

			response, err := daemon.SendCommand("VERSION")
			if err != nil {
				fmt.Println("daemon not running")
				return
			}
			jsonBytes, _ := json.Marshal(response.Data)
			var data struct {
				Version    string `json:"version"`
				Pid        int    `json:"pid"`
				EnginePort int    `json:"engine_port"`
			}
			json.Unmarshal(jsonBytes, &data)
			fmt.Printf("daemon %s (PID %d, engine port %d)\n",
				core.FormatVersion(data.Version), data.Pid, data.EnginePort)
		},
	}
	return versionCmd
}
