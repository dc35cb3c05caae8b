package tunnel

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dump in-memory records, agent processes and the state file",
	RunE: func(cmd *cobra.Command, args []string) error {
		var info map[string]interface{}
		if err := getJSON("/api/debug", &info); err != nil {
			return err
		}
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	tunnelCmd.AddCommand(debugCmd)
}
