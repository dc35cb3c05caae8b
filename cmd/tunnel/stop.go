package tunnel

import (
	"errors"
	"fmt"

	"tunnel-keeper/internal/models"

	"github.com/spf13/cobra"
)

var stopName string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tunnel of a service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopName == "" && len(args) > 0 {
			stopName = args[0]
		}
		if stopName == "" {
			return errors.New("must specify service name (--name)")
		}
		result, err := callTunnelAPI("/api/stop-tunnel", models.StopTunnelRequest{ServiceName: stopName})
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopName, "name", "n", "", "Service name")
	tunnelCmd.AddCommand(stopCmd)
}
