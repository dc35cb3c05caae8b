package tunnel

import (
	"errors"
	"fmt"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"

	"github.com/spf13/cobra"
)

var (
	startName     string
	startPort     int
	startDuration float64
	startType     string
	startDomain   string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start (or renew) the tunnel of a service",
	Long: `Start the tunnel of a service through the running server.
Starting a service whose tunnel is alive on the same port extends its expiration instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if startName == "" {
			return errors.New("must specify service name (--name)")
		}
		req := models.StartTunnelRequest{
			ServiceName:  startName,
			Port:         startPort,
			TunnelType:   startType,
			CustomDomain: startDomain,
		}
		if cmd.Flags().Changed("duration") {
			req.DurationHours = &startDuration
		}
		if startPort > 0 && (startType == "" || startType == string(models.KindEphemeral)) && utils.CheckPortAvailable(startPort) {
			fmt.Printf("Warning: nothing is listening on port %d yet\n", startPort)
		}
		// 只经由服务端启动，本地不回退
		result, err := callTunnelAPI("/api/start-tunnel", req)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil
	},
}

func init() {
	startCmd.Flags().SortFlags = false
	startCmd.Flags().StringVarP(&startName, "name", "n", "", "Service name")
	startCmd.Flags().IntVarP(&startPort, "port", "p", 0, "Local port of the service")
	startCmd.Flags().Float64VarP(&startDuration, "duration", "d", 0, "Lifetime in hours (default from server config)")
	startCmd.Flags().StringVarP(&startType, "type", "t", "", "Tunnel type: ephemeral or persistent")
	startCmd.Flags().StringVar(&startDomain, "domain", "", "Custom domain, required for persistent tunnels")

	tunnelCmd.AddCommand(startCmd)
}
