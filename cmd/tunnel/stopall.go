package tunnel

import (
	"errors"
	"fmt"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/utils"

	"github.com/spf13/cobra"
)

var stopAllCmd = &cobra.Command{
	Use:   "stopall",
	Short: "Stop all tunnels",
	Long: `Stop all tunnels through the running server.
When the server is not running, leftover quick tunnel agent processes are killed locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := callTunnelAPI("/api/stop-all", nil)
		if err == nil {
			fmt.Println(result.Message)
			return nil
		}
		var unreachable *unreachableError
		if !errors.As(err, &unreachable) {
			return err
		}

		logger.Warnf("Server unreachable, killing agent processes locally: %v", err)
		name := utils.Path2ProcessName(config.Get().Tunnel.Command)
		n, killErr := utils.KillProcessesMatching(name, "--url")
		if killErr != nil {
			return fmt.Errorf("server unreachable and local kill failed: %w", killErr)
		}
		fmt.Printf("Server not running, killed %d %s processes locally\n", n, name)
		return nil
	},
}

func init() {
	tunnelCmd.AddCommand(stopAllCmd)
}
