/*
Copyright © 2022 zbc <zbc@sangfor.com.cn>
*/
package tunnel

import (
	"tunnel-keeper/cmd/root"

	"github.com/spf13/cobra"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Tunnel operations (list, start/stop etc.)",
	Long:  `Tunnel operations (list, start/stop etc.), executed by the running tunnel-keeper server`,
}

const tunnelExample = `  # expose grafana on port 3000 for 2 hours
  tunnel-keeper tunnel start -n grafana -p 3000 -d 2

  # publish through the named tunnel under a custom domain
  tunnel-keeper tunnel start -n grafana -p 3000 -t persistent --domain grafana.example.com

  # follow lifecycle events
  tunnel-keeper tunnel watch`

func init() {
	root.RootCmd.AddCommand(tunnelCmd)

	tunnelCmd.Example = tunnelExample
}
