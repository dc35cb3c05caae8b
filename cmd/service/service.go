/*
Copyright © 2022 zbc <zbc@sangfor.com.cn>
*/
package service

import (
	"tunnel-keeper/cmd/root"

	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Host service operations (list)",
	Long:  `Host service operations: list docker services that can be exposed through a tunnel`,
}

const serviceExample = `  # list docker services and their published ports
  tunnel-keeper service list`

func init() {
	root.RootCmd.AddCommand(serviceCmd)

	serviceCmd.Example = serviceExample
}
