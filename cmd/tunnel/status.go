package tunnel

import (
	"fmt"
	"net/url"
	"strings"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var statusName string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status or the status of one tunnel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusName != "" {
			var view models.TunnelView
			if err := getJSON("/api/tunnels/"+url.PathEscape(statusName), &view); err != nil {
				return err
			}
			printTunnelDetail(view)
			return nil
		}
		var st models.StatusResponse
		if err := getJSON("/api/status", &st); err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

func printTunnelDetail(v models.TunnelView) {
	fmt.Printf("Service:   %s\n", v.ServiceName)
	fmt.Printf("Type:      %s\n", v.TunnelType)
	fmt.Printf("State:     %s\n", v.State)
	fmt.Printf("Local:     %s\n", v.LocalURL)
	if v.URL != nil {
		fmt.Printf("URL:       %s\n", *v.URL)
	} else {
		fmt.Printf("URL:       -\n")
	}
	fmt.Printf("Running:   %t\n", v.IsRunning)
	if r := formatRemaining(v.TimeRemainingSeconds); r != "" {
		fmt.Printf("Remaining: %s\n", r)
	}
}

func printStatus(st models.StatusResponse) {
	fmt.Printf("Local IP:          %s\n", st.LocalIP)
	fmt.Printf("Default lifetime:  %gh\n", st.DefaultTunnelDurationHours)
	fmt.Printf("Running tunnels:   %d/%d\n", st.ActiveTunnelsCount, len(st.ActiveTunnels))
	named := st.NamedTunnelStatus
	fmt.Printf("Named tunnel:      configured=%t active=%t hostnames=%s\n",
		named.Configured, named.ServiceActive, strings.Join(named.Hostnames, ","))
	if named.AdminRequired && !named.SudoAvailable {
		fmt.Println("                   persistent tunnels need root or passwordless sudo")
	}
	if named.Error != "" {
		fmt.Printf("                   error: %s\n", named.Error)
	}

	if len(st.ActiveTunnels) > 0 {
		fmt.Println()
		utils.PrintFormat(tunnelRows(st.ActiveTunnels))
	}
	if len(st.Services) > 0 {
		fmt.Println()
		var dataList []*orderedmap.OrderedMap
		for _, svc := range st.Services {
			row := struct {
				Service string `json:"service"`
				Status  string `json:"status"`
				Ports   []int  `json:"ports"`
			}{svc.Name, svc.Status, svc.Ports}
			recordMap, _ := utils.StructToOrderedMap(row)
			dataList = append(dataList, recordMap)
		}
		utils.PrintFormat(dataList)
	}
}

func init() {
	statusCmd.Flags().StringVarP(&statusName, "name", "n", "", "Only show this service")
	tunnelCmd.AddCommand(statusCmd)
}
